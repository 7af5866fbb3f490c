package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the lead processing worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("worker pool starting",
			zap.String("queue", cfg.Queue.Name),
			zap.Int("concurrency", cfg.Worker.Concurrency),
			zap.String("crm_provider", cfg.CRM.Provider),
		)

		g, runCtx := errgroup.WithContext(ctx)
		g.Go(func() error { return env.Worker.Run(runCtx) })
		g.Go(func() error { return env.DLQ.Run(runCtx) })

		err = g.Wait()
		zap.L().Info("worker pool stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
