package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/queue"
)

var dlqLimit int

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and manage the dead-letter queue",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb, err := initRedis(cmd.Context())
		if err != nil {
			return err
		}
		defer rdb.Close() //nolint:errcheck

		q := queue.NewClient(rdb, queue.Config{})
		entries, err := q.ListDLQ(cmd.Context(), cfg.Queue.Name, int64(dlqLimit))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

var dlqRequeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Move dead-lettered jobs back onto the main queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb, err := initRedis(cmd.Context())
		if err != nil {
			return err
		}
		defer rdb.Close() //nolint:errcheck

		q := queue.NewClient(rdb, queue.Config{MaxAttempts: cfg.Queue.MaxAttempts})
		n, err := q.RequeueDLQ(cmd.Context(), cfg.Queue.Name, dlqLimit)
		if err != nil {
			return err
		}
		zap.L().Info("dlq entries requeued", zap.Int("count", n))
		return nil
	},
}

func init() {
	dlqCmd.PersistentFlags().IntVar(&dlqLimit, "limit", 100, "maximum entries to touch")
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRequeueCmd)
	rootCmd.AddCommand(dlqCmd)
}
