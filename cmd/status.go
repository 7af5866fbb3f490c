package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/queue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarise queue depths and lead states",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rdb, err := initRedis(ctx)
		if err != nil {
			return err
		}
		defer rdb.Close() //nolint:errcheck

		q := queue.NewClient(rdb, queue.Config{})
		wait, active, delayed, err := q.Depths(ctx, cfg.Queue.Name)
		if err != nil {
			return err
		}
		dlqDepth, _, _, err := q.Depths(ctx, queue.DLQName(cfg.Queue.Name))
		if err != nil {
			return err
		}
		counts, err := st.CountLeadsByStatus(ctx)
		if err != nil {
			return err
		}

		leadCounts := make(map[string]int, len(counts))
		for status, n := range counts {
			leadCounts[string(status)] = n
		}

		snapshot := map[string]any{
			"queue": map[string]any{
				"name":    cfg.Queue.Name,
				"wait":    wait,
				"active":  active,
				"delayed": delayed,
				"dlq":     dlqDepth,
			},
			"leads": leadCounts,
			"terminal": map[string]int{
				"synced":             leadCounts[string(model.LeadStatusSynced)],
				"ai_rejected":        leadCounts[string(model.LeadStatusAIRejected)],
				"permanently_failed": leadCounts[string(model.LeadStatusPermanentlyFailed)],
			},
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
