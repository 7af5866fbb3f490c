package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/metrics"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/queue"
	"github.com/sells-group/lead-pipeline/internal/store"
)

// DLQProcessor drains the dead-letter queue, marking each lead permanently
// failed and recording the final error.
type DLQProcessor struct {
	queue     *queue.Client
	queueName string
	store     store.Store
	m         *metrics.Metrics
	interval  time.Duration
}

// NewDLQProcessor creates a DLQ processor polling at the given interval.
func NewDLQProcessor(q *queue.Client, queueName string, st store.Store, m *metrics.Metrics, interval time.Duration) *DLQProcessor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &DLQProcessor{queue: q, queueName: queueName, store: st, m: m, interval: interval}
}

// Run polls until ctx is cancelled.
func (p *DLQProcessor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Drain(ctx); err != nil {
				zap.L().Warn("dlq: drain failed", zap.Error(err))
			}
		}
	}
}

// Drain processes every currently queued DLQ entry.
func (p *DLQProcessor) Drain(ctx context.Context) error {
	for {
		entry, err := p.queue.PopDLQ(ctx, p.queueName)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		p.processEntry(ctx, entry)
	}
}

func (p *DLQProcessor) processEntry(ctx context.Context, entry *model.DLQEntry) {
	logger := zap.L().With(
		zap.String("job_id", entry.OriginalJobID),
		zap.Int64("lead_id", entry.LeadID),
		zap.Int("attempts", entry.AttemptsMade),
	)

	if err := p.store.RecordPermanentFailure(ctx, entry); err != nil {
		logger.Warn("dlq: record failure", zap.Error(err))
	}

	err := p.store.UpdateLeadStatus(ctx, entry.LeadID, model.LeadStatusPermanentlyFailed)
	switch {
	case err == nil:
		p.m.LeadsProcessed.WithLabelValues(string(model.LeadStatusPermanentlyFailed)).Inc()
		logger.Error("dlq: lead permanently failed", zap.String("error", entry.Error))
	case errors.Is(err, store.ErrNotFound):
		logger.Warn("dlq: lead missing for exhausted job")
	default:
		logger.Warn("dlq: update lead status", zap.Error(err))
	}
}
