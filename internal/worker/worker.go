package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-pipeline/internal/enrich"
	"github.com/sells-group/lead-pipeline/internal/grounding"
	"github.com/sells-group/lead-pipeline/internal/mcp"
	"github.com/sells-group/lead-pipeline/internal/metrics"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/queue"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/store"
)

// Config tunes the worker pool.
type Config struct {
	QueueName string
	// Concurrency is the number of parallel consumers in this process.
	// Default: 4.
	Concurrency int
	// JobTimeout caps one job's wall clock. Default: 60s.
	JobTimeout time.Duration
	// ShutdownGrace is how long in-flight jobs may finish after a shutdown
	// signal. Default: 25s.
	ShutdownGrace time.Duration
	// LeaseRenewal is how often held leases are renewed. Default: 20s.
	LeaseRenewal time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueName == "" {
		c.QueueName = "lead-processing"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 60 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 25 * time.Second
	}
	if c.LeaseRenewal <= 0 {
		c.LeaseRenewal = 20 * time.Second
	}
	return c
}

// nonRetryableError marks a job failure that must not be redelivered.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// Worker is one process's pool of lead consumers.
type Worker struct {
	cfg    Config
	queue  *queue.Client
	store  store.Store
	ai     AIProvider
	enrich enrich.Provider
	orch   ActionOrchestrator
	m      *metrics.Metrics

	nowFunc func() time.Time
}

// New creates a worker pool.
func New(cfg Config, q *queue.Client, st store.Store, ai AIProvider, ep enrich.Provider, orch ActionOrchestrator, m *metrics.Metrics) *Worker {
	return &Worker{
		cfg:     cfg.withDefaults(),
		queue:   q,
		store:   st,
		ai:      ai,
		enrich:  ep,
		orch:    orch,
		m:       m,
		nowFunc: time.Now,
	}
}

// Run leases and processes jobs until ctx is cancelled. On shutdown no new
// leases are taken; in-flight jobs get the grace period, then their contexts
// are cancelled and the queue redelivers.
func (w *Worker) Run(ctx context.Context) error {
	g, leaseCtx := errgroup.WithContext(ctx)

	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				leased, err := w.queue.Lease(leaseCtx, w.cfg.QueueName)
				if err != nil {
					if leaseCtx.Err() != nil {
						return nil // graceful stop
					}
					zap.L().Warn("worker: lease failed, backing off", zap.Error(err))
					select {
					case <-leaseCtx.Done():
						return nil
					case <-time.After(2 * time.Second):
					}
					continue
				}

				w.handleJob(leaseCtx, leased)
			}
		})
	}

	return g.Wait()
}

// handleJob runs one leased job end to end and settles it with the queue.
func (w *Worker) handleJob(parent context.Context, leased *queue.LeasedJob) {
	// In-flight work survives a shutdown signal for the grace period.
	base := context.WithoutCancel(parent)
	timeout := w.cfg.JobTimeout
	jobCtx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	stopRenewal := w.renewLease(jobCtx, leased)
	defer stopRenewal()

	if parentDone := parent.Done(); parentDone != nil {
		go func() {
			select {
			case <-parentDone:
				// Grace period after shutdown, then abort.
				t := time.NewTimer(w.cfg.ShutdownGrace)
				defer t.Stop()
				select {
				case <-t.C:
					cancel()
				case <-jobCtx.Done():
				}
			case <-jobCtx.Done():
			}
		}()
	}

	err := w.process(jobCtx, leased.Job)
	w.settle(base, leased, err)
}

// settle acks or fails the job with the queue according to the error kind.
func (w *Worker) settle(ctx context.Context, leased *queue.LeasedJob, procErr error) {
	settleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if procErr == nil {
		if err := w.queue.Ack(settleCtx, leased); err != nil {
			zap.L().Warn("worker: ack failed", zap.String("job_id", leased.Job.ID), zap.Error(err))
		}
		return
	}

	var nre *nonRetryableError
	if errors.As(procErr, &nre) {
		zap.L().Error("worker: job failed permanently",
			zap.String("job_id", leased.Job.ID),
			zap.Int64("lead_id", leased.Job.Data.LeadID),
			zap.Error(procErr),
		)
		if err := w.queue.Ack(settleCtx, leased); err != nil {
			zap.L().Warn("worker: ack failed", zap.String("job_id", leased.Job.ID), zap.Error(err))
		}
		return
	}

	// Rate-limited failures carry a minimum delay before redelivery.
	var minDelay time.Duration
	if rle, ok := resilience.IsRateLimited(procErr); ok {
		minDelay = rle.RetryAfter
	}

	movedToDLQ, err := w.queue.Fail(settleCtx, leased, procErr, minDelay)
	if err != nil {
		zap.L().Error("worker: fail bookkeeping failed", zap.String("job_id", leased.Job.ID), zap.Error(err))
		return
	}
	if movedToDLQ {
		zap.L().Warn("worker: job exhausted retries",
			zap.String("job_id", leased.Job.ID),
			zap.Int64("lead_id", leased.Job.Data.LeadID),
		)
	}
}

// renewLease keeps the lease alive while the job runs.
func (w *Worker) renewLease(ctx context.Context, leased *queue.LeasedJob) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.cfg.LeaseRenewal)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.queue.RenewLease(ctx, leased); err != nil {
					zap.L().Warn("worker: lease renewal failed", zap.String("job_id", leased.Job.ID), zap.Error(err))
				}
			}
		}
	}()
	return func() { close(done) }
}

// process executes the single-job pipeline: load, enrich, analyze, ground,
// persist, act.
func (w *Worker) process(ctx context.Context, job model.Job) error {
	logger := zap.L().With(
		zap.String("job_id", job.ID),
		zap.Int64("lead_id", job.Data.LeadID),
		zap.Int("attempt", job.Attempts+1),
	)

	lead, err := w.store.GetLead(ctx, job.Data.LeadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &nonRetryableError{err: eris.Wrap(err, "worker: lead missing")}
		}
		return eris.Wrap(err, "worker: load lead")
	}

	enrichment := w.lookupEnrichment(ctx, lead, logger)
	if enrichment != nil {
		if err := w.store.UpdateLeadEnrichment(ctx, lead.ID, enrichment.AsMap()); err != nil {
			logger.Warn("worker: persist enrichment failed", zap.Error(err))
		}
	}

	analysis := w.analyze(ctx, lead, enrichment, logger)
	analysis = grounding.Validate(analysis, enrichment)

	if err := w.store.UpdateLeadAnalysis(ctx, lead.ID, analysis); err != nil {
		return eris.Wrap(err, "worker: persist analysis")
	}
	lead.Status = model.LeadStatusEnriched

	if analysis.GroundingStatus == model.GroundingRejected {
		if err := w.store.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusAIRejected); err != nil {
			return eris.Wrap(err, "worker: mark rejected")
		}
		w.m.LeadsProcessed.WithLabelValues(string(model.LeadStatusAIRejected)).Inc()
		logger.Info("worker: analysis rejected by grounding",
			zap.Strings("errors", analysis.GroundingErrors))
		return nil
	}

	outcome := w.orch.Execute(ctx, lead, analysis, enrichment)
	switch outcome.Status {
	case mcp.StatusCompleted:
		if err := w.store.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusSynced); err != nil {
			return eris.Wrap(err, "worker: mark synced")
		}
		w.m.LeadsProcessed.WithLabelValues(string(model.LeadStatusSynced)).Inc()
		logger.Info("worker: lead synced to crm",
			zap.String("execution_id", outcome.ExecutionID),
			zap.Int("actions", len(outcome.Actions)),
			zap.Int("action_errors", len(outcome.Errors)),
		)
		return nil

	case mcp.StatusRejectedByGrounding:
		if err := w.store.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusAIRejected); err != nil {
			return eris.Wrap(err, "worker: mark rejected")
		}
		w.m.LeadsProcessed.WithLabelValues(string(model.LeadStatusAIRejected)).Inc()
		return nil

	case mcp.StatusRateLimited:
		if err := w.store.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusMCPBlocked); err != nil {
			logger.Warn("worker: mark blocked failed", zap.Error(err))
		}
		w.m.LeadsProcessed.WithLabelValues(string(model.LeadStatusMCPBlocked)).Inc()
		// Retryable: the attempt counts, retryAfter is the delay floor.
		return &resilience.RateLimitedError{Tier: "mcp", RetryAfter: outcome.RetryAfter}

	default: // mcp.StatusBlocked
		if err := w.store.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusMCPBlocked); err != nil {
			logger.Warn("worker: mark blocked failed", zap.Error(err))
		}
		w.m.LeadsProcessed.WithLabelValues(string(model.LeadStatusMCPBlocked)).Inc()
		if outcome.Retryable {
			// Transient executor failure on a critical action: back to the
			// queue for backoff until attempts are exhausted.
			logger.Warn("worker: mcp halted on transient failure",
				zap.Strings("errors", outcome.Errors))
			return resilience.NewTransientError(
				eris.New("mcp transient failure: "+firstOr(outcome.Errors, "unknown")), 0)
		}
		logger.Error("worker: mcp blocked execution", zap.Strings("errors", outcome.Errors))
		return &nonRetryableError{err: eris.New("mcp blocked: " + firstOr(outcome.Errors, "unknown"))}
	}
}

// lookupEnrichment treats provider failures as absent data.
func (w *Worker) lookupEnrichment(ctx context.Context, lead *model.Lead, logger *zap.Logger) *model.CompanyData {
	domain := lead.EmailDomain()
	if domain == "" {
		return nil
	}
	enrichment, err := w.enrich.GetCompanyByDomain(ctx, domain)
	if err != nil {
		logger.Warn("worker: enrichment lookup failed", zap.String("domain", domain), zap.Error(err))
		return nil
	}
	return enrichment
}

// analyze calls the AI provider, substituting the fallback analysis on error.
func (w *Worker) analyze(ctx context.Context, lead *model.Lead, enrichment *model.CompanyData, logger *zap.Logger) *model.AnalysisResult {
	start := w.nowFunc()
	analysis, err := w.ai.AnalyzeLead(ctx, lead, enrichment)
	w.m.AIAnalysisDuration.Observe(w.nowFunc().Sub(start).Seconds())

	if err != nil {
		logger.Warn("worker: ai analysis failed, using fallback", zap.Error(err))
		return model.FallbackAnalysis(err.Error())
	}
	return analysis
}

func firstOr(list []string, fallback string) string {
	if len(list) == 0 {
		return fallback
	}
	return list[0]
}
