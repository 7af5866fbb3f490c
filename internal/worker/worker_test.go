package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/enrich"
	"github.com/sells-group/lead-pipeline/internal/mcp"
	"github.com/sells-group/lead-pipeline/internal/metrics"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/store"
	"github.com/sells-group/lead-pipeline/internal/tools"
)

// stubAI returns a canned analysis or error.
type stubAI struct {
	analysis *model.AnalysisResult
	err      error
}

func (s *stubAI) AnalyzeLead(_ context.Context, _ *model.Lead, _ *model.CompanyData) (*model.AnalysisResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	// Return a copy: the validator mutates its input.
	a := *s.analysis
	a.Evidence = append([]model.Evidence(nil), s.analysis.Evidence...)
	return &a, nil
}

// stubOrch returns a canned outcome.
type stubOrch struct {
	outcome mcp.Outcome
	calls   int
}

func (s *stubOrch) Execute(_ context.Context, _ *model.Lead, _ *model.AnalysisResult, _ *model.CompanyData) mcp.Outcome {
	s.calls++
	return s.outcome
}

func goodAnalysis() *model.AnalysisResult {
	return &model.AnalysisResult{
		FitScore: 90,
		Intent:   model.IntentHighFit,
		Decision: model.DecisionRouteToSDR,
		Evidence: []model.Evidence{
			{Source: model.SourceEnrichment, FieldPath: "enrichment.industry", Value: "Fintech", ClaimType: model.ClaimFirmographic},
			{Source: model.SourceMarketo, FieldPath: "marketo.campaign_id", Value: "launch", ClaimType: model.ClaimBehavior},
		},
	}
}

func fintechProvider() enrich.Provider {
	return enrich.NewStaticProvider(map[string]*model.CompanyData{
		"acme.com": {Name: "Acme Financial", Domain: "acme.com", Industry: "Fintech", Employees: 250},
	})
}

func newSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedLead(t *testing.T, s store.Store, email string) *model.Lead {
	t.Helper()
	lead, _, err := s.CreateLead(context.Background(), &model.Lead{
		IdempotencyKey: model.IdempotencyKey(email, "spring"),
		Email:          email,
		CampaignID:     "spring",
		Name:           "Jane Doe",
	})
	require.NoError(t, err)
	return lead
}

func newTestWorker(st store.Store, ai AIProvider, orch ActionOrchestrator) *Worker {
	return New(Config{}, nil, st, ai, fintechProvider(), orch, metrics.NewInert())
}

func TestProcess_HappyPath(t *testing.T) {
	st := newSQLiteStore(t)
	lead := seedLead(t, st, "jane@acme.com")
	orch := &stubOrch{outcome: mcp.Outcome{Status: mcp.StatusCompleted, ExecutionID: "exec-1"}}
	w := newTestWorker(st, &stubAI{analysis: goodAnalysis()}, orch)

	err := w.process(context.Background(), model.Job{ID: "j1", Data: model.JobPayload{LeadID: lead.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, orch.calls)

	stored, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusSynced, stored.Status)
	assert.Equal(t, model.GroundingValid, stored.GroundingStatus)
	assert.Equal(t, model.IntentHighFit, stored.Intent)
	assert.Equal(t, "Fintech", stored.EnrichmentData["industry"])
}

func TestProcess_AIFailureFallsBackToManualReview(t *testing.T) {
	st := newSQLiteStore(t)
	lead := seedLead(t, st, "jane@acme.com")
	orch := &stubOrch{}
	w := newTestWorker(st, &stubAI{err: errors.New("model unavailable")}, orch)

	err := w.process(context.Background(), model.Job{ID: "j1", Data: model.JobPayload{LeadID: lead.ID}})
	require.NoError(t, err, "fallback is a terminal outcome, not a retry")
	assert.Zero(t, orch.calls, "no CRM action for a rejected analysis")

	stored, _ := st.GetLead(context.Background(), lead.ID)
	assert.Equal(t, model.LeadStatusAIRejected, stored.Status)
	assert.Equal(t, model.GroundingRejected, stored.GroundingStatus)
	assert.Equal(t, model.IntentManualReview, stored.Intent)
}

func TestProcess_GroundingConflictRejects(t *testing.T) {
	st := newSQLiteStore(t)
	lead := seedLead(t, st, "jane@acme.com")
	orch := &stubOrch{}

	analysis := goodAnalysis()
	analysis.Evidence[0].Value = "Healthcare" // conflicts with enrichment "Fintech"
	w := newTestWorker(st, &stubAI{analysis: analysis}, orch)

	err := w.process(context.Background(), model.Job{ID: "j1", Data: model.JobPayload{LeadID: lead.ID}})
	require.NoError(t, err)
	assert.Zero(t, orch.calls)

	stored, _ := st.GetLead(context.Background(), lead.ID)
	assert.Equal(t, model.LeadStatusAIRejected, stored.Status)
	require.NotEmpty(t, stored.GroundingErrors)
	assert.Contains(t, stored.GroundingErrors[0], "Hallucination detected")
}

func TestProcess_DowngradeStillSyncs(t *testing.T) {
	st := newSQLiteStore(t)
	lead := seedLead(t, st, "jane@acme.com")
	orch := &stubOrch{outcome: mcp.Outcome{Status: mcp.StatusCompleted}}

	analysis := goodAnalysis()
	analysis.FitScore = 95
	analysis.Evidence = analysis.Evidence[:1] // firmographic only
	w := newTestWorker(st, &stubAI{analysis: analysis}, orch)

	err := w.process(context.Background(), model.Job{ID: "j1", Data: model.JobPayload{LeadID: lead.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, orch.calls, "downgraded analyses still reach the CRM")

	stored, _ := st.GetLead(context.Background(), lead.ID)
	assert.Equal(t, model.LeadStatusSynced, stored.Status)
	assert.Equal(t, model.GroundingDowngraded, stored.GroundingStatus)
	assert.Equal(t, model.IntentMediumFit, stored.Intent)
	require.NotNil(t, stored.FitScore)
	assert.LessOrEqual(t, *stored.FitScore, 70)
}

func TestProcess_RateLimitedIsRetryable(t *testing.T) {
	st := newSQLiteStore(t)
	lead := seedLead(t, st, "jane@acme.com")
	orch := &stubOrch{outcome: mcp.Outcome{Status: mcp.StatusRateLimited, RetryAfter: 30 * time.Second}}
	w := newTestWorker(st, &stubAI{analysis: goodAnalysis()}, orch)

	err := w.process(context.Background(), model.Job{ID: "j1", Data: model.JobPayload{LeadID: lead.ID}})
	require.Error(t, err)

	rle, ok := resilience.IsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, rle.RetryAfter)

	stored, _ := st.GetLead(context.Background(), lead.ID)
	assert.Equal(t, model.LeadStatusMCPBlocked, stored.Status)
}

func TestProcess_PermanentBlockIsNonRetryable(t *testing.T) {
	st := newSQLiteStore(t)
	lead := seedLead(t, st, "jane@acme.com")
	orch := &stubOrch{outcome: mcp.Outcome{
		Status: mcp.StatusBlocked,
		Errors: []string{"upsert_lead: REQUIRED_FIELD_MISSING"},
		Halt:   true,
	}}
	w := newTestWorker(st, &stubAI{analysis: goodAnalysis()}, orch)

	err := w.process(context.Background(), model.Job{ID: "j1", Data: model.JobPayload{LeadID: lead.ID}})
	require.Error(t, err)

	var nre *nonRetryableError
	assert.ErrorAs(t, err, &nre)
	assert.False(t, resilience.IsTransient(err))

	stored, _ := st.GetLead(context.Background(), lead.ID)
	assert.Equal(t, model.LeadStatusMCPBlocked, stored.Status)
}

func TestProcess_TransientBlockIsRetryable(t *testing.T) {
	st := newSQLiteStore(t)
	lead := seedLead(t, st, "jane@acme.com")
	orch := &stubOrch{outcome: mcp.Outcome{
		Status:    mcp.StatusBlocked,
		Errors:    []string{"upsert_lead: CRM 503"},
		Halt:      true,
		Retryable: true,
	}}
	w := newTestWorker(st, &stubAI{analysis: goodAnalysis()}, orch)

	err := w.process(context.Background(), model.Job{ID: "j1", Data: model.JobPayload{LeadID: lead.ID}})
	require.Error(t, err)

	// Transient halt: the job must go back to the queue, not be ACKed away.
	var nre *nonRetryableError
	assert.False(t, errors.As(err, &nre))
	assert.True(t, resilience.IsTransient(err))

	// The lead parks at MCP_BLOCKED between attempts; the state machine
	// allows it back to ENRICHED and SYNCED_TO_CRM on a later delivery.
	stored, _ := st.GetLead(context.Background(), lead.ID)
	assert.Equal(t, model.LeadStatusMCPBlocked, stored.Status)
}

func TestProcess_RetriedAfterTransientBlockCanSync(t *testing.T) {
	st := newSQLiteStore(t)
	lead := seedLead(t, st, "jane@acme.com")

	// First delivery halts on a transient failure.
	blocked := &stubOrch{outcome: mcp.Outcome{Status: mcp.StatusBlocked, Halt: true, Retryable: true}}
	w := newTestWorker(st, &stubAI{analysis: goodAnalysis()}, blocked)
	err := w.process(context.Background(), model.Job{ID: "j1", Data: model.JobPayload{LeadID: lead.ID}})
	require.Error(t, err)

	// Redelivery succeeds once the CRM recovers.
	recovered := &stubOrch{outcome: mcp.Outcome{Status: mcp.StatusCompleted}}
	w = newTestWorker(st, &stubAI{analysis: goodAnalysis()}, recovered)
	err = w.process(context.Background(), model.Job{ID: "j1", Data: model.JobPayload{LeadID: lead.ID}, Attempts: 1})
	require.NoError(t, err)

	stored, _ := st.GetLead(context.Background(), lead.ID)
	assert.Equal(t, model.LeadStatusSynced, stored.Status)
}

func TestProcess_MissingLeadIsNonRetryable(t *testing.T) {
	st := newSQLiteStore(t)
	w := newTestWorker(st, &stubAI{analysis: goodAnalysis()}, &stubOrch{})

	err := w.process(context.Background(), model.Job{ID: "j1", Data: model.JobPayload{LeadID: 9999}})
	require.Error(t, err)

	var nre *nonRetryableError
	assert.ErrorAs(t, err, &nre)
}

// --- integration: worker + real orchestrator + mock executor ---

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (f *fakeCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounter) Expire(_ context.Context, _ string, _ time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = make(map[string]string)
	}
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func TestProcess_EndToEndAuditTrail(t *testing.T) {
	st := newSQLiteStore(t)
	lead := seedLead(t, st, "jane@acme.com")

	guard := mcp.NewSafetyGuard()
	registry := tools.NewRegistry(guard.CheckToolName)
	require.NoError(t, tools.RegisterStandardTools(registry, tools.NewMockExecutorWithLatency(0, 0)))

	orch := mcp.NewOrchestrator(
		registry,
		tools.NewMockExecutorWithLatency(0, 0),
		guard,
		mcp.NewTieredLimiter(&fakeCounter{}, mcp.DefaultLimiterConfig()),
		mcp.NewIdempotencyStore(&fakeKV{}, time.Hour, 48*time.Hour),
		resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig(), nil),
		st,
		metrics.NewInert(),
	)
	w := New(Config{}, nil, st, &stubAI{analysis: goodAnalysis()}, fintechProvider(), orch, metrics.NewInert())

	ctx := context.Background()
	require.NoError(t, w.process(ctx, model.Job{ID: "j1", Data: model.JobPayload{LeadID: lead.ID}}))

	stored, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusSynced, stored.Status)

	// Four audit rows under one execution id, in plan order.
	byLead, err := st.ListSyncLogsForLead(ctx, lead.ID)
	require.NoError(t, err)
	require.NotEmpty(t, byLead)
	execID := byLead[0].MCPExecutionID
	require.NotEmpty(t, execID)

	logs, err := st.ListSyncLogs(ctx, execID)
	require.NoError(t, err)
	require.Len(t, logs, 4)
	assert.Equal(t, "upsert_lead", logs[0].Action)
	assert.Equal(t, "set_lead_score", logs[1].Action)
	assert.Equal(t, "sync_firmographics", logs[2].Action)
	assert.Equal(t, "log_activity", logs[3].Action)
	for _, entry := range logs {
		assert.Equal(t, execID, entry.MCPExecutionID)
		assert.True(t, entry.Mock)
	}
}
