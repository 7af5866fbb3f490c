package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ingest(t *testing.T, s *SQLiteStore, email, campaign string) *model.Lead {
	t.Helper()
	lead, _, err := s.CreateLead(context.Background(), &model.Lead{
		IdempotencyKey: model.IdempotencyKey(email, campaign),
		Email:          email,
		CampaignID:     campaign,
		Name:           "Jane Doe",
	})
	require.NoError(t, err)
	return lead
}

func TestCreateLead_IdempotentIngest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.CreateLead(ctx, &model.Lead{
		IdempotencyKey: model.IdempotencyKey("jane@acme.com", "spring"),
		Email:          "jane@acme.com",
		CampaignID:     "spring",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.LeadStatusPending, first.Status)
	assert.NotZero(t, first.ID)

	// Second ingest of the same (email, campaign) returns the same row.
	second, created, err := s.CreateLead(ctx, &model.Lead{
		IdempotencyKey: model.IdempotencyKey("jane@acme.com", "spring"),
		Email:          "jane@acme.com",
		CampaignID:     "spring",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// A different campaign creates a new lead.
	third, created, err := s.CreateLead(ctx, &model.Lead{
		IdempotencyKey: model.IdempotencyKey("jane@acme.com", "fall"),
		Email:          "jane@acme.com",
		CampaignID:     "fall",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestGetLead_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetLead(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateLeadAnalysis_PersistsGrounding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead := ingest(t, s, "jane@acme.com", "spring")

	analysis := &model.AnalysisResult{
		FitScore:  90,
		Intent:    model.IntentHighFit,
		Decision:  model.DecisionRouteToSDR,
		Reasoning: "fintech ICP match",
		Evidence: []model.Evidence{
			{Source: model.SourceEnrichment, FieldPath: "enrichment.industry", Value: "Fintech", ClaimType: model.ClaimFirmographic},
		},
		GroundingStatus: model.GroundingValid,
	}
	require.NoError(t, s.UpdateLeadAnalysis(ctx, lead.ID, analysis))

	stored, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusEnriched, stored.Status)
	require.NotNil(t, stored.FitScore)
	assert.Equal(t, 90, *stored.FitScore)
	assert.Equal(t, model.IntentHighFit, stored.Intent)
	assert.Equal(t, model.GroundingValid, stored.GroundingStatus)
	require.Len(t, stored.Evidence, 1)
	assert.Equal(t, model.SourceEnrichment, stored.Evidence[0].Source)
	assert.Equal(t, "Fintech", stored.Evidence[0].Value)
}

func TestUpdateLeadStatus_EnforcesStateMachine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead := ingest(t, s, "jane@acme.com", "spring")

	// PENDING cannot jump straight to SYNCED_TO_CRM.
	err := s.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusSynced)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusEnriched))
	require.NoError(t, s.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusSynced))

	// Terminal states stay put.
	err = s.UpdateLeadStatus(ctx, lead.ID, model.LeadStatusEnriched)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Missing lead.
	err = s.UpdateLeadStatus(ctx, 12345, model.LeadStatusEnriched)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateLeadEnrichment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead := ingest(t, s, "jane@acme.com", "spring")

	require.NoError(t, s.UpdateLeadEnrichment(ctx, lead.ID, map[string]any{
		"industry": "Fintech", "employees": 250,
	}))

	stored, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fintech", stored.EnrichmentData["industry"])
}

func TestSyncLog_AppendAndListByExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead := ingest(t, s, "jane@acme.com", "spring")

	execID := uuid.New().String()
	base := time.Now().UTC().Truncate(time.Second)
	for i, action := range []string{"upsert_lead", "set_lead_score", "log_activity"} {
		require.NoError(t, s.AppendSyncLog(ctx, &model.CrmSyncLog{
			ID:             uuid.New().String(),
			Action:         action,
			EntityType:     "lead",
			EntityID:       "00Q000000000001",
			Params:         map[string]any{"email": "j***@acme.com"},
			Result:         "success",
			MCPExecutionID: execID,
			Mock:           true,
			LeadID:         &lead.ID,
			DurationMs:     42,
			Timestamp:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	// A row from an unrelated execution.
	require.NoError(t, s.AppendSyncLog(ctx, &model.CrmSyncLog{
		ID: uuid.New().String(), Action: "upsert_lead", EntityType: "lead",
		Params: map[string]any{}, Result: "success",
		MCPExecutionID: uuid.New().String(), Timestamp: base,
	}))

	entries, err := s.ListSyncLogs(ctx, execID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "upsert_lead", entries[0].Action)
	assert.Equal(t, "set_lead_score", entries[1].Action)
	assert.Equal(t, "log_activity", entries[2].Action)
	for _, e := range entries {
		assert.Equal(t, execID, e.MCPExecutionID)
		assert.True(t, e.Mock)
		require.NotNil(t, e.LeadID)
		assert.Equal(t, lead.ID, *e.LeadID)
	}
}

func TestRecordPermanentFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead := ingest(t, s, "jane@acme.com", "spring")

	require.NoError(t, s.RecordPermanentFailure(ctx, &model.DLQEntry{
		OriginalJobID: "job-1",
		LeadID:        lead.ID,
		Error:         "exhausted",
		AttemptsMade:  5,
		FailedAt:      time.Now().UTC(),
	}))

	counts, err := s.CountLeadsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.LeadStatusPending])
}
