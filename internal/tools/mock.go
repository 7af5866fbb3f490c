package tools

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// MockExecutor simulates a CRM for local runs and tests. Calls sleep a
// realistic latency and hand back synthetic record ids.
type MockExecutor struct {
	// Latency bounds for each simulated call.
	MinLatency time.Duration
	MaxLatency time.Duration

	// sleepFunc allows tests to skip real sleeping.
	sleepFunc func(ctx context.Context, d time.Duration)
}

// NewMockExecutor creates a mock executor with the default 100–300 ms latency.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		MinLatency: 100 * time.Millisecond,
		MaxLatency: 300 * time.Millisecond,
	}
}

// NewMockExecutorWithLatency creates a mock executor with custom latency
// bounds. Zero bounds disable the simulated delay, which keeps tests fast.
func NewMockExecutorWithLatency(minLatency, maxLatency time.Duration) *MockExecutor {
	return &MockExecutor{MinLatency: minLatency, MaxLatency: maxLatency}
}

func (m *MockExecutor) Provider() string { return "mock" }
func (m *MockExecutor) IsMock() bool     { return true }

func (m *MockExecutor) simulate(ctx context.Context, op string) {
	d := m.MinLatency
	if m.MaxLatency > m.MinLatency {
		d += time.Duration(rand.Int64N(int64(m.MaxLatency - m.MinLatency)))
	}
	if d <= 0 {
		return
	}
	if m.sleepFunc != nil {
		m.sleepFunc(ctx, d)
	} else {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
	zap.L().Debug("mock executor call", zap.String("operation", op), zap.Duration("latency", d))
}

// syntheticID fabricates a Salesforce-shaped id with the given key prefix.
func syntheticID(prefix string) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 12)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return prefix + string(b)
}

func mockOK(recordID string, data map[string]any) *CRMResult {
	return &CRMResult{Success: true, CRMRecordID: recordID, Data: data, Mock: true}
}

func (m *MockExecutor) CreateLead(ctx context.Context, p CreateLeadParams) (*CRMResult, error) {
	m.simulate(ctx, "create_lead")
	return mockOK(syntheticID("00Q"), map[string]any{"email": p.Email}), nil
}

func (m *MockExecutor) UpsertLead(ctx context.Context, p UpsertLeadParams) (*CRMResult, error) {
	m.simulate(ctx, "upsert_lead")
	return mockOK(syntheticID("00Q"), map[string]any{"email": p.Email, "company": p.Company}), nil
}

func (m *MockExecutor) ConvertLead(ctx context.Context, p ConvertLeadParams) (*CRMResult, error) {
	m.simulate(ctx, "convert_lead")
	return mockOK(syntheticID("003"), map[string]any{"leadId": p.LeadID}), nil
}

func (m *MockExecutor) UpdateLeadStatus(ctx context.Context, p UpdateLeadStatusParams) (*CRMResult, error) {
	m.simulate(ctx, "update_lead_status")
	return mockOK(p.LeadID, map[string]any{"status": p.Status}), nil
}

func (m *MockExecutor) UpdateLeadFields(ctx context.Context, p UpdateLeadFieldsParams) (*CRMResult, error) {
	m.simulate(ctx, "update_lead_fields")
	return mockOK(p.LeadID, map[string]any{"updated": len(p.Fields)}), nil
}

func (m *MockExecutor) SetLeadScore(ctx context.Context, p SetLeadScoreParams) (*CRMResult, error) {
	m.simulate(ctx, "set_lead_score")
	return mockOK(p.LeadID, map[string]any{"score": p.Score, "scoreType": p.ScoreType}), nil
}

func (m *MockExecutor) MatchAccount(ctx context.Context, p MatchAccountParams) (*CRMResult, error) {
	m.simulate(ctx, "match_account")
	return mockOK(syntheticID("001"), map[string]any{"domain": p.Domain}), nil
}

func (m *MockExecutor) CreateContact(ctx context.Context, p CreateContactParams) (*CRMResult, error) {
	m.simulate(ctx, "create_contact")
	return mockOK(syntheticID("003"), map[string]any{"email": p.Email}), nil
}

func (m *MockExecutor) LinkContactToAccount(ctx context.Context, p LinkContactToAccountParams) (*CRMResult, error) {
	m.simulate(ctx, "link_contact_to_account")
	return mockOK(p.ContactID, map[string]any{"accountId": p.AccountID}), nil
}

func (m *MockExecutor) CreateOpportunity(ctx context.Context, p CreateOpportunityParams) (*CRMResult, error) {
	m.simulate(ctx, "create_opportunity")
	return mockOK(syntheticID("006"), map[string]any{"name": p.Name}), nil
}

func (m *MockExecutor) UpdateOpportunityStage(ctx context.Context, p UpdateOpportunityStageParams) (*CRMResult, error) {
	m.simulate(ctx, "update_opportunity_stage")
	return mockOK(p.OpportunityID, map[string]any{"stage": p.Stage}), nil
}

func (m *MockExecutor) SetOpportunityValue(ctx context.Context, p SetOpportunityValueParams) (*CRMResult, error) {
	m.simulate(ctx, "set_opportunity_value")
	return mockOK(p.OpportunityID, map[string]any{"amount": p.Amount}), nil
}

func (m *MockExecutor) AttachCampaign(ctx context.Context, p AttachCampaignParams) (*CRMResult, error) {
	m.simulate(ctx, "attach_campaign")
	return mockOK(syntheticID("701"), map[string]any{"leadId": p.LeadID, "campaignId": p.CampaignID}), nil
}

func (m *MockExecutor) CreateTask(ctx context.Context, p CreateTaskParams) (*CRMResult, error) {
	m.simulate(ctx, "create_task")
	return mockOK(syntheticID("00T"), map[string]any{"subject": p.Subject}), nil
}

func (m *MockExecutor) LogActivity(ctx context.Context, p LogActivityParams) (*CRMResult, error) {
	m.simulate(ctx, "log_activity")
	return mockOK(syntheticID("00T"), map[string]any{"type": p.Type}), nil
}

func (m *MockExecutor) AddNote(ctx context.Context, p AddNoteParams) (*CRMResult, error) {
	m.simulate(ctx, "add_note")
	return mockOK(syntheticID("002"), map[string]any{"relatedToId": p.RelatedToID}), nil
}

func (m *MockExecutor) CreateFollowUp(ctx context.Context, p CreateFollowUpParams) (*CRMResult, error) {
	m.simulate(ctx, "create_follow_up")
	return mockOK(syntheticID("00T"), map[string]any{"leadId": p.LeadID, "reason": p.Reason}), nil
}

func (m *MockExecutor) SyncFirmographics(ctx context.Context, p SyncFirmographicsParams) (*CRMResult, error) {
	m.simulate(ctx, "sync_firmographics")
	return mockOK(p.LeadID, map[string]any{"fields": fmt.Sprint(len(p.Firmographics))}), nil
}

var _ Executor = (*MockExecutor)(nil)
