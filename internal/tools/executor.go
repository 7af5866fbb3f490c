package tools

import "context"

// Executor is the CRM backend behind the tool surface. One method per
// registered tool. Executors do not deduplicate calls: the create methods
// insert a new record each time they run.
type Executor interface {
	// Provider names the concrete CRM, e.g. "mock" or "salesforce".
	Provider() string
	// IsMock reports whether calls are simulated.
	IsMock() bool

	CreateLead(ctx context.Context, p CreateLeadParams) (*CRMResult, error)
	UpsertLead(ctx context.Context, p UpsertLeadParams) (*CRMResult, error)
	ConvertLead(ctx context.Context, p ConvertLeadParams) (*CRMResult, error)
	UpdateLeadStatus(ctx context.Context, p UpdateLeadStatusParams) (*CRMResult, error)
	UpdateLeadFields(ctx context.Context, p UpdateLeadFieldsParams) (*CRMResult, error)
	SetLeadScore(ctx context.Context, p SetLeadScoreParams) (*CRMResult, error)
	MatchAccount(ctx context.Context, p MatchAccountParams) (*CRMResult, error)
	CreateContact(ctx context.Context, p CreateContactParams) (*CRMResult, error)
	LinkContactToAccount(ctx context.Context, p LinkContactToAccountParams) (*CRMResult, error)
	CreateOpportunity(ctx context.Context, p CreateOpportunityParams) (*CRMResult, error)
	UpdateOpportunityStage(ctx context.Context, p UpdateOpportunityStageParams) (*CRMResult, error)
	SetOpportunityValue(ctx context.Context, p SetOpportunityValueParams) (*CRMResult, error)
	AttachCampaign(ctx context.Context, p AttachCampaignParams) (*CRMResult, error)
	CreateTask(ctx context.Context, p CreateTaskParams) (*CRMResult, error)
	LogActivity(ctx context.Context, p LogActivityParams) (*CRMResult, error)
	AddNote(ctx context.Context, p AddNoteParams) (*CRMResult, error)
	CreateFollowUp(ctx context.Context, p CreateFollowUpParams) (*CRMResult, error)
	SyncFirmographics(ctx context.Context, p SyncFirmographicsParams) (*CRMResult, error)
}
