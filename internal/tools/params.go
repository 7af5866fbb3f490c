package tools

// Typed parameter records, one per tool. The registry decodes the caller's
// map into these and validates before any executor method runs.

// UpsertLeadParams creates or updates a lead keyed by email.
type UpsertLeadParams struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Company   string `json:"company"`
}

// CreateLeadParams creates a lead unconditionally.
type CreateLeadParams struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Company   string `json:"company"`
}

// ConvertLeadParams converts a lead into a contact (and optionally account).
type ConvertLeadParams struct {
	LeadID    string `json:"leadId" validate:"required"`
	AccountID string `json:"accountId"`
}

// UpdateLeadStatusParams moves a lead through the CRM status funnel.
type UpdateLeadStatusParams struct {
	LeadID string `json:"leadId" validate:"required"`
	Status string `json:"status" validate:"required"`
}

// UpdateLeadFieldsParams sets arbitrary whitelisted fields on a lead.
type UpdateLeadFieldsParams struct {
	LeadID string         `json:"leadId" validate:"required"`
	Fields map[string]any `json:"fields" validate:"required,min=1"`
}

// SetLeadScoreParams records a scoring signal on the lead.
type SetLeadScoreParams struct {
	LeadID    string `json:"leadId" validate:"required"`
	Score     int    `json:"score" validate:"min=0,max=100"`
	ScoreType string `json:"scoreType"`
}

// MatchAccountParams finds an existing account by website domain.
type MatchAccountParams struct {
	Domain string `json:"domain" validate:"required,fqdn"`
}

// CreateContactParams creates a contact, optionally under an account.
type CreateContactParams struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	AccountID string `json:"accountId"`
}

// LinkContactToAccountParams attaches an existing contact to an account.
type LinkContactToAccountParams struct {
	ContactID string `json:"contactId" validate:"required"`
	AccountID string `json:"accountId" validate:"required"`
}

// CreateOpportunityParams opens a new opportunity.
type CreateOpportunityParams struct {
	Name      string `json:"name" validate:"required"`
	AccountID string `json:"accountId"`
	Stage     string `json:"stage"`
}

// UpdateOpportunityStageParams advances an opportunity stage.
type UpdateOpportunityStageParams struct {
	OpportunityID string `json:"opportunityId" validate:"required"`
	Stage         string `json:"stage" validate:"required"`
}

// SetOpportunityValueParams sets the monetary value of an opportunity.
type SetOpportunityValueParams struct {
	OpportunityID string  `json:"opportunityId" validate:"required"`
	Amount        float64 `json:"amount" validate:"min=0"`
}

// AttachCampaignParams associates a lead with a marketing campaign.
type AttachCampaignParams struct {
	LeadID     string `json:"leadId" validate:"required"`
	CampaignID string `json:"campaignId" validate:"required"`
}

// CreateTaskParams creates a task for the owning rep.
type CreateTaskParams struct {
	RelatedToID string `json:"relatedToId" validate:"required"`
	Subject     string `json:"subject" validate:"required"`
	DueDate     string `json:"dueDate"`
}

// LogActivityParams records an activity against a CRM record.
type LogActivityParams struct {
	RelatedToID string `json:"relatedToId" validate:"required"`
	Type        string `json:"type" validate:"required"`
	Description string `json:"description"`
}

// AddNoteParams attaches a free-text note to a record.
type AddNoteParams struct {
	RelatedToID string `json:"relatedToId" validate:"required"`
	Body        string `json:"body" validate:"required"`
}

// CreateFollowUpParams schedules a follow-up touch.
type CreateFollowUpParams struct {
	LeadID  string `json:"leadId" validate:"required"`
	DueDate string `json:"dueDate"`
	Reason  string `json:"reason"`
}

// SyncFirmographicsParams pushes enrichment data onto the CRM record.
type SyncFirmographicsParams struct {
	LeadID        string         `json:"leadId" validate:"required"`
	Firmographics map[string]any `json:"firmographics" validate:"required,min=1"`
}
