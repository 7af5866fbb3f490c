package tools

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/pkg/salesforce"
)

// SalesforceExecutor implements the tool surface against a live Salesforce
// org through the thin API client. All string field values are sanitised and
// record ids validated before they reach the wire.
type SalesforceExecutor struct {
	client salesforce.Client
}

// NewSalesforceExecutor wraps a Salesforce client as an Executor.
func NewSalesforceExecutor(client salesforce.Client) *SalesforceExecutor {
	return &SalesforceExecutor{client: client}
}

func (e *SalesforceExecutor) Provider() string { return "salesforce" }
func (e *SalesforceExecutor) IsMock() bool     { return false }

func sfOK(recordID string, data map[string]any) *CRMResult {
	return &CRMResult{Success: true, CRMRecordID: recordID, Data: data}
}

func sfFail(err error) (*CRMResult, error) {
	return &CRMResult{Success: false, Error: err.Error()}, err
}

// leadRecord is the SOQL projection used for lead lookups.
type leadRecord struct {
	ID    string `json:"Id"`
	Email string `json:"Email"`
}

func (e *SalesforceExecutor) findLeadByEmail(ctx context.Context, email string) (*leadRecord, error) {
	soql, err := NewQuery("Lead").Select("Id", "Email").WhereEquals("Email", email).Limit(1).Build()
	if err != nil {
		return nil, err
	}
	var leads []leadRecord
	if err := e.client.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, "sf executor: find lead")
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

func (e *SalesforceExecutor) CreateLead(ctx context.Context, p CreateLeadParams) (*CRMResult, error) {
	fields := SanitizeFields(map[string]any{
		"Email":     p.Email,
		"FirstName": p.FirstName,
		"LastName":  orUnknown(p.LastName),
		"Company":   orUnknown(p.Company),
	})
	id, err := e.client.InsertOne(ctx, "Lead", fields)
	if err != nil {
		return sfFail(err)
	}
	return sfOK(id, map[string]any{"email": p.Email}), nil
}

func (e *SalesforceExecutor) UpsertLead(ctx context.Context, p UpsertLeadParams) (*CRMResult, error) {
	existing, err := e.findLeadByEmail(ctx, p.Email)
	if err != nil {
		return sfFail(err)
	}

	fields := SanitizeFields(map[string]any{
		"FirstName": p.FirstName,
		"LastName":  orUnknown(p.LastName),
		"Company":   orUnknown(p.Company),
	})
	if existing != nil {
		if err := e.client.UpdateOne(ctx, "Lead", existing.ID, fields); err != nil {
			return sfFail(err)
		}
		return sfOK(existing.ID, map[string]any{"created": false}), nil
	}

	fields["Email"] = SanitizeFieldValue(p.Email)
	id, err := e.client.InsertOne(ctx, "Lead", fields)
	if err != nil {
		return sfFail(err)
	}
	return sfOK(id, map[string]any{"created": true}), nil
}

func (e *SalesforceExecutor) ConvertLead(ctx context.Context, p ConvertLeadParams) (*CRMResult, error) {
	if err := ValidateCRMID(p.LeadID); err != nil {
		return sfFail(err)
	}
	fields := map[string]any{"Status": "Qualified"}
	if err := e.client.UpdateOne(ctx, "Lead", p.LeadID, fields); err != nil {
		return sfFail(err)
	}
	return sfOK(p.LeadID, map[string]any{"converted": true}), nil
}

func (e *SalesforceExecutor) UpdateLeadStatus(ctx context.Context, p UpdateLeadStatusParams) (*CRMResult, error) {
	if err := ValidateCRMID(p.LeadID); err != nil {
		return sfFail(err)
	}
	if err := e.client.UpdateOne(ctx, "Lead", p.LeadID, map[string]any{"Status": SanitizeFieldValue(p.Status)}); err != nil {
		return sfFail(err)
	}
	return sfOK(p.LeadID, nil), nil
}

func (e *SalesforceExecutor) UpdateLeadFields(ctx context.Context, p UpdateLeadFieldsParams) (*CRMResult, error) {
	if err := ValidateCRMID(p.LeadID); err != nil {
		return sfFail(err)
	}
	for name := range p.Fields {
		if !soqlFieldPattern.MatchString(name) {
			return sfFail(eris.New("sf executor: invalid field name " + name))
		}
	}
	if err := e.client.UpdateOne(ctx, "Lead", p.LeadID, SanitizeFields(p.Fields)); err != nil {
		return sfFail(err)
	}
	return sfOK(p.LeadID, map[string]any{"updated": len(p.Fields)}), nil
}

func (e *SalesforceExecutor) SetLeadScore(ctx context.Context, p SetLeadScoreParams) (*CRMResult, error) {
	if err := ValidateCRMID(p.LeadID); err != nil {
		return sfFail(err)
	}
	fields := map[string]any{"Lead_Score__c": p.Score}
	if p.ScoreType != "" {
		fields["Score_Type__c"] = SanitizeFieldValue(p.ScoreType)
	}
	if err := e.client.UpdateOne(ctx, "Lead", p.LeadID, fields); err != nil {
		return sfFail(err)
	}
	return sfOK(p.LeadID, map[string]any{"score": p.Score}), nil
}

func (e *SalesforceExecutor) MatchAccount(ctx context.Context, p MatchAccountParams) (*CRMResult, error) {
	account, err := salesforce.FindAccountByDomain(ctx, e.client, p.Domain)
	if err != nil {
		return sfFail(err)
	}
	if account == nil {
		return &CRMResult{Success: true, Data: map[string]any{"matched": false}}, nil
	}
	return sfOK(account.ID, map[string]any{"matched": true, "name": account.Name}), nil
}

func (e *SalesforceExecutor) CreateContact(ctx context.Context, p CreateContactParams) (*CRMResult, error) {
	fields := SanitizeFields(map[string]any{
		"Email":     p.Email,
		"FirstName": p.FirstName,
		"LastName":  orUnknown(p.LastName),
	})
	if p.AccountID != "" {
		if err := ValidateCRMID(p.AccountID); err != nil {
			return sfFail(err)
		}
		fields["AccountId"] = p.AccountID
	}
	id, err := e.client.InsertOne(ctx, "Contact", fields)
	if err != nil {
		return sfFail(err)
	}
	return sfOK(id, nil), nil
}

func (e *SalesforceExecutor) LinkContactToAccount(ctx context.Context, p LinkContactToAccountParams) (*CRMResult, error) {
	if err := ValidateCRMID(p.ContactID); err != nil {
		return sfFail(err)
	}
	if err := ValidateCRMID(p.AccountID); err != nil {
		return sfFail(err)
	}
	if err := e.client.UpdateOne(ctx, "Contact", p.ContactID, map[string]any{"AccountId": p.AccountID}); err != nil {
		return sfFail(err)
	}
	return sfOK(p.ContactID, nil), nil
}

func (e *SalesforceExecutor) CreateOpportunity(ctx context.Context, p CreateOpportunityParams) (*CRMResult, error) {
	stage := p.Stage
	if stage == "" {
		stage = "Prospecting"
	}
	fields := map[string]any{
		"Name":      SanitizeFieldValue(p.Name),
		"StageName": SanitizeFieldValue(stage),
		"CloseDate": time.Now().AddDate(0, 1, 0).Format("2006-01-02"),
	}
	if p.AccountID != "" {
		if err := ValidateCRMID(p.AccountID); err != nil {
			return sfFail(err)
		}
		fields["AccountId"] = p.AccountID
	}
	id, err := e.client.InsertOne(ctx, "Opportunity", fields)
	if err != nil {
		return sfFail(err)
	}
	return sfOK(id, nil), nil
}

func (e *SalesforceExecutor) UpdateOpportunityStage(ctx context.Context, p UpdateOpportunityStageParams) (*CRMResult, error) {
	if err := ValidateCRMID(p.OpportunityID); err != nil {
		return sfFail(err)
	}
	if err := e.client.UpdateOne(ctx, "Opportunity", p.OpportunityID, map[string]any{"StageName": SanitizeFieldValue(p.Stage)}); err != nil {
		return sfFail(err)
	}
	return sfOK(p.OpportunityID, nil), nil
}

func (e *SalesforceExecutor) SetOpportunityValue(ctx context.Context, p SetOpportunityValueParams) (*CRMResult, error) {
	if err := ValidateCRMID(p.OpportunityID); err != nil {
		return sfFail(err)
	}
	if err := e.client.UpdateOne(ctx, "Opportunity", p.OpportunityID, map[string]any{"Amount": p.Amount}); err != nil {
		return sfFail(err)
	}
	return sfOK(p.OpportunityID, map[string]any{"amount": p.Amount}), nil
}

func (e *SalesforceExecutor) AttachCampaign(ctx context.Context, p AttachCampaignParams) (*CRMResult, error) {
	if err := ValidateCRMID(p.LeadID); err != nil {
		return sfFail(err)
	}
	fields := map[string]any{
		"LeadId":     p.LeadID,
		"CampaignId": SanitizeFieldValue(p.CampaignID),
		"Status":     "Sent",
	}
	id, err := e.client.InsertOne(ctx, "CampaignMember", fields)
	if err != nil {
		return sfFail(err)
	}
	return sfOK(id, nil), nil
}

func (e *SalesforceExecutor) CreateTask(ctx context.Context, p CreateTaskParams) (*CRMResult, error) {
	if err := ValidateCRMID(p.RelatedToID); err != nil {
		return sfFail(err)
	}
	fields := map[string]any{
		"WhoId":   p.RelatedToID,
		"Subject": SanitizeFieldValue(p.Subject),
		"Status":  "Not Started",
	}
	if p.DueDate != "" {
		fields["ActivityDate"] = SanitizeFieldValue(p.DueDate)
	}
	id, err := e.client.InsertOne(ctx, "Task", fields)
	if err != nil {
		return sfFail(err)
	}
	return sfOK(id, nil), nil
}

func (e *SalesforceExecutor) LogActivity(ctx context.Context, p LogActivityParams) (*CRMResult, error) {
	if err := ValidateCRMID(p.RelatedToID); err != nil {
		return sfFail(err)
	}
	fields := map[string]any{
		"WhoId":       p.RelatedToID,
		"Subject":     SanitizeFieldValue(p.Type),
		"Description": SanitizeFieldValue(p.Description),
		"Status":      "Completed",
	}
	id, err := e.client.InsertOne(ctx, "Task", fields)
	if err != nil {
		return sfFail(err)
	}
	return sfOK(id, nil), nil
}

func (e *SalesforceExecutor) AddNote(ctx context.Context, p AddNoteParams) (*CRMResult, error) {
	if err := ValidateCRMID(p.RelatedToID); err != nil {
		return sfFail(err)
	}
	fields := map[string]any{
		"ParentId": p.RelatedToID,
		"Title":    "Pipeline note",
		"Body":     SanitizeFieldValue(p.Body),
	}
	id, err := e.client.InsertOne(ctx, "Note", fields)
	if err != nil {
		return sfFail(err)
	}
	return sfOK(id, nil), nil
}

func (e *SalesforceExecutor) CreateFollowUp(ctx context.Context, p CreateFollowUpParams) (*CRMResult, error) {
	if err := ValidateCRMID(p.LeadID); err != nil {
		return sfFail(err)
	}
	due := p.DueDate
	if due == "" {
		due = time.Now().AddDate(0, 0, 3).Format("2006-01-02")
	}
	fields := map[string]any{
		"WhoId":        p.LeadID,
		"Subject":      "Follow up: " + SanitizeFieldValue(p.Reason),
		"ActivityDate": SanitizeFieldValue(due),
		"Status":       "Not Started",
	}
	id, err := e.client.InsertOne(ctx, "Task", fields)
	if err != nil {
		return sfFail(err)
	}
	return sfOK(id, nil), nil
}

func (e *SalesforceExecutor) SyncFirmographics(ctx context.Context, p SyncFirmographicsParams) (*CRMResult, error) {
	if err := ValidateCRMID(p.LeadID); err != nil {
		return sfFail(err)
	}
	fields := make(map[string]any, len(p.Firmographics))
	for k, v := range p.Firmographics {
		mapped, ok := firmographicFieldMap[k]
		if !ok {
			continue
		}
		fields[mapped] = v
	}
	if len(fields) == 0 {
		return &CRMResult{Success: true, Warnings: []string{"no mappable firmographic fields"}}, nil
	}
	if err := e.client.UpdateOne(ctx, "Lead", p.LeadID, SanitizeFields(fields)); err != nil {
		return sfFail(err)
	}
	return sfOK(p.LeadID, map[string]any{"synced": len(fields)}), nil
}

// firmographicFieldMap translates enrichment field names onto the org's lead
// fields.
var firmographicFieldMap = map[string]string{
	"industry":  "Industry",
	"employees": "NumberOfEmployees",
	"geo":       "Geography__c",
	"techStack": "Tech_Stack__c",
	"name":      "Company",
	"domain":    "Website",
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

var _ Executor = (*SalesforceExecutor)(nil)
