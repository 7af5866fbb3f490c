package tools

import (
	"context"

	"github.com/rotisserie/eris"
)

// bind adapts a typed executor method into a Tool run function.
func bind[P any](fn func(ctx context.Context, p P) (*CRMResult, error)) (func() any, func(context.Context, any) (*CRMResult, error)) {
	newParams := func() any { return new(P) }
	run := func(ctx context.Context, params any) (*CRMResult, error) {
		p, ok := params.(*P)
		if !ok {
			return nil, eris.New("registry: params type mismatch")
		}
		return fn(ctx, *p)
	}
	return newParams, run
}

// RegisterStandardTools registers the full CRM tool surface against the given
// executor.
func RegisterStandardTools(r *Registry, exec Executor) error {
	type spec struct {
		name        string
		description string
		category    Category
		entityType  string
		newParams   func() any
		run         func(context.Context, any) (*CRMResult, error)
	}

	specs := make([]spec, 0, 18)
	add := func(name, description string, category Category, entityType string, newParams func() any, run func(context.Context, any) (*CRMResult, error)) {
		specs = append(specs, spec{name, description, category, entityType, newParams, run})
	}

	np, run := bind(exec.CreateLead)
	add("create_lead", "Create a new lead record", CategoryLeadLifecycle, "lead", np, run)
	np, run = bind(exec.UpsertLead)
	add("upsert_lead", "Create or update a lead keyed by email", CategoryLeadLifecycle, "lead", np, run)
	np, run = bind(exec.ConvertLead)
	add("convert_lead", "Convert a lead into a contact", CategoryLeadLifecycle, "lead", np, run)
	np, run = bind(exec.UpdateLeadStatus)
	add("update_lead_status", "Move a lead through the status funnel", CategoryLeadLifecycle, "lead", np, run)
	np, run = bind(exec.UpdateLeadFields)
	add("update_lead_fields", "Set fields on a lead", CategoryFieldUpdates, "lead", np, run)
	np, run = bind(exec.SetLeadScore)
	add("set_lead_score", "Record a scoring signal on a lead", CategoryFieldUpdates, "lead", np, run)
	np, run = bind(exec.MatchAccount)
	add("match_account", "Find an account by website domain", CategoryAccountContact, "account", np, run)
	np, run = bind(exec.CreateContact)
	add("create_contact", "Create a contact record", CategoryAccountContact, "contact", np, run)
	np, run = bind(exec.LinkContactToAccount)
	add("link_contact_to_account", "Attach a contact to an account", CategoryAccountContact, "contact", np, run)
	np, run = bind(exec.CreateOpportunity)
	add("create_opportunity", "Open a new opportunity", CategorySalesWorkflow, "opportunity", np, run)
	np, run = bind(exec.UpdateOpportunityStage)
	add("update_opportunity_stage", "Advance an opportunity stage", CategorySalesWorkflow, "opportunity", np, run)
	np, run = bind(exec.SetOpportunityValue)
	add("set_opportunity_value", "Set the monetary value of an opportunity", CategorySalesWorkflow, "opportunity", np, run)
	np, run = bind(exec.AttachCampaign)
	add("attach_campaign", "Associate a lead with a campaign", CategorySalesWorkflow, "campaign", np, run)
	np, run = bind(exec.CreateTask)
	add("create_task", "Create a task for the owning rep", CategoryActivity, "task", np, run)
	np, run = bind(exec.LogActivity)
	add("log_activity", "Record an activity against a record", CategoryActivity, "activity", np, run)
	np, run = bind(exec.AddNote)
	add("add_note", "Attach a note to a record", CategoryActivity, "note", np, run)
	np, run = bind(exec.CreateFollowUp)
	add("create_follow_up", "Schedule a follow-up touch", CategoryActivity, "task", np, run)
	np, run = bind(exec.SyncFirmographics)
	add("sync_firmographics", "Push enrichment data onto the CRM record", CategoryEnrichmentSync, "lead", np, run)

	for _, s := range specs {
		if err := r.Register(&Tool{
			Name:        s.name,
			Description: s.description,
			Category:    s.category,
			EntityType:  s.entityType,
			newParams:   s.newParams,
			run:         s.run,
		}); err != nil {
			return err
		}
	}
	return nil
}

// MutatingTools lists the tools that write to the CRM. Read-only lookups are
// excluded; everything else is a mutation for audit purposes.
var MutatingTools = map[string]bool{
	"create_lead":              true,
	"upsert_lead":              true,
	"convert_lead":             true,
	"update_lead_status":       true,
	"update_lead_fields":       true,
	"set_lead_score":           true,
	"create_contact":           true,
	"link_contact_to_account":  true,
	"create_opportunity":       true,
	"update_opportunity_stage": true,
	"set_opportunity_value":    true,
	"attach_campaign":          true,
	"create_task":              true,
	"log_activity":             true,
	"add_note":                 true,
	"create_follow_up":         true,
	"sync_firmographics":       true,
}
