package mcp

import (
	"fmt"
	"strings"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// Action is one planned tool call. Critical actions halt the plan on failure;
// the rest collect their errors and let the plan continue.
type Action struct {
	Tool     string
	Params   map[string]any
	Critical bool
	IdemMode IdempotencyMode

	// needsLeadID lists param names to fill with the CRM lead record id
	// produced by the upsert.
	needsLeadID []string
}

// BuildActionPlan translates a non-rejected analysis into the ordered action
// sequence executed for the lead.
func BuildActionPlan(lead *model.Lead, analysis *model.AnalysisResult, enrichment *model.CompanyData) []Action {
	firstName, lastName := splitName(lead.Name)

	company := ""
	if enrichment != nil {
		company = enrichment.Name
	}

	plan := []Action{{
		Tool: "upsert_lead",
		Params: map[string]any{
			"email":     lead.Email,
			"firstName": firstName,
			"lastName":  lastName,
			"company":   company,
		},
		Critical: true,
		IdemMode: IdempotencyStable,
	}}

	plan = append(plan, Action{
		Tool: "set_lead_score",
		Params: map[string]any{
			"leadId":    "",
			"score":     analysis.FitScore,
			"scoreType": "fit",
		},
		IdemMode:    IdempotencyWindowed,
		needsLeadID: []string{"leadId"},
	})

	if enrichment != nil {
		plan = append(plan, Action{
			Tool: "sync_firmographics",
			Params: map[string]any{
				"leadId": "",
				"firmographics": map[string]any{
					"industry":  enrichment.Industry,
					"employees": enrichment.Employees,
					"geo":       enrichment.Geo,
					"techStack": enrichment.TechStack,
				},
			},
			IdemMode:    IdempotencyStable,
			needsLeadID: []string{"leadId"},
		})
	}

	plan = append(plan, Action{
		Tool: "log_activity",
		Params: map[string]any{
			"relatedToId": "",
			"type":        "ai_analysis",
			"description": activityDescription(analysis),
		},
		IdemMode:    IdempotencyWindowed,
		needsLeadID: []string{"relatedToId"},
	})

	return plan
}

func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func activityDescription(analysis *model.AnalysisResult) string {
	return fmt.Sprintf("AI analysis: intent=%s decision=%s fit=%d grounding=%s",
		analysis.Intent, analysis.Decision, analysis.FitScore, analysis.GroundingStatus)
}
