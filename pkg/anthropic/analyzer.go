package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
)

const analyzeSystemPrompt = `You are a B2B lead qualification analyst. Given a lead and optional
firmographic enrichment, score the lead's fit against the ideal customer
profile and classify buying intent.

Respond with a single JSON object and nothing else:
{
  "fit_score": <0-100>,
  "intent": "LOW_FIT" | "MEDIUM_FIT" | "HIGH_FIT" | "MANUAL_REVIEW",
  "decision": "ROUTE_TO_SDR" | "NURTURE" | "IGNORE",
  "reasoning": "<one paragraph>",
  "evidence": [
    {"source": "SALESFORCE"|"MARKETO"|"PRODUCT"|"ENRICHMENT"|"COMPUTED",
     "field_path": "<namespace.field>",
     "value": <scalar or list>,
     "claim_type": "FIRMOGRAPHIC"|"BEHAVIOR"|"PIPELINE"|"SCORE"}
  ]
}

Cite only sources you were actually given. Never invent enrichment values.`

// Analyzer implements the AI provider interface over the Anthropic API.
type Analyzer struct {
	client    Client
	model     string
	maxTokens int64
}

// NewAnalyzer creates a lead analyzer using the given client and model.
func NewAnalyzer(client Client, modelID string, maxTokens int64) *Analyzer {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Analyzer{client: client, model: modelID, maxTokens: maxTokens}
}

// AnalyzeLead asks the model to qualify one lead. Any provider or decoding
// failure is returned as an error; the caller substitutes the fallback
// analysis.
func (a *Analyzer) AnalyzeLead(ctx context.Context, lead *model.Lead, enrichment *model.CompanyData) (*model.AnalysisResult, error) {
	prompt, err := buildLeadPrompt(lead, enrichment)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.CreateMessage(ctx, MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    analyzeSystemPrompt,
		Messages:  []Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "analyzer: create message")
	}
	resp.Usage.LogCost(a.model, "lead_analysis")

	text := collectText(resp)
	result, err := decodeAnalysis(text)
	if err != nil {
		return nil, eris.Wrap(err, "analyzer: decode response")
	}
	return result, nil
}

func buildLeadPrompt(lead *model.Lead, enrichment *model.CompanyData) (string, error) {
	payload := map[string]any{
		"lead": map[string]any{
			"email":       lead.Email,
			"name":        lead.Name,
			"campaign_id": lead.CampaignID,
		},
	}
	if enrichment != nil {
		payload["enrichment"] = enrichment.AsMap()
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "analyzer: marshal prompt")
	}
	return fmt.Sprintf("Qualify this lead:\n\n%s", raw), nil
}

func collectText(resp *MessageResponse) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// decodeAnalysis extracts the JSON object from the model's reply. Models
// occasionally wrap JSON in prose or fences; take the outermost braces.
func decodeAnalysis(text string) (*model.AnalysisResult, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.New("no JSON object in model output")
	}

	var result model.AnalysisResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		return nil, eris.Wrap(err, "unmarshal analysis")
	}

	if result.FitScore < 0 || result.FitScore > 100 {
		return nil, eris.New(fmt.Sprintf("fit_score out of range: %d", result.FitScore))
	}
	switch result.Intent {
	case model.IntentLowFit, model.IntentMediumFit, model.IntentHighFit, model.IntentManualReview:
	default:
		return nil, eris.New("unknown intent: " + string(result.Intent))
	}
	switch result.Decision {
	case model.DecisionRouteToSDR, model.DecisionNurture, model.DecisionIgnore:
	default:
		return nil, eris.New("unknown decision: " + string(result.Decision))
	}
	return &result, nil
}
