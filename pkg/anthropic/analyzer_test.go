package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/model"
)

type stubClient struct {
	reply string
	err   error
	last  MessageRequest
}

func (s *stubClient) CreateMessage(_ context.Context, req MessageRequest) (*MessageResponse, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &MessageResponse{
		Content: []ContentBlock{{Type: "text", Text: s.reply}},
	}, nil
}

const goodReply = `{
  "fit_score": 85,
  "intent": "HIGH_FIT",
  "decision": "ROUTE_TO_SDR",
  "reasoning": "Strong fintech fit with campaign engagement.",
  "evidence": [
    {"source": "ENRICHMENT", "field_path": "enrichment.industry", "value": "Fintech", "claim_type": "FIRMOGRAPHIC"},
    {"source": "MARKETO", "field_path": "marketo.campaign_id", "value": "launch", "claim_type": "BEHAVIOR"}
  ]
}`

func testLead() *model.Lead {
	return &model.Lead{ID: 1, Email: "jane@acme.com", Name: "Jane Doe", CampaignID: "launch"}
}

func TestAnalyzeLead_DecodesResult(t *testing.T) {
	stub := &stubClient{reply: goodReply}
	a := NewAnalyzer(stub, "claude-sonnet-4-5-20250929", 1024)

	result, err := a.AnalyzeLead(context.Background(), testLead(), &model.CompanyData{Industry: "Fintech"})
	require.NoError(t, err)
	assert.Equal(t, 85, result.FitScore)
	assert.Equal(t, model.IntentHighFit, result.Intent)
	assert.Equal(t, model.DecisionRouteToSDR, result.Decision)
	require.Len(t, result.Evidence, 2)
	assert.Equal(t, model.SourceEnrichment, result.Evidence[0].Source)

	// The prompt carries both the lead and the enrichment context.
	assert.Contains(t, stub.last.Messages[0].Content, "jane@acme.com")
	assert.Contains(t, stub.last.Messages[0].Content, "Fintech")
}

func TestAnalyzeLead_FencedJSON(t *testing.T) {
	stub := &stubClient{reply: "Here is my analysis:\n```json\n" + goodReply + "\n```"}
	a := NewAnalyzer(stub, "m", 0)

	result, err := a.AnalyzeLead(context.Background(), testLead(), nil)
	require.NoError(t, err)
	assert.Equal(t, 85, result.FitScore)
}

func TestAnalyzeLead_ProviderError(t *testing.T) {
	stub := &stubClient{err: errors.New("api down")}
	a := NewAnalyzer(stub, "m", 0)

	_, err := a.AnalyzeLead(context.Background(), testLead(), nil)
	assert.Error(t, err)
}

func TestDecodeAnalysis_Invalid(t *testing.T) {
	cases := map[string]string{
		"no json":        "sorry, I cannot help",
		"bad score":      `{"fit_score": 150, "intent": "HIGH_FIT", "decision": "NURTURE"}`,
		"bad intent":     `{"fit_score": 50, "intent": "SUPER_FIT", "decision": "NURTURE"}`,
		"bad decision":   `{"fit_score": 50, "intent": "LOW_FIT", "decision": "CALL_NOW"}`,
		"malformed json": `{"fit_score": `,
	}
	for name, text := range cases {
		_, err := decodeAnalysis(text)
		assert.Error(t, err, name)
	}
}
