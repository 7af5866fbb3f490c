package model

// EvidenceSource identifies where an AI claim was drawn from. The set is
// closed: any other value fails grounding outright.
type EvidenceSource string

const (
	SourceSalesforce EvidenceSource = "SALESFORCE"
	SourceMarketo    EvidenceSource = "MARKETO"
	SourceProduct    EvidenceSource = "PRODUCT"
	SourceEnrichment EvidenceSource = "ENRICHMENT"
	SourceComputed   EvidenceSource = "COMPUTED"
)

// AllowedSources is the closed set of evidence sources.
var AllowedSources = map[EvidenceSource]bool{
	SourceSalesforce: true,
	SourceMarketo:    true,
	SourceProduct:    true,
	SourceEnrichment: true,
	SourceComputed:   true,
}

// ClaimType categorises what kind of assertion an evidence item backs.
type ClaimType string

const (
	ClaimFirmographic ClaimType = "FIRMOGRAPHIC"
	ClaimBehavior     ClaimType = "BEHAVIOR"
	ClaimPipeline     ClaimType = "PIPELINE"
	ClaimScore        ClaimType = "SCORE"
)

// Evidence is a single cited justification for an AI claim.
type Evidence struct {
	Source    EvidenceSource `json:"source"`
	FieldPath string         `json:"field_path"`
	Value     any            `json:"value"`
	ClaimType ClaimType      `json:"claim_type"`
}

// Intent is the AI's behavioural-readiness classification.
type Intent string

const (
	IntentLowFit       Intent = "LOW_FIT"
	IntentMediumFit    Intent = "MEDIUM_FIT"
	IntentHighFit      Intent = "HIGH_FIT"
	IntentManualReview Intent = "MANUAL_REVIEW"
)

// Decision is the routing outcome proposed by the AI.
type Decision string

const (
	DecisionRouteToSDR Decision = "ROUTE_TO_SDR"
	DecisionNurture    Decision = "NURTURE"
	DecisionIgnore     Decision = "IGNORE"
)

// GroundingStatus is stamped by the grounding validator, never by the AI.
type GroundingStatus string

const (
	GroundingValid      GroundingStatus = "VALID"
	GroundingDowngraded GroundingStatus = "DOWNGRADED"
	GroundingRejected   GroundingStatus = "REJECTED"
)

// AnalysisResult is the transient output of one AI call, later stamped by the
// grounding validator.
type AnalysisResult struct {
	FitScore  int        `json:"fit_score"`
	Intent    Intent     `json:"intent"`
	Decision  Decision   `json:"decision"`
	Reasoning string     `json:"reasoning"`
	Evidence  []Evidence `json:"evidence"`

	GroundingStatus GroundingStatus `json:"grounding_status,omitempty"`
	GroundingErrors []string        `json:"grounding_errors,omitempty"`
}

// FallbackAnalysis is the named constructor for the result used when the AI
// provider fails or returns something unusable. The lead surfaces for manual
// review and no CRM action runs.
func FallbackAnalysis(providerErr string) *AnalysisResult {
	return &AnalysisResult{
		FitScore:        0,
		Intent:          IntentManualReview,
		Decision:        DecisionIgnore,
		Reasoning:       "analysis unavailable: " + providerErr,
		GroundingStatus: GroundingRejected,
		GroundingErrors: []string{providerErr},
	}
}
