// Package grounding validates AI analysis output against authoritative data.
// The validator stamps a status on the result instead of raising: the
// orchestrator reads the tag and decides what runs.
package grounding

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// behavioralSources are the sources that can back a HIGH_FIT intent. A high
// fit claimed from firmographics alone is downgraded.
var behavioralSources = map[model.EvidenceSource]bool{
	model.SourceProduct:    true,
	model.SourceMarketo:    true,
	model.SourceComputed:   true,
	model.SourceSalesforce: true,
}

// downgradedFitCap is the ceiling applied to the fit score on downgrade.
const downgradedFitCap = 70

// Validate applies the evidence rules in order and stamps the result.
// Hard failures reject and stop; the soft high-intent rule downgrades intent
// and fit score in place. The input is mutated and returned.
func Validate(analysis *model.AnalysisResult, enrichment *model.CompanyData) *model.AnalysisResult {
	// An analysis already rejected upstream (the provider-failure fallback)
	// keeps its REJECTED status.
	if analysis.GroundingStatus == model.GroundingRejected {
		return analysis
	}

	// Rule 1: every cited source must come from the closed set.
	for _, ev := range analysis.Evidence {
		if !model.AllowedSources[ev.Source] {
			return reject(analysis, fmt.Sprintf("unauthorized source: %s", ev.Source))
		}
	}

	// Rule 2: firmographic claims require an enrichment record to check against.
	if enrichment == nil {
		for _, ev := range analysis.Evidence {
			if ev.ClaimType == model.ClaimFirmographic {
				return reject(analysis, "firmographic claims without available enrichment")
			}
		}
	}

	// Rule 3: firmographic claims sourced from enrichment must match the
	// stored truth. Containment rather than equality, so "Fintech" passes
	// against "Financial Technology (Fintech)". A missing trusted field is
	// skipped, not fatal.
	if enrichment != nil {
		for _, ev := range analysis.Evidence {
			if ev.Source != model.SourceEnrichment || ev.ClaimType != model.ClaimFirmographic {
				continue
			}
			field := lastSegment(ev.FieldPath)
			trusted := enrichment.Field(field)
			if trusted == nil {
				continue
			}
			claimed := coerceToString(ev.Value)
			truth := coerceToString(trusted)
			if claimed == "" || truth == "" {
				continue
			}
			if !containsEitherWay(claimed, truth) {
				return reject(analysis, fmt.Sprintf(
					"Hallucination detected: claimed %s=%q but enrichment says %q", field, claimed, truth))
			}
		}
	}

	// Rule 4 (soft): HIGH_FIT needs at least one behavioral or computed
	// evidence item; otherwise downgrade.
	if analysis.Intent == model.IntentHighFit && !hasBehavioralEvidence(analysis.Evidence) {
		analysis.GroundingStatus = model.GroundingDowngraded
		analysis.GroundingErrors = append(analysis.GroundingErrors,
			"High Intent requires at least one behavioral/computed evidence item.")
		analysis.Intent = model.IntentMediumFit
		if analysis.FitScore > downgradedFitCap {
			analysis.FitScore = downgradedFitCap
		}
		zap.L().Info("grounding: downgraded high intent without behavioral evidence",
			zap.Int("fit_score", analysis.FitScore))
		return analysis
	}

	analysis.GroundingStatus = model.GroundingValid
	return analysis
}

func reject(analysis *model.AnalysisResult, reason string) *model.AnalysisResult {
	analysis.GroundingStatus = model.GroundingRejected
	analysis.GroundingErrors = append(analysis.GroundingErrors, reason)
	zap.L().Warn("grounding: rejected analysis", zap.String("reason", reason))
	return analysis
}

func hasBehavioralEvidence(evidence []model.Evidence) bool {
	for _, ev := range evidence {
		if behavioralSources[ev.Source] {
			return true
		}
	}
	return false
}

// lastSegment returns the final dot-separated segment of a field path, e.g.
// "enrichment.industry" -> "industry".
func lastSegment(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}

// containsEitherWay reports whether either string contains the other,
// case-insensitively.
func containsEitherWay(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	return strings.Contains(la, lb) || strings.Contains(lb, la)
}

// coerceToString renders an opaque evidence value for the containment check.
// Lists join their elements; anything non-scalar falls back to fmt.
func coerceToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, coerceToString(e))
		}
		return strings.Join(parts, ", ")
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
