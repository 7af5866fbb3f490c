// Package mcp is the safety and quota layer between a grounded AI analysis
// and the CRM: guard patterns, PII redaction, tiered rate limits, circuit
// breakers, idempotency, and the action orchestrator.
package mcp

import (
	"fmt"
	"regexp"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// blockedPatterns are the danger patterns applied to tool names and,
// recursively, to every string parameter.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^delete_`),
	regexp.MustCompile(`(?i)^mass_`),
	regexp.MustCompile(`(?i)schema_change`),
	regexp.MustCompile(`(?i)permission_change`),
	regexp.MustCompile(`(?i)execute.*query`),
	regexp.MustCompile(`(?i)bulk_export`),
	regexp.MustCompile(`(?i)^merge_`),
	regexp.MustCompile(`(?i)hard_delete`),
	regexp.MustCompile(`\$\{`),
	regexp.MustCompile(`(?i)__proto__|constructor|prototype`),
}

// Context timestamp bounds: stale contexts are replays, future ones clock skew.
const (
	maxContextAge  = time.Hour
	maxContextSkew = time.Minute
)

// ExecContext carries the identity of one MCP invocation through every
// safety check and audit row.
type ExecContext struct {
	ExecutionID string
	Lead        *model.Lead
	Timestamp   time.Time
}

// SafetyGuard rejects tools and contexts that match danger patterns or fail
// integrity checks.
type SafetyGuard struct {
	nowFunc func() time.Time
}

// NewSafetyGuard creates a guard.
func NewSafetyGuard() *SafetyGuard {
	return &SafetyGuard{nowFunc: time.Now}
}

// CheckToolName rejects names matching any blocked pattern. Also used as the
// registry's registration guard.
func (g *SafetyGuard) CheckToolName(name string) error {
	for _, p := range blockedPatterns {
		if p.MatchString(name) {
			return eris.New(fmt.Sprintf("tool name %q matches blocked pattern %s", name, p))
		}
	}
	return nil
}

// ValidateContext runs the integrity checks that must all hold before any
// execution: grounding not rejected, identifying fields present, timestamp
// within bounds.
func (g *SafetyGuard) ValidateContext(execCtx *ExecContext, analysis *model.AnalysisResult) error {
	if analysis == nil || analysis.GroundingStatus == model.GroundingRejected {
		return eris.New("safety: grounding rejected analysis")
	}
	if execCtx.ExecutionID == "" {
		return eris.New("safety: missing execution id")
	}
	if execCtx.Lead == nil || execCtx.Lead.ID == 0 {
		return eris.New("safety: missing lead id")
	}
	if execCtx.Lead.Email == "" {
		return eris.New("safety: missing lead email")
	}

	now := g.nowFunc()
	if execCtx.Timestamp.Before(now.Add(-maxContextAge)) {
		return eris.New("safety: context timestamp too old")
	}
	if execCtx.Timestamp.After(now.Add(maxContextSkew)) {
		return eris.New("safety: context timestamp in the future")
	}
	return nil
}

// CheckParams recursively walks every parameter value and matches strings
// against the blocked patterns. The returned error names the offending path.
func (g *SafetyGuard) CheckParams(params map[string]any) error {
	return g.walk("", params)
}

func (g *SafetyGuard) walk(path string, v any) error {
	switch t := v.(type) {
	case string:
		for _, p := range blockedPatterns {
			if p.MatchString(t) {
				return eris.New(fmt.Sprintf("parameter %s matches blocked pattern %s", path, p))
			}
		}
	case map[string]any:
		for k, val := range t {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			// Keys are attacker-controlled too.
			if err := g.walk(childPath, k); err != nil {
				return err
			}
			if err := g.walk(childPath, val); err != nil {
				return err
			}
		}
	case []any:
		for i, val := range t {
			if err := g.walk(fmt.Sprintf("%s[%d]", path, i), val); err != nil {
				return err
			}
		}
	case []string:
		for i, val := range t {
			if err := g.walk(fmt.Sprintf("%s[%d]", path, i), val); err != nil {
				return err
			}
		}
	}
	return nil
}
