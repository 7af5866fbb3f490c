// Package worker consumes lead jobs: load, enrich, analyze, ground, persist,
// and drive the CRM action layer.
package worker

import (
	"context"

	"github.com/sells-group/lead-pipeline/internal/mcp"
	"github.com/sells-group/lead-pipeline/internal/model"
)

// AIProvider produces an analysis for one lead. Implementations absorb their
// own transport details; any error is converted to the fallback analysis.
type AIProvider interface {
	AnalyzeLead(ctx context.Context, lead *model.Lead, enrichment *model.CompanyData) (*model.AnalysisResult, error)
}

// ActionOrchestrator drives the MCP for a grounded analysis.
type ActionOrchestrator interface {
	Execute(ctx context.Context, lead *model.Lead, analysis *model.AnalysisResult, enrichment *model.CompanyData) mcp.Outcome
}
