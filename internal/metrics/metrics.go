// Package metrics defines the Prometheus instruments for the lead pipeline.
// The handle is passed explicitly through the orchestrator and worker; tests
// construct one against a throwaway registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every instrument the pipeline emits.
type Metrics struct {
	LeadsProcessed     *prometheus.CounterVec
	MCPActions         *prometheus.CounterVec
	GroundingDecisions *prometheus.CounterVec
	RateLimitHits      *prometheus.CounterVec
	SafetyBlocks       *prometheus.CounterVec

	CircuitBreakerState *prometheus.GaugeVec

	AIAnalysisDuration prometheus.Histogram
	ActionDuration     *prometheus.HistogramVec
	CRMAPIDuration     *prometheus.HistogramVec
}

// New registers all pipeline instruments on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LeadsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leads_processed_total",
			Help: "Leads that finished a processing attempt, by terminal status.",
		}, []string{"status"}),

		MCPActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_actions_total",
			Help: "CRM tool executions, by tool, outcome, and provider.",
		}, []string{"tool", "status", "crm_provider"}),

		GroundingDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_grounding_decisions_total",
			Help: "Grounding validator outcomes.",
		}, []string{"status"}),

		RateLimitHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_rate_limit_violations_total",
			Help: "Rate limit violations by tier.",
		}, []string{"limit_type"}),

		SafetyBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_safety_blocks_total",
			Help: "Safety guard rejections by tool and reason.",
		}, []string{"tool", "reason"}),

		CircuitBreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcp_circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"crm_provider", "operation"}),

		AIAnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ai_analysis_duration_seconds",
			Help:    "Wall-clock duration of AI analysis calls.",
			Buckets: prometheus.DefBuckets,
		}),

		ActionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_action_duration_seconds",
			Help:    "Duration of individual MCP actions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool", "crm_provider"}),

		CRMAPIDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_crm_api_duration_seconds",
			Help:    "Duration of raw CRM API calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"crm_provider", "operation", "status"}),
	}
}

// NewInert returns a metrics handle backed by a private registry, for unit
// tests that need a non-nil handle without global registration.
func NewInert() *Metrics {
	return New(prometheus.NewRegistry())
}
