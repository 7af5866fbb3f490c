package mcp

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/metrics"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/tools"
)

// Status is the orchestrator's terminal outcome for one invocation.
type Status string

const (
	StatusCompleted           Status = "COMPLETED"
	StatusRejectedByGrounding Status = "REJECTED_BY_GROUNDING"
	StatusRateLimited         Status = "RATE_LIMITED"
	StatusBlocked             Status = "BLOCKED"
)

// ActionResult records the outcome of one planned action.
type ActionResult struct {
	Tool        string
	Success     bool
	Cached      bool
	CRMRecordID string
	Error       string
}

// Outcome is what the worker receives back from the MCP.
type Outcome struct {
	Status      Status
	ExecutionID string
	Actions     []ActionResult
	Errors      []string
	RetryAfter  time.Duration
	Halt        bool
	// Retryable marks a BLOCKED halt caused by a transient executor failure
	// (5xx, timeout, open breaker). The job goes back to the queue's backoff
	// machinery instead of parking; only permanent validation or safety
	// failures leave it false.
	Retryable bool
}

// AuditSink receives the append-only CRM sync log rows.
type AuditSink interface {
	AppendSyncLog(ctx context.Context, entry *model.CrmSyncLog) error
}

// Orchestrator drives the safety-checked, rate-limited, idempotent action
// sequence for one lead.
type Orchestrator struct {
	registry *tools.Registry
	executor tools.Executor
	guard    *SafetyGuard
	limiter  *TieredLimiter
	idem     *IdempotencyStore
	breakers *resilience.ServiceBreakers
	audit    AuditSink
	redactor *Redactor
	metrics  *metrics.Metrics

	nowFunc func() time.Time
}

// NewOrchestrator wires the MCP core together.
func NewOrchestrator(
	registry *tools.Registry,
	executor tools.Executor,
	guard *SafetyGuard,
	limiter *TieredLimiter,
	idem *IdempotencyStore,
	breakers *resilience.ServiceBreakers,
	audit AuditSink,
	m *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		executor: executor,
		guard:    guard,
		limiter:  limiter,
		idem:     idem,
		breakers: breakers,
		audit:    audit,
		redactor: NewRedactor(),
		metrics:  m,
		nowFunc:  time.Now,
	}
}

// Execute runs the action plan for a lead whose analysis passed grounding.
// A REJECTED analysis short-circuits before any tool runs.
func (o *Orchestrator) Execute(ctx context.Context, lead *model.Lead, analysis *model.AnalysisResult, enrichment *model.CompanyData) Outcome {
	execID := uuid.New().String()
	out := Outcome{Status: StatusCompleted, ExecutionID: execID}

	o.metrics.GroundingDecisions.WithLabelValues(string(analysis.GroundingStatus)).Inc()

	if analysis.GroundingStatus == model.GroundingRejected {
		out.Status = StatusRejectedByGrounding
		out.Halt = true
		out.Errors = append(out.Errors, analysis.GroundingErrors...)
		return out
	}

	execCtx := &ExecContext{ExecutionID: execID, Lead: lead, Timestamp: o.nowFunc()}
	if err := o.guard.ValidateContext(execCtx, analysis); err != nil {
		o.metrics.SafetyBlocks.WithLabelValues("context", "context_check").Inc()
		out.Status = StatusBlocked
		out.Halt = true
		out.Errors = append(out.Errors, err.Error())
		return out
	}

	decision := o.limiter.Check(ctx, leadKey(lead), lead.EmailDomain())
	if !decision.Allowed {
		for _, v := range decision.Violations {
			o.metrics.RateLimitHits.WithLabelValues(v.Tier).Inc()
			out.Errors = append(out.Errors, v.Message)
		}
		out.Status = StatusRateLimited
		out.RetryAfter = decision.RetryAfter(o.nowFunc())
		out.Halt = true
		return out
	}

	plan := BuildActionPlan(lead, analysis, enrichment)
	crmLeadID := ""

	for _, action := range plan {
		// Late-bind the CRM lead id produced by the upsert.
		for _, param := range action.needsLeadID {
			action.Params[param] = crmLeadID
		}

		result, halted := o.runAction(ctx, execCtx, lead, action, &out)
		if halted {
			return out
		}
		if action.Tool == "upsert_lead" && result != nil && result.CRMRecordID != "" {
			crmLeadID = result.CRMRecordID
		}
	}

	return out
}

// runAction executes one planned action through the guard, quota, breaker,
// and audit layers. The bool result reports whether the plan must halt.
func (o *Orchestrator) runAction(ctx context.Context, execCtx *ExecContext, lead *model.Lead, action Action, out *Outcome) (*tools.CRMResult, bool) {
	provider := o.executor.Provider()

	fail := func(err error, reason string) (*tools.CRMResult, bool) {
		if reason != "" {
			o.metrics.SafetyBlocks.WithLabelValues(action.Tool, reason).Inc()
		}
		o.metrics.MCPActions.WithLabelValues(action.Tool, "error", provider).Inc()
		out.Errors = append(out.Errors, action.Tool+": "+err.Error())
		out.Actions = append(out.Actions, ActionResult{Tool: action.Tool, Error: err.Error()})
		if action.Critical {
			out.Status = StatusBlocked
			out.Halt = true
			// A transient failure (5xx, timeout, breaker-open) keeps its
			// retry budget; validation and safety failures do not.
			out.Retryable = err != nil && resilience.IsTransient(err)
			return nil, true
		}
		return nil, false
	}

	if err := o.guard.CheckToolName(action.Tool); err != nil {
		return fail(err, "blocked_tool_name")
	}
	if err := o.guard.CheckParams(action.Params); err != nil {
		return fail(err, "blocked_parameter")
	}

	idemKey := o.idem.Key(lead.Email, lead.CampaignID, action.Tool, action.IdemMode)
	if prev := o.idem.IsProcessed(ctx, idemKey); prev.Processed {
		var cached tools.CRMResult
		if err := json.Unmarshal(prev.Result, &cached); err == nil {
			zap.L().Debug("mcp: idempotent replay collapsed",
				zap.String("tool", action.Tool),
				zap.String("execution_id", execCtx.ExecutionID),
			)
			o.metrics.MCPActions.WithLabelValues(action.Tool, "cached", provider).Inc()
			out.Actions = append(out.Actions, ActionResult{
				Tool: action.Tool, Success: cached.Success, Cached: true, CRMRecordID: cached.CRMRecordID,
			})
			return &cached, false
		}
	}

	crmDecision := o.limiter.CheckCRM(ctx, provider)
	if !crmDecision.Allowed {
		o.metrics.RateLimitHits.WithLabelValues(TierCRM).Inc()
		out.Status = StatusRateLimited
		out.RetryAfter = crmDecision.RetryAfter(o.nowFunc())
		out.Errors = append(out.Errors, "CRM provider rate limit exceeded")
		out.Halt = true
		return nil, true
	}

	breaker := o.breakers.Get(provider + ":" + action.Tool)
	start := o.nowFunc()
	result, err := resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (*tools.CRMResult, error) {
		return o.registry.Execute(ctx, action.Tool, action.Params)
	})
	duration := o.nowFunc().Sub(start)

	o.metrics.ActionDuration.WithLabelValues(action.Tool, provider).Observe(duration.Seconds())
	o.observeCRMCall(provider, action.Tool, duration, err)

	o.appendAudit(ctx, execCtx, lead, action, idemKey, result, duration, err)

	if err != nil {
		if rle, ok := resilience.IsRateLimited(err); ok {
			out.Status = StatusRateLimited
			out.RetryAfter = rle.RetryAfter
			out.Errors = append(out.Errors, err.Error())
			out.Halt = true
			return nil, true
		}
		reason := ""
		if resilience.IsClientError(err) {
			reason = "validation"
		}
		return fail(err, reason)
	}

	if result != nil && result.RetryAfter > 0 && !result.Success {
		out.Status = StatusRateLimited
		out.RetryAfter = result.RetryAfter
		out.Errors = append(out.Errors, action.Tool+": provider throttled")
		out.Halt = true
		return result, true
	}

	if result == nil || !result.Success {
		errMsg := "executor reported failure"
		if result != nil && result.Error != "" {
			errMsg = result.Error
		}
		o.metrics.MCPActions.WithLabelValues(action.Tool, "failure", provider).Inc()
		out.Errors = append(out.Errors, action.Tool+": "+errMsg)
		out.Actions = append(out.Actions, ActionResult{Tool: action.Tool, Error: errMsg})
		if action.Critical {
			out.Status = StatusBlocked
			out.Halt = true
			// In-band failures carry no error classification: a provider
			// hiccup reported through the result looks the same as anything
			// else, so keep the retry budget rather than park the lead.
			out.Retryable = true
			return result, true
		}
		return result, false
	}

	o.metrics.MCPActions.WithLabelValues(action.Tool, "success", provider).Inc()
	out.Actions = append(out.Actions, ActionResult{
		Tool: action.Tool, Success: true, CRMRecordID: result.CRMRecordID,
	})

	if err := o.idem.StoreResult(ctx, idemKey, result); err != nil {
		zap.L().Warn("mcp: idempotency store failed", zap.String("tool", action.Tool), zap.Error(err))
	}

	return result, false
}

func (o *Orchestrator) observeCRMCall(provider, operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	o.metrics.CRMAPIDuration.WithLabelValues(provider, operation, status).Observe(duration.Seconds())
}

// appendAudit writes one sync-log row. Audit outages are logged and skipped:
// the audit trail degrades before the pipeline does.
func (o *Orchestrator) appendAudit(ctx context.Context, execCtx *ExecContext, lead *model.Lead, action Action, idemKey string, result *tools.CRMResult, duration time.Duration, callErr error) {
	entry := &model.CrmSyncLog{
		ID:             uuid.New().String(),
		Action:         action.Tool,
		EntityType:     entityType(o.registry, action.Tool),
		Params:         o.redactor.Redact(action.Params),
		MCPExecutionID: execCtx.ExecutionID,
		IdempotencyKey: idemKey,
		Mock:           o.executor.IsMock(),
		LeadID:         &lead.ID,
		DurationMs:     duration.Milliseconds(),
		Timestamp:      o.nowFunc().UTC(),
	}
	switch {
	case callErr != nil:
		entry.Result = "error"
		entry.ErrorMessage = callErr.Error()
	case result != nil && result.Success:
		entry.Result = "success"
		entry.EntityID = result.CRMRecordID
	default:
		entry.Result = "failure"
		if result != nil {
			entry.ErrorMessage = result.Error
		}
	}

	if err := o.audit.AppendSyncLog(ctx, entry); err != nil {
		zap.L().Warn("mcp: audit append failed",
			zap.String("execution_id", execCtx.ExecutionID),
			zap.String("tool", action.Tool),
			zap.Error(err),
		)
	}
}

func entityType(r *tools.Registry, tool string) string {
	if t := r.Get(tool); t != nil {
		return t.EntityType
	}
	return "unknown"
}

func leadKey(lead *model.Lead) string {
	return "lead-" + strconv.FormatInt(lead.ID, 10)
}
