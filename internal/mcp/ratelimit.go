package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Counter is the slice of the Redis API the limiter uses. *redis.Client
// satisfies it; tests substitute a fake.
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Tier names used in limiter results and metrics labels.
const (
	TierLead    = "lead"
	TierAccount = "account"
	TierGlobal  = "global"
	TierCRM     = "crm_provider"
)

// TierStatus reports one tier's view of the current window.
type TierStatus struct {
	Tier      string        `json:"tier"`
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	ResetAt   time.Time     `json:"reset_at"`
	Window    time.Duration `json:"window"`
	Message   string        `json:"message,omitempty"`
}

// Decision is the limiter's answer for one invocation.
type Decision struct {
	Allowed    bool
	Violations []TierStatus
	Tiers      map[string]TierStatus
}

// RetryAfter returns the longest wait among violated tiers.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	var max time.Duration
	for _, v := range d.Violations {
		if wait := v.ResetAt.Sub(now); wait > max {
			max = wait
		}
	}
	if max < 0 {
		max = 0
	}
	return max
}

// LimiterConfig sets the per-tier budgets for one fixed window. The CRM
// bucket may use its own window; it defaults to the shared one.
type LimiterConfig struct {
	LeadLimit    int
	AccountLimit int
	GlobalLimit  int
	CRMLimit     int
	Window       time.Duration
	CRMWindow    time.Duration
}

// DefaultLimiterConfig returns the standard tier budgets.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		LeadLimit:    10,
		AccountLimit: 100,
		GlobalLimit:  1000,
		CRMLimit:     1000,
		Window:       time.Minute,
	}
}

// TieredLimiter implements fixed-window counting across the lead, account,
// and global tiers, plus a separate bucket per CRM provider. A limiter
// back-end outage fails open so transient Redis loss does not halt workers.
type TieredLimiter struct {
	rdb     Counter
	cfg     LimiterConfig
	nowFunc func() time.Time
}

// NewTieredLimiter creates a limiter over the shared store.
func NewTieredLimiter(rdb Counter, cfg LimiterConfig) *TieredLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.CRMWindow <= 0 {
		cfg.CRMWindow = cfg.Window
	}
	return &TieredLimiter{rdb: rdb, cfg: cfg, nowFunc: time.Now}
}

// Check consumes one token from the lead, account, and global tiers.
// accountKey may be empty (unknown domain); that tier is then skipped.
func (l *TieredLimiter) Check(ctx context.Context, leadKey, accountKey string) Decision {
	d := Decision{Allowed: true, Tiers: make(map[string]TierStatus)}

	l.consume(ctx, &d, TierLead, "lead:"+leadKey, l.cfg.LeadLimit, l.cfg.Window,
		"Per-lead rate limit exceeded")
	if accountKey != "" {
		l.consume(ctx, &d, TierAccount, "account:"+accountKey, l.cfg.AccountLimit, l.cfg.Window,
			"Per-account rate limit exceeded")
	}
	l.consume(ctx, &d, TierGlobal, "global", l.cfg.GlobalLimit, l.cfg.Window,
		"Global rate limit exceeded")

	return d
}

// CheckCRM consumes one token from the named provider's bucket.
func (l *TieredLimiter) CheckCRM(ctx context.Context, provider string) Decision {
	d := Decision{Allowed: true, Tiers: make(map[string]TierStatus)}
	window := l.cfg.CRMWindow
	if window <= 0 {
		window = l.cfg.Window
	}
	l.consume(ctx, &d, TierCRM, "crm:"+provider, l.cfg.CRMLimit, window,
		"CRM provider rate limit exceeded")
	return d
}

func (l *TieredLimiter) consume(ctx context.Context, d *Decision, tier, key string, limit int, window time.Duration, violationMsg string) {
	if limit <= 0 {
		return
	}

	now := l.nowFunc()
	windowIdx := now.Unix() / int64(window/time.Second)
	windowKey := fmt.Sprintf("ratelimit:%s:%d", key, windowIdx)
	resetAt := time.Unix((windowIdx+1)*int64(window/time.Second), 0)

	count, err := l.rdb.Incr(ctx, windowKey).Result()
	if err != nil {
		// Fail open: a limiter outage must not halt the worker.
		zap.L().Warn("rate limiter unavailable, failing open",
			zap.String("tier", tier), zap.Error(err))
		d.Tiers[tier] = TierStatus{Tier: tier, Limit: limit, Remaining: limit, ResetAt: resetAt, Window: window}
		return
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, windowKey, window).Err(); err != nil {
			zap.L().Warn("rate limiter expire failed", zap.String("key", windowKey), zap.Error(err))
		}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	status := TierStatus{
		Tier:      tier,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
		Window:    window,
	}

	if int(count) > limit {
		status.Message = violationMsg
		d.Allowed = false
		d.Violations = append(d.Violations, status)
	}
	d.Tiers[tier] = status
}
