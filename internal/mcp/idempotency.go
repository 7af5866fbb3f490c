package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// KV is the slice of the Redis API the idempotency store uses.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// IdempotencyMode selects key derivation.
type IdempotencyMode int

const (
	// IdempotencyWindowed appends a time bucket so retries inside the window
	// collapse to one effect.
	IdempotencyWindowed IdempotencyMode = iota
	// IdempotencyStable omits the time term; for upserts whose identity is
	// intrinsic.
	IdempotencyStable
)

// ProcessedResult is the stored outcome of a previously executed action.
type ProcessedResult struct {
	Processed bool
	Result    json.RawMessage
	Timestamp time.Time
}

type idempotencyRecord struct {
	Result    json.RawMessage `json:"result"`
	Timestamp time.Time       `json:"timestamp"`
}

// IdempotencyStore collapses repeated actions onto their first effect.
// A store outage fails open: the action runs again, which the at-least-once
// contract already tolerates.
type IdempotencyStore struct {
	rdb     KV
	window  time.Duration
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewIdempotencyStore creates a store. window defaults to 60 minutes and ttl
// to 48 hours.
func NewIdempotencyStore(rdb KV, window, ttl time.Duration) *IdempotencyStore {
	if window <= 0 {
		window = time.Hour
	}
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &IdempotencyStore{rdb: rdb, window: window, ttl: ttl, nowFunc: time.Now}
}

// Key derives the idempotency key for an action on an (email, campaign)
// identity. Windowed keys add the current time bucket.
func (s *IdempotencyStore) Key(email, campaignID, action string, mode IdempotencyMode) string {
	campaign := strings.ToLower(strings.TrimSpace(campaignID))
	if campaign == "" {
		campaign = "none"
	}
	parts := strings.ToLower(strings.TrimSpace(email)) +
		"::" + campaign +
		"::" + strings.ToLower(action)
	if mode == IdempotencyWindowed {
		bucket := s.nowFunc().Unix() / int64(s.window/time.Second)
		parts += fmt.Sprintf("::%d", bucket)
	}
	sum := sha256.Sum256([]byte(parts))
	return hex.EncodeToString(sum[:])
}

// IsProcessed reports whether the keyed action already ran, returning the
// stored result when it did.
func (s *IdempotencyStore) IsProcessed(ctx context.Context, key string) ProcessedResult {
	raw, err := s.rdb.Get(ctx, "idempotency:"+key).Result()
	if err == redis.Nil {
		return ProcessedResult{}
	}
	if err != nil {
		zap.L().Warn("idempotency store unavailable, failing open", zap.Error(err))
		return ProcessedResult{}
	}

	var rec idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		zap.L().Warn("idempotency record corrupt, failing open", zap.Error(err))
		return ProcessedResult{}
	}
	return ProcessedResult{Processed: true, Result: rec.Result, Timestamp: rec.Timestamp}
}

// StoreResult records an action's outcome under its key.
func (s *IdempotencyStore) StoreResult(ctx context.Context, key string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "idempotency: marshal result")
	}
	rec := idempotencyRecord{Result: raw, Timestamp: s.nowFunc().UTC()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "idempotency: marshal record")
	}
	if err := s.rdb.Set(ctx, "idempotency:"+key, string(payload), s.ttl).Err(); err != nil {
		// Fail open: losing a dedup record only risks a duplicate upsert.
		zap.L().Warn("idempotency store write failed", zap.Error(err))
	}
	return nil
}
