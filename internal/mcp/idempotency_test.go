package mcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKV is an in-memory Get/Set backend.
type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func TestIdempotencyKey_NormalisationRoundTrip(t *testing.T) {
	s := NewIdempotencyStore(newFakeKV(), time.Hour, 48*time.Hour)

	base := s.Key("Jane@Acme.com ", " Spring-Launch", "upsert_lead", IdempotencyStable)
	assert.Equal(t, base, s.Key("jane@acme.com", "spring-launch", "UPSERT_LEAD", IdempotencyStable))
	assert.NotEqual(t, base, s.Key("jane@acme.com", "spring-launch", "set_lead_score", IdempotencyStable))
	assert.Len(t, base, 64)
}

func TestIdempotencyKey_EmptyCampaignUsesNone(t *testing.T) {
	s := NewIdempotencyStore(newFakeKV(), time.Hour, 0)

	withEmpty := s.Key("jane@acme.com", "", "upsert_lead", IdempotencyStable)
	withNone := s.Key("jane@acme.com", "none", "upsert_lead", IdempotencyStable)
	assert.Equal(t, withNone, withEmpty)
}

func TestIdempotencyKey_WindowedChangesAcrossBuckets(t *testing.T) {
	s := NewIdempotencyStore(newFakeKV(), time.Hour, 0)
	now := time.Unix(1_700_000_000, 0)
	s.nowFunc = func() time.Time { return now }

	k1 := s.Key("jane@acme.com", "c", "log_activity", IdempotencyWindowed)
	k2 := s.Key("jane@acme.com", "c", "log_activity", IdempotencyWindowed)
	assert.Equal(t, k1, k2)

	now = now.Add(2 * time.Hour)
	k3 := s.Key("jane@acme.com", "c", "log_activity", IdempotencyWindowed)
	assert.NotEqual(t, k1, k3)

	// Stable keys ignore time.
	s1 := s.Key("jane@acme.com", "c", "upsert_lead", IdempotencyStable)
	now = now.Add(100 * time.Hour)
	s2 := s.Key("jane@acme.com", "c", "upsert_lead", IdempotencyStable)
	assert.Equal(t, s1, s2)
}

func TestIdempotency_StoreAndReplay(t *testing.T) {
	kv := newFakeKV()
	s := NewIdempotencyStore(kv, time.Hour, 48*time.Hour)
	ctx := context.Background()

	key := s.Key("jane@acme.com", "c", "upsert_lead", IdempotencyStable)

	fresh := s.IsProcessed(ctx, key)
	assert.False(t, fresh.Processed)

	type result struct {
		RecordID string `json:"record_id"`
	}
	require.NoError(t, s.StoreResult(ctx, key, result{RecordID: "00Q123"}))

	replay := s.IsProcessed(ctx, key)
	assert.True(t, replay.Processed)
	assert.Contains(t, string(replay.Result), "00Q123")
	assert.False(t, replay.Timestamp.IsZero())
}

func TestIdempotency_FailsOpenOnOutage(t *testing.T) {
	kv := newFakeKV()
	kv.err = errors.New("connection refused")
	s := NewIdempotencyStore(kv, time.Hour, 0)
	ctx := context.Background()

	assert.False(t, s.IsProcessed(ctx, "any").Processed)
	assert.NoError(t, s.StoreResult(ctx, "any", map[string]any{"x": 1}))
}
