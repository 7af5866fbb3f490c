// Package queue implements the durable lead job queue over Redis.
//
// Layout per queue q (base key bull:<q>):
//
//	bull:<q>:wait     list of ready jobs (LPUSH head, leased from tail)
//	bull:<q>:active   list of leased jobs
//	bull:<q>:delayed  zset of retrying jobs scored by ready time
//	bull:<q>:lease:<jobID>  per-lease heartbeat key with TTL
//
// Delivery is at-least-once: a worker that dies mid-job loses its lease key
// and the reaper returns the job to the wait list.
package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// Cmdable is the slice of the Redis API the queue uses. *redis.Client
// satisfies it; tests substitute an in-memory fake.
type Cmdable interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	LMove(ctx context.Context, source, destination, srcpos, destpos string) *redis.StringCmd
	BLMove(ctx context.Context, source, destination, srcpos, destpos string, timeout time.Duration) *redis.StringCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// Config tunes queue behavior.
type Config struct {
	// MaxAttempts is the delivery budget per job before it moves to the DLQ.
	// Default: 5.
	MaxAttempts int

	// BaseDelay seeds the exponential retry backoff: base * 2^(attempts-1).
	// Default: 1s.
	BaseDelay time.Duration

	// LeaseTTL is how long a leased job stays invisible without renewal.
	// Default: 90s.
	LeaseTTL time.Duration

	// PollInterval bounds each blocking pop so lease renewal, delayed
	// promotion, and cancellation stay responsive. Default: 1s.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 90 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Client is a durable queue client bound to one Redis connection.
type Client struct {
	rdb     Cmdable
	cfg     Config
	nowFunc func() time.Time
}

// NewClient creates a queue client.
func NewClient(rdb Cmdable, cfg Config) *Client {
	return &Client{rdb: rdb, cfg: cfg.withDefaults(), nowFunc: time.Now}
}

// LeasedJob is a job held under lease by this worker. Raw is the exact list
// member, needed to remove the job on ack/fail.
type LeasedJob struct {
	Job model.Job
	Raw string
}

func baseKey(queue string) string   { return "bull:" + queue }
func waitKey(queue string) string   { return baseKey(queue) + ":wait" }
func activeKey(queue string) string { return baseKey(queue) + ":active" }
func delayedKey(queue string) string {
	return baseKey(queue) + ":delayed"
}
func leaseKey(queue, jobID string) string {
	return baseKey(queue) + ":lease:" + jobID
}

// DLQName returns the dead-letter queue name for a base queue.
func DLQName(queue string) string { return queue + "-dlq" }

// Enqueue appends a new job for the given lead to the queue.
func (c *Client) Enqueue(ctx context.Context, queueName string, payload model.JobPayload) (*model.Job, error) {
	job := model.Job{
		ID:          uuid.New().String(),
		Queue:       queueName,
		Data:        payload,
		Attempts:    0,
		MaxAttempts: c.cfg.MaxAttempts,
		FirstSeen:   c.nowFunc().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, eris.Wrap(err, "queue: marshal job")
	}
	if err := c.rdb.LPush(ctx, waitKey(queueName), string(raw)).Err(); err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "queue: enqueue"), 0)
	}
	return &job, nil
}

// Lease blocks until a job is available or ctx is cancelled. Each cycle it
// promotes due delayed jobs and reclaims stalled leases before popping.
func (c *Client) Lease(ctx context.Context, queueName string) (*LeasedJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "queue: lease cancelled")
		}

		if err := c.promoteDelayed(ctx, queueName); err != nil {
			zap.L().Warn("queue: promote delayed failed", zap.String("queue", queueName), zap.Error(err))
		}
		if err := c.reapStalled(ctx, queueName); err != nil {
			zap.L().Warn("queue: reap stalled failed", zap.String("queue", queueName), zap.Error(err))
		}

		raw, err := c.rdb.BLMove(ctx, waitKey(queueName), activeKey(queueName), "RIGHT", "LEFT", c.cfg.PollInterval).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "queue: lease cancelled")
			}
			return nil, resilience.NewTransientError(eris.Wrap(err, "queue: lease pop"), 0)
		}

		var job model.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			// Poison entry: drop it rather than wedge the queue.
			zap.L().Error("queue: dropping unparseable job", zap.String("raw", raw), zap.Error(err))
			_ = c.rdb.LRem(ctx, activeKey(queueName), 1, raw).Err()
			continue
		}

		if err := c.rdb.Set(ctx, leaseKey(queueName, job.ID), "1", c.cfg.LeaseTTL).Err(); err != nil {
			zap.L().Warn("queue: set lease failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		return &LeasedJob{Job: job, Raw: raw}, nil
	}
}

// RenewLease extends the lease on a held job.
func (c *Client) RenewLease(ctx context.Context, j *LeasedJob) error {
	err := c.rdb.Set(ctx, leaseKey(j.Job.Queue, j.Job.ID), "1", c.cfg.LeaseTTL).Err()
	return eris.Wrap(err, "queue: renew lease")
}

// Ack marks a job done and removes it from the active list.
func (c *Client) Ack(ctx context.Context, j *LeasedJob) error {
	if err := c.rdb.LRem(ctx, activeKey(j.Job.Queue), 1, j.Raw).Err(); err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "queue: ack"), 0)
	}
	_ = c.rdb.Del(ctx, leaseKey(j.Job.Queue, j.Job.ID)).Err()
	return nil
}

// Fail records a failed attempt. The job is rescheduled with exponential
// backoff, or published to the DLQ once attempts are exhausted. minDelay, when
// positive, raises the reschedule delay floor (used to honour retry-after
// hints). Returns true when the job moved to the DLQ.
func (c *Client) Fail(ctx context.Context, j *LeasedJob, jobErr error, minDelay time.Duration) (bool, error) {
	job := j.Job
	job.Attempts++
	if jobErr != nil {
		job.LastError = jobErr.Error()
	}

	if err := c.rdb.LRem(ctx, activeKey(job.Queue), 1, j.Raw).Err(); err != nil {
		return false, resilience.NewTransientError(eris.Wrap(err, "queue: fail remove"), 0)
	}
	_ = c.rdb.Del(ctx, leaseKey(job.Queue, job.ID)).Err()

	if job.Attempts >= job.MaxAttempts {
		entry := model.DLQEntry{
			OriginalJobID: job.ID,
			LeadID:        job.Data.LeadID,
			Error:         job.LastError,
			AttemptsMade:  job.Attempts,
			FailedAt:      c.nowFunc().UTC(),
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			return false, eris.Wrap(err, "queue: marshal dlq entry")
		}
		if err := c.rdb.LPush(ctx, waitKey(DLQName(job.Queue)), string(raw)).Err(); err != nil {
			return false, resilience.NewTransientError(eris.Wrap(err, "queue: publish dlq"), 0)
		}
		zap.L().Warn("queue: job exhausted, moved to dlq",
			zap.String("job_id", job.ID),
			zap.Int64("lead_id", job.Data.LeadID),
			zap.Int("attempts", job.Attempts),
		)
		return true, nil
	}

	delay := RetryDelay(c.cfg.BaseDelay, job.Attempts)
	if minDelay > delay {
		delay = minDelay
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return false, eris.Wrap(err, "queue: marshal retry job")
	}
	readyAt := c.nowFunc().Add(delay)
	if err := c.rdb.ZAdd(ctx, delayedKey(job.Queue), redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: string(raw),
	}).Err(); err != nil {
		return false, resilience.NewTransientError(eris.Wrap(err, "queue: schedule retry"), 0)
	}
	return false, nil
}

// RetryDelay computes the backoff before the given delivery attempt:
// base * 2^(attempts-1).
func RetryDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

// promoteDelayed moves due retry jobs back onto the wait list. ZRem gates the
// push so concurrent workers cannot double-promote one member.
func (c *Client) promoteDelayed(ctx context.Context, queueName string) error {
	now := strconv.FormatInt(c.nowFunc().UnixMilli(), 10)
	due, err := c.rdb.ZRangeByScore(ctx, delayedKey(queueName), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		return eris.Wrap(err, "queue: range delayed")
	}
	for _, raw := range due {
		removed, err := c.rdb.ZRem(ctx, delayedKey(queueName), raw).Result()
		if err != nil {
			return eris.Wrap(err, "queue: remove delayed")
		}
		if removed == 0 {
			continue // another worker won the promotion
		}
		if err := c.rdb.LPush(ctx, waitKey(queueName), raw).Err(); err != nil {
			return eris.Wrap(err, "queue: promote")
		}
	}
	return nil
}

// reapStalled returns active jobs whose lease key has expired to the wait
// list so another worker can pick them up.
func (c *Client) reapStalled(ctx context.Context, queueName string) error {
	active, err := c.rdb.LRange(ctx, activeKey(queueName), 0, -1).Result()
	if err != nil {
		return eris.Wrap(err, "queue: range active")
	}
	for _, raw := range active {
		var job model.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		n, err := c.rdb.Exists(ctx, leaseKey(queueName, job.ID)).Result()
		if err != nil {
			return eris.Wrap(err, "queue: check lease")
		}
		if n > 0 {
			continue
		}
		removed, err := c.rdb.LRem(ctx, activeKey(queueName), 1, raw).Result()
		if err != nil {
			return eris.Wrap(err, "queue: reap remove")
		}
		if removed == 0 {
			continue
		}
		zap.L().Info("queue: reclaimed stalled job", zap.String("job_id", job.ID))
		if err := c.rdb.LPush(ctx, waitKey(queueName), raw).Err(); err != nil {
			return eris.Wrap(err, "queue: reap requeue")
		}
	}
	return nil
}

// Depths reports the wait, active, and delayed sizes for a queue.
func (c *Client) Depths(ctx context.Context, queueName string) (wait, active, delayed int64, err error) {
	if wait, err = c.rdb.LLen(ctx, waitKey(queueName)).Result(); err != nil {
		return 0, 0, 0, eris.Wrap(err, "queue: wait depth")
	}
	if active, err = c.rdb.LLen(ctx, activeKey(queueName)).Result(); err != nil {
		return 0, 0, 0, eris.Wrap(err, "queue: active depth")
	}
	if delayed, err = c.rdb.ZCard(ctx, delayedKey(queueName)).Result(); err != nil {
		return 0, 0, 0, eris.Wrap(err, "queue: delayed depth")
	}
	return wait, active, delayed, nil
}

// PopDLQ removes and returns one entry from the queue's DLQ, or nil when the
// DLQ is empty.
func (c *Client) PopDLQ(ctx context.Context, queueName string) (*model.DLQEntry, error) {
	dlq := DLQName(queueName)
	raw, err := c.rdb.LMove(ctx, waitKey(dlq), activeKey(dlq), "RIGHT", "LEFT").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "queue: pop dlq"), 0)
	}
	var entry model.DLQEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		_ = c.rdb.LRem(ctx, activeKey(dlq), 1, raw).Err()
		return nil, eris.Wrap(err, "queue: decode dlq entry")
	}
	// DLQ processing is one-shot; drop the working copy immediately.
	_ = c.rdb.LRem(ctx, activeKey(dlq), 1, raw).Err()
	return &entry, nil
}

// ListDLQ returns up to limit DLQ entries without removing them.
func (c *Client) ListDLQ(ctx context.Context, queueName string, limit int64) ([]model.DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	raws, err := c.rdb.LRange(ctx, waitKey(DLQName(queueName)), 0, limit-1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "queue: list dlq")
	}
	entries := make([]model.DLQEntry, 0, len(raws))
	for _, raw := range raws {
		var e model.DLQEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// RequeueDLQ drains up to limit DLQ entries back onto the main queue as fresh
// jobs. Returns the number requeued.
func (c *Client) RequeueDLQ(ctx context.Context, queueName string, limit int) (int, error) {
	requeued := 0
	for i := 0; limit <= 0 || i < limit; i++ {
		entry, err := c.PopDLQ(ctx, queueName)
		if err != nil {
			return requeued, err
		}
		if entry == nil {
			break
		}
		if _, err := c.Enqueue(ctx, queueName, model.JobPayload{LeadID: entry.LeadID}); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}
