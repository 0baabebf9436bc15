// Package queue implements a durable, at-least-once work queue on Redis.
//
// A job id moves between three structures: the ready list, the processing
// list of reserved jobs, and the delayed sorted set of retries scored by the
// time they become due. The job envelope is stored under its own key and is
// removed only on Ack.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"ledger/internal/config"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// ErrNoJob is returned by Reserve when nothing became ready before the timeout.
var ErrNoJob = errors.New("no job available")

// Job is the envelope stored for each queued job.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	ReservedAt  *time.Time      `json:"reserved_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// Exhausted reports whether the job used up its attempts.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// NewJobID returns a sortable unique job id.
func NewJobID() string {
	return ulid.Make().String()
}

// promoteScript moves due ids from the delayed set to the ready list.
var promoteScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("LPUSH", KEYS[2], id)
end
return #ids
`)

// RedisQueue is a named queue backed by a redis client.
type RedisQueue struct {
	client      *redis.Client
	name        string
	maxAttempts int
	backoffBase time.Duration
	visibility  time.Duration
}

func NewRedisQueue(client *redis.Client, cfg config.QueueConfig) *RedisQueue {
	return &RedisQueue{
		client:      client,
		name:        cfg.Name,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		visibility:  cfg.VisibilityTTL,
	}
}

func (q *RedisQueue) Name() string     { return q.name }
func (q *RedisQueue) MaxAttempts() int { return q.maxAttempts }

func (q *RedisQueue) readyKey() string      { return "queue:" + q.name + ":ready" }
func (q *RedisQueue) processingKey() string { return "queue:" + q.name + ":processing" }
func (q *RedisQueue) delayedKey() string    { return "queue:" + q.name + ":delayed" }
func (q *RedisQueue) unstampedKey() string  { return "queue:" + q.name + ":unstamped" }
func (q *RedisQueue) jobKey(id string) string {
	return "queue:" + q.name + ":job:" + id
}

// Enqueue stores the envelope and makes the job ready.
func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = NewJobID()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = q.maxAttempts
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), data, 0)
		pipe.LPush(ctx, q.readyKey(), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Reserve blocks up to timeout for a ready job, moves it to the processing
// list and counts the attempt.
func (q *RedisQueue) Reserve(ctx context.Context, timeout time.Duration) (*Job, error) {
	id, err := q.client.BLMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoJob
		}
		return nil, fmt.Errorf("failed to reserve job: %w", err)
	}

	job, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// envelope was acked by a previous delivery
		q.client.LRem(ctx, q.processingKey(), 1, id)
		return nil, ErrNoJob
	}

	now := time.Now().UTC()
	job.Attempts++
	job.ReservedAt = &now
	if err := q.save(ctx, q.client, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Ack removes a finished job, successful or dead.
func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(), 1, job.ID)
		pipe.Del(ctx, q.jobKey(job.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack job %s: %w", job.ID, err)
	}
	return nil
}

// Retry schedules job to become ready again after delay.
func (q *RedisQueue) Retry(ctx context.Context, job *Job, delay time.Duration, cause error) error {
	if cause != nil {
		job.LastError = cause.Error()
	}
	job.ReservedAt = nil
	dueAt := time.Now().Add(delay)

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := q.save(ctx, pipe, job); err != nil {
			return err
		}
		pipe.LRem(ctx, q.processingKey(), 1, job.ID)
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(dueAt.UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retry for job %s: %w", job.ID, err)
	}
	return nil
}

// Backoff returns the delay before the next attempt: base * 2^(attempts-1).
func (q *RedisQueue) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(float64(q.backoffBase) * math.Pow(2, float64(attempts-1)))
}

// PromoteDue moves retries whose time has come to the ready list.
func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time, limit int) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey(), q.readyKey()},
		now.UnixMilli(), limit,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to promote delayed jobs: %w", err)
	}
	return n, nil
}

// RequeueStale returns reserved jobs whose worker has held them longer than
// the visibility timeout to the ready list.
//
// A job without ReservedAt is between BLMOVE and the envelope write in
// Reserve. Its first sighting is recorded instead and it is only requeued
// once that sighting is older than the visibility timeout.
func (q *RedisQueue) RequeueStale(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list processing jobs: %w", err)
	}

	requeued := 0
	for _, id := range ids {
		job, err := q.load(ctx, id)
		if err != nil {
			return requeued, err
		}
		if job != nil {
			held, err := q.heldSince(ctx, job, now)
			if err != nil {
				return requeued, err
			}
			if now.Sub(held) < q.visibility {
				continue
			}
		}
		removed, err := q.client.LRem(ctx, q.processingKey(), 1, id).Result()
		if err != nil {
			return requeued, fmt.Errorf("failed to release job %s: %w", id, err)
		}
		q.client.HDel(ctx, q.unstampedKey(), id)
		if removed == 0 || job == nil {
			continue
		}
		if err := q.client.LPush(ctx, q.readyKey(), id).Err(); err != nil {
			return requeued, fmt.Errorf("failed to requeue job %s: %w", id, err)
		}
		requeued++
	}
	return requeued, nil
}

// heldSince is ReservedAt, or the first time the sweep saw the job unstamped.
func (q *RedisQueue) heldSince(ctx context.Context, job *Job, now time.Time) (time.Time, error) {
	if job.ReservedAt != nil {
		q.client.HDel(ctx, q.unstampedKey(), job.ID)
		return *job.ReservedAt, nil
	}
	if _, err := q.client.HSetNX(ctx, q.unstampedKey(), job.ID, now.UnixMilli()).Result(); err != nil {
		return now, fmt.Errorf("failed to mark job %s unstamped: %w", job.ID, err)
	}
	ms, err := q.client.HGet(ctx, q.unstampedKey(), job.ID).Int64()
	if err != nil {
		return now, fmt.Errorf("failed to read job %s first sighting: %w", job.ID, err)
	}
	return time.UnixMilli(ms), nil
}

// Exists reports whether the job is still held by the queue.
func (q *RedisQueue) Exists(ctx context.Context, id string) (bool, error) {
	n, err := q.client.Exists(ctx, q.jobKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check job %s: %w", id, err)
	}
	return n > 0, nil
}

// Stats is a snapshot of queue depth.
type Stats struct {
	Ready      int64
	Processing int64
	Delayed    int64
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey())
	processing := pipe.LLen(ctx, q.processingKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return Stats{Ready: ready.Val(), Processing: processing.Val(), Delayed: delayed.Val()}, nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

func (q *RedisQueue) save(ctx context.Context, c redis.Cmdable, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return c.Set(ctx, q.jobKey(job.ID), data, 0).Err()
}
