package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ledger/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*miniredis.Miniredis, *RedisQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisQueue(client, config.QueueConfig{
		Name:          "wallet-transactions",
		MaxAttempts:   3,
		BackoffBase:   2 * time.Second,
		VisibilityTTL: time.Minute,
	})
}

func TestRedisQueue_EnqueueReserveAck(t *testing.T) {
	mr, q := newTestQueue(t)
	ctx := context.Background()

	job := &Job{Type: "deposit", Payload: json.RawMessage(`{"wallet_id":"w1"}`)}
	require.NoError(t, q.Enqueue(ctx, job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 3, job.MaxAttempts)

	got, err := q.Reserve(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.ReservedAt)
	assert.JSONEq(t, `{"wallet_id":"w1"}`, string(got.Payload))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Ready: 0, Processing: 1, Delayed: 0}, stats)

	require.NoError(t, q.Ack(ctx, got))
	exists, err := q.Exists(ctx, got.ID)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.False(t, mr.Exists("queue:wallet-transactions:processing"))
}

func TestRedisQueue_ReserveEmpty(t *testing.T) {
	_, q := newTestQueue(t)

	_, err := q.Reserve(context.Background(), 50*time.Millisecond)
	assert.True(t, errors.Is(err, ErrNoJob))
}

func TestRedisQueue_FIFO(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	first := &Job{Type: "deposit"}
	second := &Job{Type: "withdraw"}
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	got, err := q.Reserve(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestRedisQueue_RetryAndPromote(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Job{Type: "withdraw"}))
	job, err := q.Reserve(ctx, 50*time.Millisecond)
	require.NoError(t, err)

	delay := q.Backoff(job.Attempts)
	assert.Equal(t, 2*time.Second, delay)
	require.NoError(t, q.Retry(ctx, job, delay, errors.New("db timeout")))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Ready: 0, Processing: 0, Delayed: 1}, stats)

	n, err := q.PromoteDue(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "retry is not due yet")

	n, err = q.PromoteDue(ctx, time.Now().Add(3*time.Second), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := q.Reserve(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
	assert.Equal(t, "db timeout", again.LastError)
}

func TestRedisQueue_Backoff(t *testing.T) {
	_, q := newTestQueue(t)

	assert.Equal(t, 2*time.Second, q.Backoff(1))
	assert.Equal(t, 4*time.Second, q.Backoff(2))
	assert.Equal(t, 8*time.Second, q.Backoff(3))
	assert.Equal(t, 2*time.Second, q.Backoff(0))
}

func TestRedisQueue_RequeueStale(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Job{Type: "deposit"}))
	job, err := q.Reserve(ctx, 50*time.Millisecond)
	require.NoError(t, err)

	n, err := q.RequeueStale(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "fresh reservations stay with their worker")

	n, err = q.RequeueStale(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := q.Reserve(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
}

func TestRedisQueue_RequeueStaleWaitsForUnstampedJob(t *testing.T) {
	tests := []struct {
		name           string
		secondSweep    time.Duration
		wantRequeued   int
		wantProcessing int64
	}{
		{"second sweep within visibility", 30 * time.Second, 0, 1},
		{"second sweep after visibility", 2 * time.Minute, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr, q := newTestQueue(t)
			ctx := context.Background()

			// Moved to processing by BLMOVE, envelope not yet stamped.
			job := &Job{ID: "unstamped", Type: "deposit", MaxAttempts: 3}
			require.NoError(t, q.save(ctx, q.client, job))
			_, err := mr.Lpush("queue:wallet-transactions:processing", job.ID)
			require.NoError(t, err)

			now := time.Now()
			n, err := q.RequeueStale(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			n, err = q.RequeueStale(ctx, now.Add(tt.secondSweep))
			require.NoError(t, err)
			assert.Equal(t, tt.wantRequeued, n)

			stats, err := q.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantProcessing, stats.Processing)
			assert.Equal(t, int64(tt.wantRequeued), stats.Ready)
		})
	}
}

func TestRedisQueue_ReserveSkipsAckedEnvelope(t *testing.T) {
	mr, q := newTestQueue(t)
	ctx := context.Background()

	_, err := mr.Lpush("queue:wallet-transactions:ready", "ghost")
	require.NoError(t, err)

	_, err = q.Reserve(ctx, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoJob)
	assert.False(t, mr.Exists("queue:wallet-transactions:processing"))
}

func TestJob_Exhausted(t *testing.T) {
	assert.False(t, (&Job{Attempts: 2, MaxAttempts: 3}).Exhausted())
	assert.True(t, (&Job{Attempts: 3, MaxAttempts: 3}).Exhausted())
}
