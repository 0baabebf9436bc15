package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const idempotencyLockPrefix = "idempotency_lock:"

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// IdempotencyLocker marks an idempotency key as in flight.
type IdempotencyLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyLocker(client *redis.Client, ttl time.Duration) *IdempotencyLocker {
	return &IdempotencyLocker{client: client, ttl: ttl}
}

// Releaser releases a held lock.
type Releaser interface {
	Release(ctx context.Context) error
}

// Lock is a held idempotency lock.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// TryLock sets the marker for key. ok is false when another request holds it.
func (l *IdempotencyLocker) TryLock(ctx context.Context, key string) (Releaser, bool, error) {
	lockKey := idempotencyLockPrefix + key
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return &Lock{client: l.client, key: lockKey, token: token}, true, nil
}

// Release deletes the marker if it is still ours. A lock that already
// expired is not an error.
func (lk *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, lk.client, []string{lk.key}, lk.token).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
