package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "vnfm:lock:"

// Lua script for atomic compare-and-delete.
// KEYS[1] = lock key, ARGV[1] = token value
// Returns: 1 if released, 0 if the token does not own the lock.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// Lua script for atomic compare-and-expire.
// KEYS[1] = lock key, ARGV[1] = token value, ARGV[2] = ttl in milliseconds
// Returns: 1 if extended, 0 if the token does not own the lock.
var refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX so that locks are shared by
// every process using the same Redis and expire if the holder dies.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisLocker creates a Redis-backed locker whose locks expire after ttl
// unless refreshed.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire takes the instance lock or returns ErrLocked.
func (l *RedisLocker) Acquire(ctx context.Context, instanceID string) (*Token, error) {
	token := newToken(instanceID)

	ok, err := l.client.SetNX(ctx, lockKeyPrefix+instanceID, token.Value, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return token, nil
}

// Release frees the instance lock if token still owns it.
func (l *RedisLocker) Release(ctx context.Context, token *Token) error {
	n, err := releaseScript.Run(ctx, l.client, []string{lockKeyPrefix + token.InstanceID}, token.Value).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Refresh extends the lock TTL if token still owns it.
func (l *RedisLocker) Refresh(ctx context.Context, token *Token) error {
	n, err := refreshScript.Run(ctx, l.client, []string{lockKeyPrefix + token.InstanceID}, token.Value, l.ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to refresh lock: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
