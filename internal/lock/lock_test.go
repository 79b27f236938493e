package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, ttl), mr
}

func lockers(t *testing.T) map[string]Locker {
	t.Helper()
	rl, _ := newRedisLocker(t, time.Minute)
	return map[string]Locker{
		"redis":  rl,
		"memory": NewMemoryLocker(),
	}
}

func TestLocker_AcquireRelease(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			token, err := l.Acquire(ctx, "inst-1")
			require.NoError(t, err)
			assert.Equal(t, "inst-1", token.InstanceID)

			_, err = l.Acquire(ctx, "inst-1")
			require.ErrorIs(t, err, ErrLocked)

			// Different instances are independent.
			other, err := l.Acquire(ctx, "inst-2")
			require.NoError(t, err)
			require.NoError(t, l.Release(ctx, other))

			require.NoError(t, l.Refresh(ctx, token))
			require.NoError(t, l.Release(ctx, token))
			require.ErrorIs(t, l.Release(ctx, token), ErrNotHeld)
			require.ErrorIs(t, l.Refresh(ctx, token), ErrNotHeld)

			again, err := l.Acquire(ctx, "inst-1")
			require.NoError(t, err)
			require.NoError(t, l.Release(ctx, again))
		})
	}
}

func TestLocker_ExactlyOneWinner(t *testing.T) {
	const contenders = 32

	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var (
				wg      sync.WaitGroup
				wins    atomic.Int32
				busy    atomic.Int32
				start   = make(chan struct{})
				unknown = make(chan error, contenders)
			)
			for i := 0; i < contenders; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := l.Acquire(ctx, "inst-1")
					switch {
					case err == nil:
						wins.Add(1)
					case errors.Is(err, ErrLocked):
						busy.Add(1)
					default:
						unknown <- err
					}
				}()
			}
			close(start)
			wg.Wait()
			close(unknown)

			for err := range unknown {
				t.Fatalf("unexpected error: %v", err)
			}
			assert.Equal(t, int32(1), wins.Load())
			assert.Equal(t, int32(contenders-1), busy.Load())
		})
	}
}

func TestRedisLocker_Expiry(t *testing.T) {
	l, mr := newRedisLocker(t, time.Second)
	ctx := context.Background()

	token, err := l.Acquire(ctx, "inst-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	// The expired lock can be taken by someone else and the old token
	// can no longer release it.
	thief, err := l.Acquire(ctx, "inst-1")
	require.NoError(t, err)
	require.ErrorIs(t, l.Release(ctx, token), ErrNotHeld)
	require.NoError(t, l.Release(ctx, thief))
}

func TestRedisLocker_RefreshExtendsTTL(t *testing.T) {
	l, mr := newRedisLocker(t, 10*time.Second)
	ctx := context.Background()

	token, err := l.Acquire(ctx, "inst-1")
	require.NoError(t, err)

	mr.FastForward(8 * time.Second)
	require.NoError(t, l.Refresh(ctx, token))
	mr.FastForward(8 * time.Second)

	_, err = l.Acquire(ctx, "inst-1")
	require.ErrorIs(t, err, ErrLocked)
}

func TestKeepAlive(t *testing.T) {
	l := &countingLocker{Locker: NewMemoryLocker()}
	ctx := context.Background()

	token, err := l.Acquire(ctx, "inst-1")
	require.NoError(t, err)

	stop := KeepAlive(ctx, l, token, 5*time.Millisecond, zaptest.NewLogger(t))
	require.Eventually(t, func() bool { return l.refreshes.Load() >= 2 }, time.Second, time.Millisecond)
	stop()

	n := l.refreshes.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, l.refreshes.Load())
}

type countingLocker struct {
	Locker
	refreshes atomic.Int32
}

func (c *countingLocker) Refresh(ctx context.Context, token *Token) error {
	c.refreshes.Add(1)
	return c.Locker.Refresh(ctx, token)
}
