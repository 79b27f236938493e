// Package lock provides the per-VNF-instance mutual exclusion used by the
// LCM pipeline. A second acquire on a held instance fails immediately with
// ErrLocked; callers are expected to retry later.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrLocked is returned when the instance is locked by another operation.
	ErrLocked = errors.New("vnf instance is locked by another operation")

	// ErrNotHeld is returned when releasing or refreshing a lock whose
	// token no longer owns it.
	ErrNotHeld = errors.New("lock not held")
)

// Token proves ownership of an instance lock.
type Token struct {
	InstanceID string
	Value      string
	AcquiredAt time.Time
}

func newToken(instanceID string) *Token {
	return &Token{
		InstanceID: instanceID,
		Value:      uuid.New().String(),
		AcquiredAt: time.Now(),
	}
}

// Locker acquires and releases per-instance locks.
type Locker interface {
	// Acquire returns ErrLocked immediately if the instance is held.
	Acquire(ctx context.Context, instanceID string) (*Token, error)

	// Release frees the lock. Releasing an expired or stolen lock
	// returns ErrNotHeld.
	Release(ctx context.Context, token *Token) error

	// Refresh extends the lock's lifetime.
	Refresh(ctx context.Context, token *Token) error
}

// KeepAlive refreshes token every interval until the returned stop function
// is called. Refresh failures are logged; the pipeline keeps running and
// relies on the op-occ record for durable exclusivity.
func KeepAlive(ctx context.Context, l Locker, token *Token, interval time.Duration, logger *zap.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Refresh(ctx, token); err != nil && ctx.Err() == nil {
					logger.Warn("failed to refresh instance lock",
						zap.String("vnf_instance_id", token.InstanceID),
						zap.Error(err),
					)
				}
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}
