package lock

import (
	"context"
	"sync"
)

// MemoryLocker implements Locker within a single process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]string
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]string)}
}

// Acquire takes the instance lock or returns ErrLocked.
func (l *MemoryLocker) Acquire(_ context.Context, instanceID string) (*Token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[instanceID]; ok {
		return nil, ErrLocked
	}
	token := newToken(instanceID)
	l.held[instanceID] = token.Value
	return token, nil
}

// Release frees the instance lock if token owns it.
func (l *MemoryLocker) Release(_ context.Context, token *Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[token.InstanceID] != token.Value {
		return ErrNotHeld
	}
	delete(l.held, token.InstanceID)
	return nil
}

// Refresh is a no-op check of ownership; memory locks do not expire.
func (l *MemoryLocker) Refresh(_ context.Context, token *Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[token.InstanceID] != token.Value {
		return ErrNotHeld
	}
	return nil
}
