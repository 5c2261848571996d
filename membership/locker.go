package membership

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// LOCKER - Per-agreement mutual exclusion for freezes
// =============================================================================

// Locker acquires a named mutual-exclusion lock with a bounded wait.
// Implementations: MemoryLocker (single instance), locker/redislock,
// locker/pglock.
type Locker interface {
	// TryAcquire blocks up to timeout. It returns ErrLockBusy (possibly
	// wrapped) when the wait bound elapses, or ctx.Err() on cancellation.
	TryAcquire(ctx context.Context, key string, timeout time.Duration) (Lock, error)
}

// Lock is a held lock. Release is safe to call more than once.
type Lock interface {
	Release(ctx context.Context) error
}

// FreezeLockKey is the lock name for an agreement's freeze.
func FreezeLockKey(agreementID AgreementID) string {
	return fmt.Sprintf("membership:freeze:%d", agreementID)
}

// MemoryLocker is an in-process mutex map keyed by lock name.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]chan struct{})}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *MemoryLocker) TryAcquire(ctx context.Context, key string, timeout time.Duration) (Lock, error) {
	ch := l.slot(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return &memoryLock{ch: ch}, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", key, ErrLockBusy)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memoryLock struct {
	once sync.Once
	ch   chan struct{}
}

func (ml *memoryLock) Release(context.Context) error {
	ml.once.Do(func() { <-ml.ch })
	return nil
}
