package membership_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cohort-engine/membership"
)

func TestMemoryLocker_BusyUntilReleased(t *testing.T) {
	ctx := context.Background()
	l := membership.NewMemoryLocker()

	first, err := l.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)

	_, err = l.TryAcquire(ctx, "k", 10*time.Millisecond)
	assert.ErrorIs(t, err, membership.ErrLockBusy)

	require.NoError(t, first.Release(ctx))
	require.NoError(t, first.Release(ctx), "second release is a no-op")

	second, err := l.TryAcquire(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestMemoryLocker_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := membership.NewMemoryLocker()

	a, err := l.TryAcquire(ctx, membership.FreezeLockKey(1), time.Second)
	require.NoError(t, err)
	defer a.Release(ctx)

	b, err := l.TryAcquire(ctx, membership.FreezeLockKey(2), 10*time.Millisecond)
	require.NoError(t, err)
	defer b.Release(ctx)
}

func TestMemoryLocker_WaiterAcquiresAfterRelease(t *testing.T) {
	ctx := context.Background()
	l := membership.NewMemoryLocker()

	held, err := l.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		held.Release(ctx)
	}()

	next, err := l.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, next.Release(ctx))
}

func TestMemoryLocker_ContextCancelled(t *testing.T) {
	l := membership.NewMemoryLocker()
	held, err := l.TryAcquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer held.Release(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.TryAcquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
