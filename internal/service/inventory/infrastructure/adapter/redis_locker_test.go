package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLockerIsExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	locker, err := NewRedisLocker(f.client)
	require.NoError(t, err)

	release, ok, err := locker.TryAcquire(ctx, "expiry-sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryAcquire(ctx, "expiry-sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = locker.TryAcquire(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, release(ctx))
	_, ok, err = locker.TryAcquire(ctx, "expiry-sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockerReleaseDoesNotStealExpiredLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	locker, err := NewRedisLocker(f.client)
	require.NoError(t, err)

	release, ok, err := locker.TryAcquire(ctx, "job", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	f.mr.FastForward(2 * time.Second)
	_, ok, err = locker.TryAcquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// 第一个持有者的释放不能删掉第二个持有者的锁
	require.NoError(t, release(ctx))
	_, ok, err = locker.TryAcquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
