package partition

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisLock(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client), mr
}

func TestRedisTryAcquireExclusiveAndReentrant(t *testing.T) {
	lock, _ := newRedisLock(t)
	ctx := context.Background()

	acquired, err := lock.TryAcquire(ctx, "acct-7", "t1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = lock.TryAcquire(ctx, "acct-7", "t2", time.Minute)
	require.NoError(t, err)
	require.False(t, acquired)

	// Same holder re-enters.
	acquired, err = lock.TryAcquire(ctx, "acct-7", "t1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestRedisReleaseIsCASOnHolder(t *testing.T) {
	lock, _ := newRedisLock(t)
	ctx := context.Background()

	_, err := lock.TryAcquire(ctx, "acct-7", "t1", time.Minute)
	require.NoError(t, err)

	released, err := lock.Release(ctx, "acct-7", "not-the-holder")
	require.NoError(t, err)
	require.False(t, released)

	locked, err := lock.IsLocked(ctx, "acct-7")
	require.NoError(t, err)
	require.True(t, locked)

	released, err = lock.Release(ctx, "acct-7", "t1")
	require.NoError(t, err)
	require.True(t, released)

	locked, err = lock.IsLocked(ctx, "acct-7")
	require.NoError(t, err)
	require.False(t, locked)
}

func TestRedisLockAutoExpires(t *testing.T) {
	lock, mr := newRedisLock(t)
	ctx := context.Background()

	_, err := lock.TryAcquire(ctx, "acct-7", "t1", 50*time.Millisecond)
	require.NoError(t, err)

	mr.FastForward(time.Second)

	acquired, err := lock.TryAcquire(ctx, "acct-7", "t2", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
}
