package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/interfaces"
)

var (
	_ interfaces.RunLocker = (*LocalLocker)(nil)
	_ interfaces.RunLocker = (*RedisLocker)(nil)
)

func exerciseLocker(t *testing.T, locker interfaces.RunLocker) {
	t.Helper()
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "acc_1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "acc_1")
	require.NoError(t, err)
	assert.False(t, ok, "second run on the same account must not start")

	other, ok, err := locker.TryLock(ctx, "acc_2")
	require.NoError(t, err)
	assert.True(t, ok, "other accounts are independent")
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))

	again, ok, err := locker.TryLock(ctx, "acc_1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, again(ctx))
}

func TestLocalLocker(t *testing.T) {
	exerciseLocker(t, NewLocalLocker())
}

func TestLocalLocker_ReleaseIsIdempotent(t *testing.T) {
	locker := NewLocalLocker()
	release, ok, err := locker.TryLock(context.Background(), "acc_1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, release(context.Background()))
	require.NoError(t, release(context.Background()))
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLocker(t *testing.T) {
	_, client := setupRedis(t)
	exerciseLocker(t, NewRedisLocker(client, time.Minute, nil))
}

func TestRedisLocker_SharedAcrossInstances(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	first := NewRedisLocker(client, time.Minute, nil)
	second := NewRedisLocker(client, time.Minute, nil)

	release, ok, err := first.TryLock(ctx, "acc_1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.TryLock(ctx, "acc_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
}

func TestRedisLocker_ExpiredLockIsNotHeld(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	locker := NewRedisLocker(client, time.Second, nil)

	release, ok, err := locker.TryLock(ctx, "acc_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists(DefaultKeyPrefix+"acc_1"))

	mr.FastForward(2 * time.Second)
	assert.False(t, mr.Exists(DefaultKeyPrefix+"acc_1"))

	err = release(ctx)
	assert.Error(t, err)
}
