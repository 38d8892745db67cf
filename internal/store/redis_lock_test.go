package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisC.Terminate(ctx) })

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRedisLockerExclusive(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()

	a := NewRedisLocker(rdb, "turnkeeper:test:lock", time.Minute)
	b := NewRedisLocker(rdb, "turnkeeper:test:lock", time.Minute)

	unlock, err := a.Lock(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = b.Lock(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlockB, err := b.Lock(ctx)
	require.NoError(t, err)

	// a release carrying another holder's token must not drop b's lease
	a.releaser("stale-token", nil)()
	held, err := rdb.Exists(ctx, "turnkeeper:test:lock").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, held)
	unlockB()

	held, err = rdb.Exists(ctx, "turnkeeper:test:lock").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, held)
}

func TestRedisLockerRenewsLeaseWhileHeld(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	const key = "turnkeeper:test:renew"

	a := NewRedisLocker(rdb, key, 300*time.Millisecond)
	b := NewRedisLocker(rdb, key, 300*time.Millisecond)

	unlock, err := a.Lock(ctx)
	require.NoError(t, err)

	// hold for several lease lengths
	time.Sleep(time.Second)

	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = b.Lock(waitCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded, "second holder entered while the first still held the lock")

	ttl, err := rdb.PTTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	unlock()
	held, err := rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, held)

	unlockB, err := b.Lock(ctx)
	require.NoError(t, err)
	unlockB()
}

func TestRedisLockerStopsRenewingAfterRelease(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	const key = "turnkeeper:test:stop"

	a := NewRedisLocker(rdb, key, 300*time.Millisecond)
	unlock, err := a.Lock(ctx)
	require.NoError(t, err)
	unlock()
	unlock()

	// a new holder's lease must lapse on its own schedule, untouched by a
	require.NoError(t, rdb.Set(ctx, key, "other", 200*time.Millisecond).Err())
	time.Sleep(400 * time.Millisecond)
	held, err := rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, held)
}
