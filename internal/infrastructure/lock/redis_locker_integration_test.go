//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jhoicas/stock-ledger/internal/domain"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	addr, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisLocker_ExclusivoYTimeout(t *testing.T) {
	l := NewRedisLocker(startRedis(t), 5*time.Millisecond)
	ctx := context.Background()

	first, err := l.Acquire(ctx, "lock:t1:stock:w1:p1", time.Minute)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(waitCtx, "lock:t1:stock:w1:p1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockTimeout)

	require.NoError(t, first.Release(ctx))
	second, err := l.Acquire(ctx, "lock:t1:stock:w1:p1", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, second.Release(ctx))
}

func TestRedisLocker_LeaseVencidoNoBorraAlNuevoDueño(t *testing.T) {
	l := NewRedisLocker(startRedis(t), 5*time.Millisecond)
	ctx := context.Background()

	first, err := l.Acquire(ctx, "k", 20*time.Millisecond)
	require.NoError(t, err)

	acqCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	second, err := l.Acquire(acqCtx, "k", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, first.Release(ctx), ErrLeaseLost)
	assert.NoError(t, second.Release(ctx))
}
