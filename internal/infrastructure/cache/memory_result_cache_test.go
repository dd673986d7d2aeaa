package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

func TestMemoryResultCache_PutGet(t *testing.T) {
	c := NewMemoryResultCache()
	now := time.Now()
	rec := &entity.IdempotencyRecord{TenantID: "t1", Key: "k1", Result: []byte(`{"a":1}`), ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, c.Put(context.Background(), rec))

	got, err := c.Get(context.Background(), "t1", "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Result, got.Result)

	other, err := c.Get(context.Background(), "t2", "k1")
	require.NoError(t, err)
	assert.Nil(t, other, "las keys son por tenant")
}

func TestMemoryResultCache_Vencido(t *testing.T) {
	c := NewMemoryResultCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.Put(context.Background(), &entity.IdempotencyRecord{TenantID: "t1", Key: "k1", ExpiresAt: now.Add(-time.Second)}))

	got, err := c.Get(context.Background(), "t1", "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryResultCache_PutBarreVencidos(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemoryResultCache().WithClock(func() time.Time { return now })
	ctx := context.Background()
	for _, k := range []string{"k1", "k2", "k3"} {
		require.NoError(t, c.Put(ctx, &entity.IdempotencyRecord{TenantID: "t1", Key: k, ExpiresAt: now.Add(time.Hour)}))
	}
	assert.Equal(t, 3, c.Len())

	now = now.Add(2 * time.Hour)
	require.NoError(t, c.Put(ctx, &entity.IdempotencyRecord{TenantID: "t1", Key: "k4", ExpiresAt: now.Add(time.Hour)}))
	assert.Equal(t, 1, c.Len(), "las vencidas se eliminan al escribir")

	require.NoError(t, c.Put(ctx, &entity.IdempotencyRecord{TenantID: "t1", Key: "old", ExpiresAt: now.Add(-time.Second)}))
	assert.Equal(t, 1, c.Len(), "un registro vencido no se guarda")
}

func TestMemoryResultCache_DosPuntosNoColisionan(t *testing.T) {
	c := NewMemoryResultCache()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)
	require.NoError(t, c.Put(ctx, &entity.IdempotencyRecord{TenantID: "a:b", Key: "c", Result: []byte(`1`), ExpiresAt: exp}))
	require.NoError(t, c.Put(ctx, &entity.IdempotencyRecord{TenantID: "a", Key: "b:c", Result: []byte(`2`), ExpiresAt: exp}))

	first, err := c.Get(ctx, "a:b", "c")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, []byte(`1`), first.Result)

	second, err := c.Get(ctx, "a", "b:c")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, []byte(`2`), second.Result)
	assert.Equal(t, 2, c.Len())
}

func TestRedisResultCache_ClaveSinAmbiguedad(t *testing.T) {
	c := NewRedisResultCache(nil, "")
	assert.NotEqual(t, c.key("a:b", "c"), c.key("a", "b:c"))
	assert.Equal(t, "idempotency:t1\x00k1", c.key("t1", "k1"))
}
