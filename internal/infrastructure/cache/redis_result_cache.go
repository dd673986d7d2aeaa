package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

const defaultKeyPrefix = "idempotency:"

// RedisResultCache guarda los registros de idempotencia confirmados hasta su vencimiento.
// Es solo una ruta rápida: la tabla durable sigue siendo la fuente de verdad.
type RedisResultCache struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

var _ inventory.ResultCache = (*RedisResultCache)(nil)

// NewRedisResultCache crea la cache sobre un cliente existente.
func NewRedisResultCache(client redis.UniversalClient, keyPrefix string) *RedisResultCache {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisResultCache{client: client, keyPrefix: keyPrefix, now: time.Now}
}

func (c *RedisResultCache) key(tenantID, key string) string {
	return c.keyPrefix + entryKey(tenantID, key)
}

// Get devuelve el registro o nil si no está en cache.
func (c *RedisResultCache) Get(ctx context.Context, tenantID, key string) (*entity.IdempotencyRecord, error) {
	raw, err := c.client.Get(ctx, c.key(tenantID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get idempotency record: %w", err)
	}
	var rec entity.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	if rec.Expired(c.now()) {
		return nil, nil
	}
	return &rec, nil
}

// Put guarda el registro con TTL hasta ExpiresAt.
func (c *RedisResultCache) Put(ctx context.Context, rec *entity.IdempotencyRecord) error {
	ttl := rec.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := c.client.Set(ctx, c.key(rec.TenantID, rec.Key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set idempotency record: %w", err)
	}
	return nil
}
