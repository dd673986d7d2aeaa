package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain"
)

// releaseScript borra la clave solo si conserva el token del dueño.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker lease distribuido con SET NX PX; la clave lleva un token aleatorio por lease.
type RedisLocker struct {
	client redis.UniversalClient
	retry  time.Duration
}

var _ inventory.Locker = (*RedisLocker)(nil)

// NewRedisLocker crea el locker sobre un cliente existente.
func NewRedisLocker(client redis.UniversalClient, retry time.Duration) *RedisLocker {
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	return &RedisLocker{client: client, retry: retry}
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Acquire reintenta cada retry hasta obtener la clave o que ctx venza.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (inventory.Lease, error) {
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("redis setnx %s: %w", key, err)
		}
		if err == nil && ok {
			return &redisLease{client: l.client, key: key, token: token}, nil
		}

		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, domain.ErrLockTimeout
			}
			return nil, fmt.Errorf("acquire %s: %w", key, ctx.Err())
		case <-t.C:
		}
	}
}

// Release compara y borra en un solo paso (Lua).
func (le *redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, le.client, []string{le.key}, le.token).Int()
	if err != nil {
		return fmt.Errorf("redis release %s: %w", le.key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}
