package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// MemoryResultCache cache de idempotencia en proceso (APP_STORAGE=memory y pruebas).
type MemoryResultCache struct {
	mu        sync.RWMutex
	entries   map[string]*entity.IdempotencyRecord
	now       func() time.Time
	nextSweep time.Time
}

// sweepInterval cada cuánto Put barre las entradas vencidas.
const sweepInterval = time.Minute

// entryKey separa tenant y key con NUL; ValidateIdempotencyKey rechaza caracteres de control en la key.
func entryKey(tenantID, key string) string { return tenantID + "\x00" + key }

var _ inventory.ResultCache = (*MemoryResultCache)(nil)

func NewMemoryResultCache() *MemoryResultCache {
	return &MemoryResultCache{entries: make(map[string]*entity.IdempotencyRecord), now: time.Now}
}

func (c *MemoryResultCache) Get(_ context.Context, tenantID, key string) (*entity.IdempotencyRecord, error) {
	c.mu.RLock()
	rec, ok := c.entries[entryKey(tenantID, key)]
	c.mu.RUnlock()
	if !ok || rec.Expired(c.now()) {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Put guarda una copia del registro. Los registros ya vencidos no se guardan.
func (c *MemoryResultCache) Put(_ context.Context, rec *entity.IdempotencyRecord) error {
	now := c.now()
	if rec.Expired(now) {
		return nil
	}
	cp := *rec
	c.mu.Lock()
	defer c.mu.Unlock()
	if !now.Before(c.nextSweep) {
		c.sweepLocked(now)
	}
	c.entries[entryKey(rec.TenantID, rec.Key)] = &cp
	return nil
}

func (c *MemoryResultCache) sweepLocked(now time.Time) {
	for k, rec := range c.entries {
		if rec.Expired(now) {
			delete(c.entries, k)
		}
	}
	c.nextSweep = now.Add(sweepInterval)
}

// WithClock reemplaza el reloj de vencimiento (pruebas).
func (c *MemoryResultCache) WithClock(now func() time.Time) *MemoryResultCache {
	c.now = now
	return c
}

// Len cantidad de entradas (incluye vencidas aún no barridas).
func (c *MemoryResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
