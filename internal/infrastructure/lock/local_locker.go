package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain"
)

// ErrLeaseLost el lease expiró y otro proceso tomó la clave antes de liberarla.
var ErrLeaseLost = errors.New("lock lease lost")

// LocalLocker leases en memoria para un solo nodo (desarrollo y pruebas).
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]*localLease
	retry time.Duration
	now   func() time.Time
}

var _ inventory.Locker = (*LocalLocker)(nil)

// NewLocalLocker crea el locker. retry acota cuánto tarda en notarse un lease vencido.
func NewLocalLocker(retry time.Duration) *LocalLocker {
	if retry <= 0 {
		retry = 10 * time.Millisecond
	}
	return &LocalLocker{held: make(map[string]*localLease), retry: retry, now: time.Now}
}

type localLease struct {
	locker   *LocalLocker
	key      string
	token    string
	expires  time.Time
	released chan struct{}
	once     sync.Once
}

// Acquire espera hasta que la clave esté libre o su lease venza.
func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (inventory.Lease, error) {
	for {
		l.mu.Lock()
		cur := l.held[key]
		if cur == nil || !l.now().Before(cur.expires) {
			lease := &localLease{
				locker:   l,
				key:      key,
				token:    uuid.NewString(),
				expires:  l.now().Add(ttl),
				released: make(chan struct{}),
			}
			l.held[key] = lease
			l.mu.Unlock()
			return lease, nil
		}
		wait := cur.released
		l.mu.Unlock()

		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, domain.ErrLockTimeout
			}
			return nil, fmt.Errorf("acquire %s: %w", key, ctx.Err())
		case <-wait:
		case <-t.C:
		}
		t.Stop()
	}
}

// Release libera la clave si el lease sigue siendo el vigente.
func (le *localLease) Release(context.Context) error {
	l := le.locker
	l.mu.Lock()
	owned := l.held[le.key] == le
	if owned {
		delete(l.held, le.key)
	}
	l.mu.Unlock()
	le.once.Do(func() { close(le.released) })
	if !owned {
		return ErrLeaseLost
	}
	return nil
}
