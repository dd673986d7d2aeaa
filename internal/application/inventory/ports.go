package inventory

import (
	"context"
	"time"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

// Repositories repositorios atados a una misma transacción.
type Repositories struct {
	Moves       repository.StockMoveRepository
	Levels      repository.InventoryLevelRepository
	Valuation   repository.ValuationRepository
	Idempotency repository.IdempotencyRepository
	Outbox      repository.OutboxRepository
}

// TxRunner ejecuta una función dentro de una transacción de BD, pasando repositorios atados a esa tx.
// Garantiza atomicidad para el motor de inventario: movimientos, niveles, valoración, registro
// de idempotencia y outbox se confirman juntos o no se confirma nada.
type TxRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// Lease lock exclusivo adquirido sobre una clave.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker adquiere leases exclusivos con TTL. Acquire espera hasta que ctx venza y entonces
// devuelve domain.ErrLockTimeout.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// ResultCache ruta rápida de idempotencia delante del registro durable (opcional).
type ResultCache interface {
	Get(ctx context.Context, tenantID, key string) (*entity.IdempotencyRecord, error)
	Put(ctx context.Context, rec *entity.IdempotencyRecord) error
}
