package repository

import (
	"context"
	"time"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// IdempotencyRepository almacén durable de resultados por (tenant, key).
type IdempotencyRepository interface {
	// Get devuelve el registro vigente o nil.
	Get(ctx context.Context, tenantID, key string) (*entity.IdempotencyRecord, error)
	// Create falla con domain.ErrDuplicate si ya existe un registro vigente.
	Create(ctx context.Context, rec *entity.IdempotencyRecord) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
