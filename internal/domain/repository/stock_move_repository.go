package repository

import (
	"context"
	"time"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// LedgerFilter rango de fechas y paginación para leer el ledger.
type LedgerFilter struct {
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// StockMoveRepository define el puerto de persistencia del ledger (append-only).
// Un movimiento done nunca se actualiza; solo los borradores cambian de estado.
type StockMoveRepository interface {
	Insert(ctx context.Context, move *entity.StockMove) error
	// Finalize escribe los campos de un borrador que pasa a done (saldos, secuencia, costo).
	Finalize(ctx context.Context, move *entity.StockMove) error
	UpdateStatus(ctx context.Context, tenantID, moveID string, from, to entity.MoveStatus) error
	GetByID(ctx context.Context, tenantID, moveID string) (*entity.StockMove, error)
	// LastDone devuelve el último movimiento done de la clave (nil si no hay).
	LastDone(ctx context.Context, key entity.StockKey) (*entity.StockMove, error)
	// ListDone devuelve los movimientos done de la clave ordenados por secuencia.
	ListDone(ctx context.Context, key entity.StockKey, filter LedgerFilter) ([]*entity.StockMove, error)
	CountDone(ctx context.Context, key entity.StockKey, filter LedgerFilter) (int, error)
	// ListOpen devuelve los borradores y confirmados (sin efecto en el ledger) de la clave.
	ListOpen(ctx context.Context, key entity.StockKey) ([]*entity.StockMove, error)
	// FindByLinked devuelve los movimientos que referencian a moveID (reversa o contraparte).
	FindByLinked(ctx context.Context, tenantID, moveID string) ([]*entity.StockMove, error)
}
