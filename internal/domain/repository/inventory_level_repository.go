package repository

import (
	"context"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// InventoryLevelRepository define el puerto para consultar/actualizar stock por bodega+producto (DIP).
// Save aplica control optimista: falla con ErrConcurrentModification si la versión cambió.
type InventoryLevelRepository interface {
	Get(ctx context.Context, key entity.StockKey) (*entity.InventoryLevel, error)
	// GetForUpdate bloquea la fila para update (SELECT FOR UPDATE) dentro de la tx.
	GetForUpdate(ctx context.Context, key entity.StockKey) (*entity.InventoryLevel, error)
	// Save persiste el nivel si la versión almacenada es expectedVersion (0 = nuevo) y lo deja en expectedVersion+1.
	Save(ctx context.Context, level *entity.InventoryLevel, expectedVersion int64) error
	ListByWarehouse(ctx context.Context, tenantID, warehouseID string, limit, offset int) ([]*entity.InventoryLevel, error)
}
