package repository

import (
	"context"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// ValuationRepository define el puerto para el estado de valoración, capas FIFO y variaciones.
type ValuationRepository interface {
	GetState(ctx context.Context, key entity.StockKey) (*entity.ValuationState, error)
	// SaveState igual que InventoryLevelRepository.Save: versión esperada, 0 = nuevo.
	SaveState(ctx context.Context, state *entity.ValuationState, expectedVersion int64) error

	CreateLayer(ctx context.Context, layer *entity.ValuationLayer) error
	UpdateLayer(ctx context.Context, layer *entity.ValuationLayer) error
	// OpenLayers capas con remanente ordenadas por layer_date ascendente.
	OpenLayers(ctx context.Context, key entity.StockKey) ([]*entity.ValuationLayer, error)

	CreateVariance(ctx context.Context, v *entity.VarianceEntry) error
	ListVariances(ctx context.Context, key entity.StockKey, limit int) ([]*entity.VarianceEntry, error)
}
