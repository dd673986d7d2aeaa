package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// LedgerPage página del ledger de una clave ordenada por secuencia.
type LedgerPage struct {
	Moves  []*entity.StockMove `json:"moves"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// LedgerQuery filtros de GetLedger.
type LedgerQuery struct {
	TenantID    string
	WarehouseID string
	ProductID   string
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// ReconcileReport compara la proyección, el replay del ledger, el último saldo y la valoración.
type ReconcileReport struct {
	Key             entity.StockKey `json:"key"`
	LevelOnHand     decimal.Decimal `json:"level_on_hand"`
	ReplayOnHand    decimal.Decimal `json:"replay_on_hand"`
	LevelReserved   decimal.Decimal `json:"level_reserved"`
	ReplayReserved  decimal.Decimal `json:"replay_reserved"`
	LedgerBalance   decimal.Decimal `json:"ledger_balance_qty"`
	LedgerValue     decimal.Decimal `json:"ledger_balance_value"`
	ValuationQty    decimal.Decimal `json:"valuation_qty"`
	ValuationValue  decimal.Decimal `json:"valuation_value"`
	LayerQty        decimal.Decimal `json:"layer_qty"`
	Moves           int             `json:"moves"`
	QuantityMatches bool            `json:"quantity_matches"`
	ValueMatches    bool            `json:"value_matches"`
}

// Balanced true si todas las comparaciones cuadran.
func (r ReconcileReport) Balanced() bool { return r.QuantityMatches && r.ValueMatches }

// ThresholdInput umbral de stock bajo de una clave (nil lo elimina).
type ThresholdInput struct {
	TenantID    string           `json:"tenant_id"`
	WarehouseID string           `json:"warehouse_id"`
	ProductID   string           `json:"product_id"`
	Threshold   *decimal.Decimal `json:"threshold"`
}

// GetStockLevel nivel actual de la clave.
func (s *LedgerService) GetStockLevel(ctx context.Context, tenantID, productID, warehouseID string) (*entity.InventoryLevel, error) {
	key := entity.StockKey{TenantID: tenantID, WarehouseID: warehouseID, ProductID: productID}
	if !key.Valid() {
		return nil, domain.NewError(domain.ErrInvalidInput, key.String(), "tenant, warehouse and product are required")
	}
	var level *entity.InventoryLevel
	err := s.tx.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		level, err = repos.Levels.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("get inventory level: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if level == nil {
		return nil, domain.NewError(domain.ErrNotFound, key.String(), "no stock level for key")
	}
	return level, nil
}

// ListStockLevels niveles de una bodega.
func (s *LedgerService) ListStockLevels(ctx context.Context, tenantID, warehouseID string, limit, offset int) ([]*entity.InventoryLevel, error) {
	if tenantID == "" || warehouseID == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, warehouseID, "tenant and warehouse are required")
	}
	limit, offset = pageBounds(limit, offset)
	var levels []*entity.InventoryLevel
	err := s.tx.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		levels, err = repos.Levels.ListByWarehouse(ctx, tenantID, warehouseID, limit, offset)
		if err != nil {
			return fmt.Errorf("list inventory levels: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if levels == nil {
		levels = []*entity.InventoryLevel{}
	}
	return levels, nil
}

// GetLedger movimientos done de la clave en orden de secuencia, paginados.
func (s *LedgerService) GetLedger(ctx context.Context, q LedgerQuery) (*LedgerPage, error) {
	key := entity.StockKey{TenantID: q.TenantID, WarehouseID: q.WarehouseID, ProductID: q.ProductID}
	if !key.Valid() {
		return nil, domain.NewError(domain.ErrInvalidInput, key.String(), "tenant, warehouse and product are required")
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return nil, domain.NewError(domain.ErrInvalidInput, key.String(), "to is before from")
	}
	limit, offset := pageBounds(q.Limit, q.Offset)
	filter := repository.LedgerFilter{From: q.From, To: q.To, Limit: limit, Offset: offset}
	page := &LedgerPage{Limit: limit, Offset: offset}
	err := s.tx.Run(ctx, func(ctx context.Context, repos Repositories) error {
		moves, err := repos.Moves.ListDone(ctx, key, filter)
		if err != nil {
			return fmt.Errorf("list ledger: %w", err)
		}
		total, err := repos.Moves.CountDone(ctx, key, filter)
		if err != nil {
			return fmt.Errorf("count ledger: %w", err)
		}
		page.Moves, page.Total = moves, total
		return nil
	})
	if err != nil {
		return nil, err
	}
	if page.Moves == nil {
		page.Moves = []*entity.StockMove{}
	}
	return page, nil
}

// Reconcile reconstruye la clave desde el ledger y la compara con la proyección y la valoración.
func (s *LedgerService) Reconcile(ctx context.Context, tenantID, productID, warehouseID string) (*ReconcileReport, error) {
	key := entity.StockKey{TenantID: tenantID, WarehouseID: warehouseID, ProductID: productID}
	if !key.Valid() {
		return nil, domain.NewError(domain.ErrInvalidInput, key.String(), "tenant, warehouse and product are required")
	}
	report := &ReconcileReport{Key: key}
	err := s.tx.Run(ctx, func(ctx context.Context, repos Repositories) error {
		done, err := repos.Moves.ListDone(ctx, key, repository.LedgerFilter{})
		if err != nil {
			return fmt.Errorf("list ledger: %w", err)
		}
		open, err := repos.Moves.ListOpen(ctx, key)
		if err != nil {
			return fmt.Errorf("list open moves: %w", err)
		}
		level, err := repos.Levels.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("get inventory level: %w", err)
		}
		if level == nil {
			level = entity.NewInventoryLevel(key)
		}
		st, err := s.valuation.State(ctx, repos.Valuation, key)
		if err != nil {
			return err
		}
		layers, err := repos.Valuation.OpenLayers(ctx, key)
		if err != nil {
			return fmt.Errorf("list open layers: %w", err)
		}

		replay := inventory.Replay(key, done, open)
		report.LevelOnHand, report.LevelReserved = level.OnHand, level.Reserved
		report.ReplayOnHand, report.ReplayReserved = replay.OnHand, replay.Reserved
		report.ValuationQty, report.ValuationValue = st.TotalQty, st.TotalValue
		report.Moves = len(done)
		report.LayerQty = decimal.Zero
		for _, l := range layers {
			report.LayerQty = report.LayerQty.Add(l.RemainingQuantity)
		}
		if n := len(done); n > 0 {
			report.LedgerBalance, report.LedgerValue = done[n-1].BalanceQty, done[n-1].BalanceValue
		}

		report.QuantityMatches = report.LevelOnHand.Equal(report.ReplayOnHand) &&
			report.LevelReserved.Equal(report.ReplayReserved) &&
			report.LedgerBalance.Equal(report.LevelOnHand) &&
			report.ValuationQty.Equal(report.LevelOnHand)
		if st.Method == entity.ValuationFIFO && !report.LevelOnHand.IsNegative() {
			report.QuantityMatches = report.QuantityMatches && report.LayerQty.Equal(report.LevelOnHand)
		}
		report.ValueMatches = report.LedgerValue.Equal(report.ValuationValue)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !report.Balanced() {
		s.log.Warn().
			Str("tenant_id", key.TenantID).
			Str("warehouse_id", key.WarehouseID).
			Str("product_id", key.ProductID).
			Msg("la clave no concilia")
	}
	return report, nil
}

// SetLowThreshold configura el umbral bajo el lock de la clave. Es configuración idempotente por
// naturaleza, no exige idempotency key.
func (s *LedgerService) SetLowThreshold(ctx context.Context, in ThresholdInput) (*entity.InventoryLevel, error) {
	key := entity.StockKey{TenantID: in.TenantID, WarehouseID: in.WarehouseID, ProductID: in.ProductID}
	if !key.Valid() {
		return nil, domain.NewError(domain.ErrInvalidInput, key.String(), "tenant, warehouse and product are required")
	}
	if in.Threshold != nil && in.Threshold.IsNegative() {
		return nil, domain.NewError(domain.ErrInvalidInput, key.String(), "threshold must be non-negative")
	}
	var level *entity.InventoryLevel
	err := s.ctrl.WithStockLock(ctx, key, func(ctx context.Context) error {
		return s.ctrl.runTx(ctx, s.log, func(ctx context.Context, repos Repositories) error {
			proj, err := s.projector.SetThreshold(ctx, repos.Levels, key, in.Threshold)
			if err != nil {
				return err
			}
			level = proj.After
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return level, nil
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
