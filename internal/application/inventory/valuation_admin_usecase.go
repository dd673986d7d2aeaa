package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/inventory"
)

// Razones de los movimientos de solo valor.
const (
	ReasonMethodSwitch  = "method_switch"
	ReasonStandardCost  = "standard_cost"
	ReasonRevaluation   = "revaluation"
	ReasonPeriodClose   = "period_close"
	maxVariancesInQuery = 100
)

// ValuationInput operación administrativa de valoración sobre una clave.
type ValuationInput struct {
	TenantID    string                 `json:"tenant_id"`
	WarehouseID string                 `json:"warehouse_id"`
	ProductID   string                 `json:"product_id"`
	Method      entity.ValuationMethod `json:"method,omitempty"`
	// UnitCost costo estándar o de revaluación según la operación.
	UnitCost       *decimal.Decimal `json:"unit_cost,omitempty"`
	IdempotencyKey string           `json:"-"`
	CreatedBy      string           `json:"-"`
}

func (in ValuationInput) key() entity.StockKey {
	return entity.StockKey{TenantID: in.TenantID, WarehouseID: in.WarehouseID, ProductID: in.ProductID}
}

// ValuationResult estado resultante y, si hubo cambio de valor, el movimiento y la variación registrados.
type ValuationResult struct {
	State    *entity.ValuationState `json:"state"`
	Move     *entity.StockMove      `json:"move,omitempty"`
	Variance *entity.VarianceEntry  `json:"variance,omitempty"`
}

// ValuationView vista de consulta de la valoración de una clave.
type ValuationView struct {
	State     *entity.ValuationState   `json:"state"`
	Layers    []*entity.ValuationLayer `json:"layers"`
	Variances []*entity.VarianceEntry  `json:"variances"`
}

// SwitchValuationMethod cambia el método de la clave con cierre en la frontera.
func (s *LedgerService) SwitchValuationMethod(ctx context.Context, in ValuationInput) (Outcome[ValuationResult], error) {
	if !in.Method.Valid() {
		return Outcome[ValuationResult]{}, domain.NewError(domain.ErrInvalidInput, in.key().String(), "unknown valuation method "+string(in.Method))
	}
	return s.valuationAction(ctx, in, "valuation.switch_method", ReasonMethodSwitch,
		func(ctx context.Context, repos Repositories, moveID string) (inventory.ValueAdjustment, error) {
			return s.valuation.SwitchMethod(ctx, repos.Valuation, in.key(), in.Method, in.UnitCost, moveID, s.now())
		})
}

// SetStandardCost configura el costo estándar de la clave.
func (s *LedgerService) SetStandardCost(ctx context.Context, in ValuationInput) (Outcome[ValuationResult], error) {
	if in.UnitCost == nil {
		return Outcome[ValuationResult]{}, domain.NewError(domain.ErrInvalidInput, in.key().String(), "unit cost required")
	}
	return s.valuationAction(ctx, in, "valuation.set_standard_cost", ReasonStandardCost,
		func(ctx context.Context, repos Repositories, moveID string) (inventory.ValueAdjustment, error) {
			return s.valuation.SetStandardCost(ctx, repos.Valuation, in.key(), *in.UnitCost, moveID, s.now())
		})
}

// Revalue revalúa la existencia AVCO o estándar.
func (s *LedgerService) Revalue(ctx context.Context, in ValuationInput) (Outcome[ValuationResult], error) {
	if in.UnitCost == nil {
		return Outcome[ValuationResult]{}, domain.NewError(domain.ErrInvalidInput, in.key().String(), "unit cost required")
	}
	return s.valuationAction(ctx, in, "valuation.revalue", ReasonRevaluation,
		func(ctx context.Context, repos Repositories, moveID string) (inventory.ValueAdjustment, error) {
			return s.valuation.Revalue(ctx, repos.Valuation, in.key(), *in.UnitCost, moveID, s.now())
		})
}

// ClosePeriod registra el residuo de redondeo del periodo.
func (s *LedgerService) ClosePeriod(ctx context.Context, in ValuationInput) (Outcome[ValuationResult], error) {
	return s.valuationAction(ctx, in, "valuation.close_period", ReasonPeriodClose,
		func(ctx context.Context, repos Repositories, moveID string) (inventory.ValueAdjustment, error) {
			return s.valuation.ClosePeriod(ctx, repos.Valuation, in.key(), moveID, s.now())
		})
}

// GetValuation estado, capas abiertas y últimas variaciones de la clave.
func (s *LedgerService) GetValuation(ctx context.Context, tenantID, warehouseID, productID string) (*ValuationView, error) {
	key := entity.StockKey{TenantID: tenantID, WarehouseID: warehouseID, ProductID: productID}
	if !key.Valid() {
		return nil, domain.NewError(domain.ErrInvalidInput, key.String(), "tenant, warehouse and product are required")
	}
	var view ValuationView
	err := s.tx.Run(ctx, func(ctx context.Context, repos Repositories) error {
		st, err := repos.Valuation.GetState(ctx, key)
		if err != nil {
			return fmt.Errorf("get valuation state: %w", err)
		}
		if st == nil {
			return domain.NewError(domain.ErrNotFound, key.String(), "no valuation for key")
		}
		layers, err := repos.Valuation.OpenLayers(ctx, key)
		if err != nil {
			return fmt.Errorf("list open layers: %w", err)
		}
		variances, err := repos.Valuation.ListVariances(ctx, key, maxVariancesInQuery)
		if err != nil {
			return fmt.Errorf("list variances: %w", err)
		}
		view = ValuationView{State: st, Layers: layers, Variances: variances}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if view.Layers == nil {
		view.Layers = []*entity.ValuationLayer{}
	}
	if view.Variances == nil {
		view.Variances = []*entity.VarianceEntry{}
	}
	return &view, nil
}

func (s *LedgerService) valuationAction(ctx context.Context, in ValuationInput, op, reason string, fn func(ctx context.Context, repos Repositories, moveID string) (inventory.ValueAdjustment, error)) (Outcome[ValuationResult], error) {
	key := in.key()
	if !key.Valid() {
		return Outcome[ValuationResult]{}, domain.NewError(domain.ErrInvalidInput, key.String(), "tenant, warehouse and product are required")
	}
	cmd := Command{TenantID: in.TenantID, IdempotencyKey: in.IdempotencyKey, Operation: op, Payload: in, Keys: []entity.StockKey{key}}
	return Execute(ctx, s.ctrl, cmd, func(ctx context.Context, repos Repositories) (ValuationResult, []string, error) {
		moveID := uuid.NewString()
		adj, err := fn(ctx, repos, moveID)
		if err != nil {
			return ValuationResult{}, nil, err
		}
		res := ValuationResult{State: adj.State, Variance: adj.Variance}
		move, err := s.postValueMove(ctx, repos, key, moveID, adj, reason, in.CreatedBy)
		if err != nil {
			return ValuationResult{}, nil, err
		}
		if move == nil {
			return res, nil, nil
		}
		res.Move = move
		s.log.Info().
			Str("tenant_id", key.TenantID).
			Str("warehouse_id", key.WarehouseID).
			Str("product_id", key.ProductID).
			Str("move_id", move.ID).
			Str("value_delta", move.ValueDelta.String()).
			Msg("ajuste de valoración registrado")
		return res, []string{move.ID}, nil
	})
}
