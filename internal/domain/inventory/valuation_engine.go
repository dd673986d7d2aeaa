package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

// CostLot porción costeada: una capa consumida (FIFO) o el lote único de AVCO/estándar.
type CostLot struct {
	LayerID  string          `json:"layer_id,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Costing resultado de costear un movimiento. Value es la magnitud monetaria,
// redondeada a unidades menores.
type Costing struct {
	Method   entity.ValuationMethod `json:"method"`
	UnitCost decimal.Decimal        `json:"unit_cost"`
	Value    decimal.Decimal        `json:"value"`
	Lots     []CostLot              `json:"lots,omitempty"`
	Variance *entity.VarianceEntry  `json:"-"`
}

// Inbound datos de una entrada a valorar.
type Inbound struct {
	MoveID   string
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
	// Lots conserva las capas de origen en traslados; vacío = un lote a UnitCost.
	Lots []CostLot
	// Value valor exacto heredado (traslados); nil = cantidad x costo.
	Value *decimal.Decimal
	// Method método esperado por el llamador; vacío = el configurado.
	Method entity.ValuationMethod
	At     time.Time
}

// ValueAdjustment cambio de valor sin movimiento de cantidad (cambio de método, revaluación, cierre).
type ValueAdjustment struct {
	Method   entity.ValuationMethod
	Delta    decimal.Decimal
	Variance *entity.VarianceEntry
	State    *entity.ValuationState
}

// ValuationEngine calcula costos FIFO/AVCO/estándar sobre el estado persistido de la clave.
// Todas las operaciones asumen el lock de la clave tomado y la transacción abierta.
type ValuationEngine struct {
	defaultMethod entity.ValuationMethod
}

// NewValuationEngine construye el motor con el método asignado a claves nuevas.
func NewValuationEngine(defaultMethod entity.ValuationMethod) *ValuationEngine {
	if !defaultMethod.Valid() {
		defaultMethod = entity.ValuationFIFO
	}
	return &ValuationEngine{defaultMethod: defaultMethod}
}

// DefaultMethod método de claves sin estado.
func (e *ValuationEngine) DefaultMethod() entity.ValuationMethod { return e.defaultMethod }

// State carga el estado de la clave o uno nuevo (versión 0) con el método por defecto.
func (e *ValuationEngine) State(ctx context.Context, repo repository.ValuationRepository, key entity.StockKey) (*entity.ValuationState, error) {
	st, err := repo.GetState(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get valuation state: %w", err)
	}
	if st == nil {
		st = entity.NewValuationState(key, e.defaultMethod)
	}
	return st, nil
}

// CurrentUnitCost costo al que entra stock sin costo explícito (ajustes positivos, devoluciones).
func (e *ValuationEngine) CurrentUnitCost(st *entity.ValuationState) decimal.Decimal {
	if st.Method == entity.ValuationStandard && st.StandardCost != nil {
		return *st.StandardCost
	}
	return st.AverageCost
}

// RecordInbound valora una entrada: nueva capa (FIFO), recálculo del promedio (AVCO)
// o costo estándar con asiento de variación.
func (e *ValuationEngine) RecordInbound(ctx context.Context, repo repository.ValuationRepository, key entity.StockKey, in Inbound) (Costing, error) {
	if !in.Quantity.IsPositive() || in.UnitCost.IsNegative() {
		return Costing{}, domain.NewError(domain.ErrInvalidInput, key.String(), "inbound requires positive quantity and non-negative cost")
	}
	st, err := e.State(ctx, repo, key)
	if err != nil {
		return Costing{}, err
	}
	if err := checkMethod(st, in.Method); err != nil {
		return Costing{}, err
	}
	lots := in.Lots
	if len(lots) == 0 {
		lots = []CostLot{{Quantity: in.Quantity, UnitCost: in.UnitCost}}
	}
	exact := decimal.Zero
	for _, l := range lots {
		exact = exact.Add(l.Quantity.Mul(l.UnitCost))
	}
	actual := RoundMoney(exact)
	if in.Value != nil {
		actual = RoundMoney(*in.Value)
	}

	c := Costing{Method: st.Method}
	switch st.Method {
	case entity.ValuationFIFO:
		if err := checkRunningQty(st); err != nil {
			return Costing{}, err
		}
		for _, l := range lots {
			layer := &entity.ValuationLayer{
				ID:                uuid.NewString(),
				TenantID:          key.TenantID,
				WarehouseID:       key.WarehouseID,
				ProductID:         key.ProductID,
				MoveID:            in.MoveID,
				Quantity:          l.Quantity,
				UnitCost:          l.UnitCost,
				RemainingQuantity: l.Quantity,
				LayerDate:         in.At,
				CreatedAt:         in.At,
			}
			if err := repo.CreateLayer(ctx, layer); err != nil {
				return Costing{}, fmt.Errorf("create valuation layer: %w", err)
			}
			c.Lots = append(c.Lots, CostLot{LayerID: layer.ID, Quantity: l.Quantity, UnitCost: l.UnitCost})
		}
		c.Value = actual
		c.UnitCost = RoundUnitCost(actual.Div(in.Quantity))

	case entity.ValuationAVCO:
		if err := checkNoOpenLayers(ctx, repo, st); err != nil {
			return Costing{}, err
		}
		c.Value = actual
		c.UnitCost = RoundUnitCost(actual.Div(in.Quantity))
		c.Lots = []CostLot{{Quantity: in.Quantity, UnitCost: c.UnitCost}}

	case entity.ValuationStandard:
		if err := checkNoOpenLayers(ctx, repo, st); err != nil {
			return Costing{}, err
		}
		if st.StandardCost == nil {
			return Costing{}, domain.NewError(domain.ErrInvalidInput, key.String(), "standard cost not configured")
		}
		c.UnitCost = *st.StandardCost
		c.Value = RoundMoney(in.Quantity.Mul(c.UnitCost))
		c.Lots = []CostLot{{Quantity: in.Quantity, UnitCost: c.UnitCost}}
		if diff := actual.Sub(c.Value); !diff.IsZero() {
			c.Variance = newVariance(key, in.MoveID, entity.VariancePurchasePrice, in.Quantity, diff, in.At,
				fmt.Sprintf("actual %s vs standard %s", actual, c.Value))
			if err := repo.CreateVariance(ctx, c.Variance); err != nil {
				return Costing{}, fmt.Errorf("create variance entry: %w", err)
			}
		}
	}

	expected := st.Version
	st.TotalQty = st.TotalQty.Add(in.Quantity)
	st.TotalValue = st.TotalValue.Add(c.Value)
	st.AverageCost = AverageFromTotals(st.TotalQty, st.TotalValue, c.UnitCost)
	st.UpdatedAt = in.At
	if err := repo.SaveState(ctx, st, expected); err != nil {
		return Costing{}, err
	}
	return c, nil
}

// CostOutbound costea una salida de qty (magnitud positiva). FIFO consume capas de la más antigua
// a la más nueva; AVCO y estándar costean al promedio/estándar vigente sin modificarlo.
func (e *ValuationEngine) CostOutbound(ctx context.Context, repo repository.ValuationRepository, key entity.StockKey, qty decimal.Decimal, method entity.ValuationMethod, at time.Time) (Costing, error) {
	if !qty.IsPositive() {
		return Costing{}, domain.NewError(domain.ErrInvalidInput, key.String(), "outbound quantity must be positive")
	}
	st, err := e.State(ctx, repo, key)
	if err != nil {
		return Costing{}, err
	}
	if err := checkMethod(st, method); err != nil {
		return Costing{}, err
	}

	c := Costing{Method: st.Method}
	drains := qty.Equal(st.TotalQty)
	switch st.Method {
	case entity.ValuationFIFO:
		layers, err := repo.OpenLayers(ctx, key)
		if err != nil {
			return Costing{}, fmt.Errorf("list open layers: %w", err)
		}
		available := decimal.Zero
		for _, l := range layers {
			available = available.Add(l.RemainingQuantity)
		}
		if available.LessThan(qty) {
			return Costing{}, domain.NewError(domain.ErrInsufficientLayers, key.String(),
				fmt.Sprintf("layers hold %s, requested %s", available, qty))
		}
		pending, exact := qty, decimal.Zero
		for _, l := range layers {
			if !pending.IsPositive() {
				break
			}
			taken := l.Consume(pending, at)
			if taken.IsZero() {
				continue
			}
			pending = pending.Sub(taken)
			exact = exact.Add(taken.Mul(l.UnitCost))
			c.Lots = append(c.Lots, CostLot{LayerID: l.ID, Quantity: taken, UnitCost: l.UnitCost})
			if err := repo.UpdateLayer(ctx, l); err != nil {
				return Costing{}, fmt.Errorf("update valuation layer: %w", err)
			}
		}
		c.Value = RoundMoney(exact)
		if available.Equal(qty) {
			c.Value = st.TotalValue
		}
		c.UnitCost = RoundUnitCost(exact.Div(qty))

	case entity.ValuationAVCO, entity.ValuationStandard:
		if err := checkNoOpenLayers(ctx, repo, st); err != nil {
			return Costing{}, err
		}
		unit := st.AverageCost
		if st.Method == entity.ValuationStandard {
			if st.StandardCost == nil {
				return Costing{}, domain.NewError(domain.ErrInvalidInput, key.String(), "standard cost not configured")
			}
			unit = *st.StandardCost
		}
		c.UnitCost = unit
		c.Value = RoundMoney(qty.Mul(unit))
		if drains {
			c.Value = st.TotalValue
		}
		c.Lots = []CostLot{{Quantity: qty, UnitCost: unit}}
	}

	expected := st.Version
	st.TotalQty = st.TotalQty.Sub(qty)
	st.TotalValue = st.TotalValue.Sub(c.Value)
	if st.TotalQty.IsZero() {
		st.TotalValue = decimal.Zero
	}
	if st.Method == entity.ValuationFIFO {
		st.AverageCost = AverageFromTotals(st.TotalQty, st.TotalValue, st.AverageCost)
	}
	st.UpdatedAt = at
	if err := repo.SaveState(ctx, st, expected); err != nil {
		return Costing{}, err
	}
	return c, nil
}

// SwitchMethod cierra las capas o el promedio vigente en la frontera del cambio.
// Nunca recalcula movimientos históricos: cada movimiento guarda el método con que se costeó.
func (e *ValuationEngine) SwitchMethod(ctx context.Context, repo repository.ValuationRepository, key entity.StockKey, to entity.ValuationMethod, standardCost *decimal.Decimal, moveID string, at time.Time) (ValueAdjustment, error) {
	if !to.Valid() {
		return ValueAdjustment{}, domain.NewError(domain.ErrInvalidInput, key.String(), "unknown valuation method "+string(to))
	}
	st, err := e.State(ctx, repo, key)
	if err != nil {
		return ValueAdjustment{}, err
	}
	adj := ValueAdjustment{Method: to, Delta: decimal.Zero, State: st}
	if st.Method == to {
		return adj, nil
	}
	if standardCost != nil {
		if standardCost.IsNegative() {
			return ValueAdjustment{}, domain.NewError(domain.ErrInvalidInput, key.String(), "standard cost must be non-negative")
		}
		sc := *standardCost
		st.StandardCost = &sc
	}

	if st.Method == entity.ValuationFIFO {
		layers, err := repo.OpenLayers(ctx, key)
		if err != nil {
			return ValueAdjustment{}, fmt.Errorf("list open layers: %w", err)
		}
		for _, l := range layers {
			l.Consume(l.RemainingQuantity, at)
			if err := repo.UpdateLayer(ctx, l); err != nil {
				return ValueAdjustment{}, fmt.Errorf("close valuation layer: %w", err)
			}
		}
	}

	switch to {
	case entity.ValuationFIFO:
		if st.TotalQty.IsNegative() {
			return ValueAdjustment{}, domain.NewError(domain.ErrValuationMethodMismatch, key.String(), "negative on-hand cannot open a FIFO layer")
		}
		unit := e.CurrentUnitCost(st)
		if st.TotalQty.IsPositive() {
			unit = AverageFromTotals(st.TotalQty, st.TotalValue, unit)
			opening := &entity.ValuationLayer{
				ID:                uuid.NewString(),
				TenantID:          key.TenantID,
				WarehouseID:       key.WarehouseID,
				ProductID:         key.ProductID,
				MoveID:            moveID,
				Quantity:          st.TotalQty,
				UnitCost:          unit,
				RemainingQuantity: st.TotalQty,
				LayerDate:         at,
				CreatedAt:         at,
			}
			if err := repo.CreateLayer(ctx, opening); err != nil {
				return ValueAdjustment{}, fmt.Errorf("create opening layer: %w", err)
			}
		}
	case entity.ValuationStandard:
		if st.StandardCost == nil {
			return ValueAdjustment{}, domain.NewError(domain.ErrInvalidInput, key.String(), "standard cost required to switch to standard")
		}
		target := RoundMoney(st.TotalQty.Mul(*st.StandardCost))
		adj.Delta = target.Sub(st.TotalValue)
		st.TotalValue = target
	}

	if !adj.Delta.IsZero() {
		adj.Variance = newVariance(key, moveID, entity.VarianceMethodSwitch, st.TotalQty, adj.Delta, at,
			string(st.Method)+" -> "+string(to))
		if err := repo.CreateVariance(ctx, adj.Variance); err != nil {
			return ValueAdjustment{}, fmt.Errorf("create variance entry: %w", err)
		}
	}
	expected := st.Version
	st.Method = to
	st.AverageCost = AverageFromTotals(st.TotalQty, st.TotalValue, e.CurrentUnitCost(st))
	st.UpdatedAt = at
	if err := repo.SaveState(ctx, st, expected); err != nil {
		return ValueAdjustment{}, err
	}
	return adj, nil
}

// SetStandardCost configura el costo estándar; si la clave ya valora a estándar revalúa la existencia.
func (e *ValuationEngine) SetStandardCost(ctx context.Context, repo repository.ValuationRepository, key entity.StockKey, cost decimal.Decimal, moveID string, at time.Time) (ValueAdjustment, error) {
	if cost.IsNegative() {
		return ValueAdjustment{}, domain.NewError(domain.ErrInvalidInput, key.String(), "standard cost must be non-negative")
	}
	st, err := e.State(ctx, repo, key)
	if err != nil {
		return ValueAdjustment{}, err
	}
	c := cost
	st.StandardCost = &c
	adj := ValueAdjustment{Method: st.Method, Delta: decimal.Zero, State: st}
	if st.Method == entity.ValuationStandard {
		target := RoundMoney(st.TotalQty.Mul(cost))
		adj.Delta = target.Sub(st.TotalValue)
		st.TotalValue = target
		st.AverageCost = AverageFromTotals(st.TotalQty, st.TotalValue, cost)
	}
	return e.finishAdjustment(ctx, repo, st, adj, entity.VarianceRevaluation, moveID, at, "standard cost "+cost.String())
}

// Revalue revalúa la existencia AVCO o estándar a un nuevo costo unitario.
func (e *ValuationEngine) Revalue(ctx context.Context, repo repository.ValuationRepository, key entity.StockKey, unitCost decimal.Decimal, moveID string, at time.Time) (ValueAdjustment, error) {
	if unitCost.IsNegative() {
		return ValueAdjustment{}, domain.NewError(domain.ErrInvalidInput, key.String(), "unit cost must be non-negative")
	}
	st, err := e.State(ctx, repo, key)
	if err != nil {
		return ValueAdjustment{}, err
	}
	if st.Method == entity.ValuationFIFO {
		return ValueAdjustment{}, domain.NewError(domain.ErrValuationMethodMismatch, key.String(), "FIFO layers cannot be revalued")
	}
	if st.Method == entity.ValuationStandard {
		return e.SetStandardCost(ctx, repo, key, unitCost, moveID, at)
	}
	target := RoundMoney(st.TotalQty.Mul(unitCost))
	adj := ValueAdjustment{Method: st.Method, Delta: target.Sub(st.TotalValue), State: st}
	st.TotalValue = target
	st.AverageCost = RoundUnitCost(unitCost)
	return e.finishAdjustment(ctx, repo, st, adj, entity.VarianceRevaluation, moveID, at, "revalue to "+unitCost.String())
}

// ClosePeriod concilia el valor corrido contra cantidad x costo (o la suma de capas en FIFO)
// y registra el residuo de redondeo.
func (e *ValuationEngine) ClosePeriod(ctx context.Context, repo repository.ValuationRepository, key entity.StockKey, moveID string, at time.Time) (ValueAdjustment, error) {
	st, err := e.State(ctx, repo, key)
	if err != nil {
		return ValueAdjustment{}, err
	}
	expected := decimal.Zero
	switch st.Method {
	case entity.ValuationFIFO:
		layers, err := repo.OpenLayers(ctx, key)
		if err != nil {
			return ValueAdjustment{}, fmt.Errorf("list open layers: %w", err)
		}
		exact := decimal.Zero
		for _, l := range layers {
			exact = exact.Add(l.RemainingValue())
		}
		expected = RoundMoney(exact)
	case entity.ValuationAVCO:
		expected = RoundMoney(st.TotalQty.Mul(st.AverageCost))
	case entity.ValuationStandard:
		if st.StandardCost != nil {
			expected = RoundMoney(st.TotalQty.Mul(*st.StandardCost))
		}
	}
	if st.TotalQty.IsZero() {
		expected = decimal.Zero
	}
	adj := ValueAdjustment{Method: st.Method, Delta: expected.Sub(st.TotalValue), State: st}
	st.TotalValue = expected
	return e.finishAdjustment(ctx, repo, st, adj, entity.VarianceRoundingResidual, moveID, at, "period close")
}

func (e *ValuationEngine) finishAdjustment(ctx context.Context, repo repository.ValuationRepository, st *entity.ValuationState, adj ValueAdjustment, kind entity.VarianceKind, moveID string, at time.Time, note string) (ValueAdjustment, error) {
	if !adj.Delta.IsZero() {
		adj.Variance = newVariance(st.Key(), moveID, kind, st.TotalQty, adj.Delta, at, note)
		if err := repo.CreateVariance(ctx, adj.Variance); err != nil {
			return ValueAdjustment{}, fmt.Errorf("create variance entry: %w", err)
		}
	}
	expected := st.Version
	st.UpdatedAt = at
	if err := repo.SaveState(ctx, st, expected); err != nil {
		return ValueAdjustment{}, err
	}
	return adj, nil
}

func checkMethod(st *entity.ValuationState, requested entity.ValuationMethod) error {
	if requested != "" && requested != st.Method {
		return domain.NewError(domain.ErrValuationMethodMismatch, st.Key().String(),
			fmt.Sprintf("key values with %s, request uses %s", st.Method, requested))
	}
	return nil
}

// checkNoOpenLayers detecta capas FIFO abiertas en una clave que ya no valora FIFO.
func checkNoOpenLayers(ctx context.Context, repo repository.ValuationRepository, st *entity.ValuationState) error {
	layers, err := repo.OpenLayers(ctx, st.Key())
	if err != nil {
		return fmt.Errorf("list open layers: %w", err)
	}
	if len(layers) > 0 {
		return domain.NewError(domain.ErrValuationMethodMismatch, st.Key().String(),
			fmt.Sprintf("%d open FIFO layers on a %s key", len(layers), st.Method))
	}
	return nil
}

// checkRunningQty un saldo negativo heredado de AVCO/estándar no puede convivir con capas FIFO.
func checkRunningQty(st *entity.ValuationState) error {
	if st.TotalQty.IsNegative() {
		return domain.NewError(domain.ErrValuationMethodMismatch, st.Key().String(), "negative running quantity on a FIFO key")
	}
	return nil
}

func newVariance(key entity.StockKey, moveID string, kind entity.VarianceKind, qty, amount decimal.Decimal, at time.Time, note string) *entity.VarianceEntry {
	return &entity.VarianceEntry{
		ID:          uuid.NewString(),
		TenantID:    key.TenantID,
		WarehouseID: key.WarehouseID,
		ProductID:   key.ProductID,
		MoveID:      moveID,
		Kind:        kind,
		Quantity:    qty,
		Amount:      amount,
		Note:        note,
		CreatedAt:   at,
	}
}
