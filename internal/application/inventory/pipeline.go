package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger/pkg/metrics"
)

// LedgerService expone las operaciones del ledger. Cada mutación recorre
// lock → costeo → append → proyección → outbox dentro de una transacción.
type LedgerService struct {
	ctrl      *Controller
	tx        TxRunner
	ledger    *inventory.LedgerStore
	valuation *inventory.ValuationEngine
	projector *inventory.Projector
	publisher EventPublisher
	log       zerolog.Logger
	now       func() time.Time
}

// NewLedgerService construye el servicio.
func NewLedgerService(ctrl *Controller, tx TxRunner, valuation *inventory.ValuationEngine, publisher EventPublisher, log zerolog.Logger) *LedgerService {
	s := &LedgerService{
		ctrl:      ctrl,
		tx:        tx,
		valuation: valuation,
		publisher: publisher,
		log:       log,
	}
	return s.WithClock(time.Now)
}

// WithClock reemplaza el reloj de todos los componentes (pruebas).
func (s *LedgerService) WithClock(now func() time.Time) *LedgerService {
	s.now = now
	s.ledger = inventory.NewLedgerStore(now)
	s.projector = inventory.NewProjector(now)
	s.ctrl.WithClock(now)
	return s
}

// posting un movimiento listo para recorrer el pipeline.
type posting struct {
	move           *entity.StockMove
	stored         bool
	allowBackorder bool
	// reservedDelta cambio del reservado junto con el movimiento (consumo de la reserva propia).
	reservedDelta decimal.Decimal
	unitCost      *decimal.Decimal
	lots          []inventory.CostLot
	value         *decimal.Decimal
}

// post costea, agrega, proyecta y encola los eventos de un movimiento. Requiere el lock de la
// clave y la transacción abierta.
func (s *LedgerService) post(ctx context.Context, repos Repositories, p posting) (MoveLine, error) {
	m := p.move
	key := m.Key()
	at := s.now()
	if m.MoveDate.IsZero() {
		m.MoveDate = at
	}

	var costing inventory.Costing
	switch {
	case m.IsOutbound():
		qty := m.Quantity.Neg()
		level, err := s.projector.Load(ctx, repos.Levels, key)
		if err != nil {
			return MoveLine{}, err
		}
		// La reserva propia del borrador confirmado cuenta como disponible.
		available := level.Available().Sub(p.reservedDelta)
		if !p.allowBackorder && available.LessThan(qty) {
			return MoveLine{}, domain.NewError(domain.ErrInsufficientStock, key.String(),
				fmt.Sprintf("available %s, requested %s", available, qty))
		}
		costing, err = s.valuation.CostOutbound(ctx, repos.Valuation, key, qty, "", m.MoveDate)
		if err != nil {
			return MoveLine{}, err
		}
		m.ValueDelta = costing.Value.Neg()

	case m.IsInbound():
		unit := decimal.Zero
		if p.unitCost != nil {
			unit = *p.unitCost
		} else {
			st, err := s.valuation.State(ctx, repos.Valuation, key)
			if err != nil {
				return MoveLine{}, err
			}
			unit = s.valuation.CurrentUnitCost(st)
		}
		var err error
		costing, err = s.valuation.RecordInbound(ctx, repos.Valuation, key, inventory.Inbound{
			MoveID:   m.ID,
			Quantity: m.Quantity,
			UnitCost: unit,
			Lots:     p.lots,
			Value:    p.value,
			At:       m.MoveDate,
		})
		if err != nil {
			return MoveLine{}, err
		}
		m.ValueDelta = costing.Value

	default:
		return MoveLine{}, domain.NewError(domain.ErrInvalidInput, key.String(), "zero quantity move")
	}
	m.UnitCost = costing.UnitCost
	m.ValuationMethod = costing.Method

	appended, err := s.ledger.Append(ctx, repos.Moves, m, inventory.AppendPolicy{AllowBackorder: p.allowBackorder, Stored: p.stored})
	if err != nil {
		return MoveLine{}, err
	}
	proj, err := s.projector.Apply(ctx, repos.Levels, appended, p.reservedDelta)
	if err != nil {
		return MoveLine{}, err
	}
	events, err := inventory.MoveEvents(appended, proj, at)
	if err != nil {
		return MoveLine{}, err
	}
	if err := s.publisher.Enqueue(ctx, repos.Outbox, events...); err != nil {
		return MoveLine{}, err
	}

	metrics.MovesAppended.WithLabelValues(string(appended.Type), string(appended.ValuationMethod)).Inc()
	s.log.Debug().
		Str("tenant_id", key.TenantID).
		Str("warehouse_id", key.WarehouseID).
		Str("product_id", key.ProductID).
		Str("move_id", appended.ID).
		Int64("sequence", appended.Sequence).
		Str("balance_qty", appended.BalanceQty.String()).
		Msg("movimiento agregado al ledger")
	return MoveLine{Move: appended, Lots: costing.Lots}, nil
}

// postValueMove registra en el ledger un ajuste de solo valor (cantidad cero) para que el saldo
// monetario siga conciliando con la valoración.
func (s *LedgerService) postValueMove(ctx context.Context, repos Repositories, key entity.StockKey, moveID string, adj inventory.ValueAdjustment, reason, createdBy string) (*entity.StockMove, error) {
	if adj.Delta.IsZero() {
		return nil, nil
	}
	m := &entity.StockMove{
		ID:              moveID,
		TenantID:        key.TenantID,
		WarehouseID:     key.WarehouseID,
		ProductID:       key.ProductID,
		Source:          entity.LocationInternal,
		Destination:     entity.LocationInternal,
		Type:            entity.MoveTypeAdjustment,
		Status:          entity.MoveStatusDraft,
		Quantity:        decimal.Zero,
		UnitCost:        decimal.Zero,
		ValueDelta:      adj.Delta,
		ValuationMethod: adj.Method,
		ReferenceType:   "valuation",
		ReferenceID:     reason,
		ReasonCode:      reason,
		MoveDate:        s.now(),
		CreatedBy:       createdBy,
	}
	appended, err := s.ledger.Append(ctx, repos.Moves, m, inventory.AppendPolicy{})
	if err != nil {
		return nil, err
	}
	metrics.MovesAppended.WithLabelValues(string(appended.Type), string(appended.ValuationMethod)).Inc()
	return appended, nil
}

// stripLayerIDs lotes para heredar costo en el destino de un traslado (sin ids de capa de origen).
func stripLayerIDs(lots []inventory.CostLot) []inventory.CostLot {
	out := make([]inventory.CostLot, len(lots))
	for i, l := range lots {
		out[i] = inventory.CostLot{Quantity: l.Quantity, UnitCost: l.UnitCost}
	}
	return out
}

func (s *LedgerService) newMove(id string, key entity.StockKey, t entity.MoveType, qty decimal.Decimal, src, dst entity.Location, refType, refID, idemKey, createdBy string) *entity.StockMove {
	return &entity.StockMove{
		ID:             id,
		TenantID:       key.TenantID,
		WarehouseID:    key.WarehouseID,
		ProductID:      key.ProductID,
		Source:         src,
		Destination:    dst,
		Type:           t,
		Status:         entity.MoveStatusDraft,
		Quantity:       qty,
		ReferenceType:  refType,
		ReferenceID:    refID,
		IdempotencyKey: idemKey,
		CreatedBy:      createdBy,
	}
}
