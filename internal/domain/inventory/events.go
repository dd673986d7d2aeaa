package inventory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// StockEventPayload cuerpo de los eventos de stock publicados al bus.
type StockEventPayload struct {
	TenantID             string           `json:"tenant_id"`
	ProductID            string           `json:"product_id"`
	WarehouseID          string           `json:"warehouse_id"`
	NewAvailableQuantity decimal.Decimal  `json:"new_available_quantity"`
	MoveID               string           `json:"move_id"`
	Quantity             decimal.Decimal  `json:"quantity"`
	OnHand               decimal.Decimal  `json:"on_hand"`
	Reserved             decimal.Decimal  `json:"reserved"`
	LowThreshold         *decimal.Decimal `json:"low_threshold,omitempty"`
	OccurredAt           time.Time        `json:"occurred_at"`
}

// MoveEvents eventos de un movimiento agregado: increased/decreased según el signo y
// low_threshold_crossed si el disponible cruzó el umbral hacia abajo.
func MoveEvents(move *entity.StockMove, p Projection, at time.Time) ([]*entity.OutboxEvent, error) {
	var types []string
	switch {
	case move.Quantity.IsPositive():
		types = append(types, entity.EventStockIncreased)
	case move.Quantity.IsNegative():
		types = append(types, entity.EventStockDecreased)
	}
	if crossedLow(p) {
		types = append(types, entity.EventStockLowThresholdCrossed)
	}
	return buildEvents(types, move.ID, move.Quantity, p.After, at)
}

// ReservationEvents eventos de un cambio de reservado (delta positivo reserva, negativo libera).
func ReservationEvents(moveID string, delta decimal.Decimal, p Projection, at time.Time) ([]*entity.OutboxEvent, error) {
	var types []string
	switch {
	case delta.IsPositive():
		types = append(types, entity.EventStockReserved)
	case delta.IsNegative():
		types = append(types, entity.EventStockReservationReleased)
	}
	if crossedLow(p) {
		types = append(types, entity.EventStockLowThresholdCrossed)
	}
	return buildEvents(types, moveID, delta, p.After, at)
}

// crossedLow disponible pasó de >= umbral a < umbral.
func crossedLow(p Projection) bool {
	if p.After == nil || p.After.LowThreshold == nil {
		return false
	}
	th := *p.After.LowThreshold
	beforeAvail := decimal.Zero
	if p.Before != nil {
		beforeAvail = p.Before.Available()
	}
	return beforeAvail.GreaterThanOrEqual(th) && p.After.Available().LessThan(th)
}

func buildEvents(types []string, moveID string, qty decimal.Decimal, level *entity.InventoryLevel, at time.Time) ([]*entity.OutboxEvent, error) {
	if len(types) == 0 || level == nil {
		return nil, nil
	}
	raw, err := json.Marshal(StockEventPayload{
		TenantID:             level.TenantID,
		ProductID:            level.ProductID,
		WarehouseID:          level.WarehouseID,
		NewAvailableQuantity: level.Available(),
		MoveID:               moveID,
		Quantity:             qty,
		OnHand:               level.OnHand,
		Reserved:             level.Reserved,
		LowThreshold:         level.LowThreshold,
		OccurredAt:           at,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal stock event: %w", err)
	}
	events := make([]*entity.OutboxEvent, 0, len(types))
	for _, t := range types {
		events = append(events, &entity.OutboxEvent{
			ID:            uuid.NewString(),
			TenantID:      level.TenantID,
			AggregateType: entity.AggregateTypeInventoryLevel,
			AggregateID:   level.Key().String(),
			EventType:     t,
			Payload:       raw,
			Status:        entity.OutboxPending,
			NextAttemptAt: at,
			CreatedAt:     at,
		})
	}
	return events, nil
}
