package dto

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ValuationStateDTO estado de valoración de una clave.
type ValuationStateDTO struct {
	WarehouseID  string           `json:"warehouse_id"`
	ProductID    string           `json:"product_id"`
	Method       string           `json:"method"`
	TotalQty     decimal.Decimal  `json:"total_qty"`
	TotalValue   decimal.Decimal  `json:"total_value"`
	AverageCost  decimal.Decimal  `json:"average_cost"`
	StandardCost *decimal.Decimal `json:"standard_cost,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// LayerDTO capa FIFO abierta.
type LayerDTO struct {
	ID                string          `json:"id"`
	MoveID            string          `json:"move_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	LayerDate         time.Time       `json:"layer_date"`
}

// VarianceDTO asiento de variación.
type VarianceDTO struct {
	ID        string          `json:"id"`
	MoveID    string          `json:"move_id"`
	Kind      string          `json:"kind"`
	Quantity  decimal.Decimal `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ValuationViewResponse GET /api/v1/valuation/:warehouse_id/:product_id.
type ValuationViewResponse struct {
	State     ValuationStateDTO `json:"state"`
	Layers    []LayerDTO        `json:"layers"`
	Variances []VarianceDTO     `json:"variances"`
}

// ValuationActionResponse resultado de una operación administrativa.
type ValuationActionResponse struct {
	State    ValuationStateDTO `json:"state"`
	Move     *MoveDTO          `json:"move,omitempty"`
	Variance *VarianceDTO      `json:"variance,omitempty"`
	Replayed bool              `json:"replayed"`
}

// OutboxEventDTO evento de la bandeja de salida (vista dead-letter).
type OutboxEventDTO struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   *time.Time      `json:"published_at,omitempty"`
}

// FailedEventsResponse página de eventos fallidos.
type FailedEventsResponse struct {
	Events     []OutboxEventDTO `json:"events"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}
