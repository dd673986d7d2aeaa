package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineRequest línea de un documento. En ajustes quantity lleva signo y reason_code es obligatorio.
type LineRequest struct {
	ProductID   string           `json:"product_id"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitCost    *decimal.Decimal `json:"unit_cost,omitempty"`
	ReasonCode  string           `json:"reason_code,omitempty"`
	Counterpart string           `json:"counterpart,omitempty"`
}

// ReceiptRequest body para POST /api/v1/receipts.
type ReceiptRequest struct {
	WarehouseID string        `json:"warehouse_id"`
	SupplierID  string        `json:"supplier_id"`
	Lines       []LineRequest `json:"lines"`
}

// DeliveryRequest body para POST /api/v1/deliveries.
type DeliveryRequest struct {
	WarehouseID    string        `json:"warehouse_id"`
	OrderID        string        `json:"order_id"`
	Lines          []LineRequest `json:"lines"`
	AllowBackorder bool          `json:"allow_backorder"`
}

// TransferRequest body para POST /api/v1/transfers.
type TransferRequest struct {
	SourceWarehouseID string        `json:"source_warehouse_id"`
	DestWarehouseID   string        `json:"dest_warehouse_id"`
	Lines             []LineRequest `json:"lines"`
}

// AdjustmentRequest body para POST /api/v1/adjustments.
type AdjustmentRequest struct {
	WarehouseID string        `json:"warehouse_id"`
	Lines       []LineRequest `json:"lines"`
}

// ReturnRequest body para POST /api/v1/returns.
type ReturnRequest struct {
	WarehouseID string        `json:"warehouse_id"`
	CustomerID  string        `json:"customer_id"`
	Lines       []LineRequest `json:"lines"`
}

// MoveActionRequest body opcional de reversa y validación de borradores.
type MoveActionRequest struct {
	AllowBackorder bool `json:"allow_backorder"`
}

// DraftRequest body para POST /api/v1/drafts.
type DraftRequest struct {
	WarehouseID   string           `json:"warehouse_id"`
	ProductID     string           `json:"product_id"`
	Type          string           `json:"type"`
	Quantity      decimal.Decimal  `json:"quantity"`
	UnitCost      *decimal.Decimal `json:"unit_cost,omitempty"`
	ReasonCode    string           `json:"reason_code,omitempty"`
	ReferenceType string           `json:"reference_type,omitempty"`
	ReferenceID   string           `json:"reference_id,omitempty"`
}

// ThresholdRequest body para PUT /api/v1/stock/:warehouse_id/:product_id/threshold. null elimina el umbral.
type ThresholdRequest struct {
	Threshold *decimal.Decimal `json:"threshold"`
}

// ValuationRequest body de las operaciones administrativas de valoración.
type ValuationRequest struct {
	Method   string           `json:"method,omitempty"`
	UnitCost *decimal.Decimal `json:"unit_cost,omitempty"`
}

// MoveDTO fila del ledger.
type MoveDTO struct {
	ID              string          `json:"id"`
	WarehouseID     string          `json:"warehouse_id"`
	ProductID       string          `json:"product_id"`
	Source          string          `json:"source"`
	Destination     string          `json:"destination"`
	Type            string          `json:"type"`
	Status          string          `json:"status"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	ValueDelta      decimal.Decimal `json:"value_delta"`
	ValuationMethod string          `json:"valuation_method,omitempty"`
	Sequence        int64           `json:"sequence,omitempty"`
	BalanceQty      decimal.Decimal `json:"balance_qty"`
	BalanceValue    decimal.Decimal `json:"balance_value"`
	ReferenceType   string          `json:"reference_type,omitempty"`
	ReferenceID     string          `json:"reference_id,omitempty"`
	ReasonCode      string          `json:"reason_code,omitempty"`
	LinkedMoveID    string          `json:"linked_move_id,omitempty"`
	MoveDate        time.Time       `json:"move_date"`
	CreatedBy       string          `json:"created_by,omitempty"`
}

// CostLotDTO lote de costo consumido o recibido por un movimiento.
type CostLotDTO struct {
	LayerID  string          `json:"layer_id,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// MoveLineDTO movimiento con sus lotes.
type MoveLineDTO struct {
	Move MoveDTO      `json:"move"`
	Lots []CostLotDTO `json:"lots,omitempty"`
}

// DocumentResponse respuesta de las operaciones que producen movimientos.
type DocumentResponse struct {
	ReferenceType string        `json:"reference_type"`
	ReferenceID   string        `json:"reference_id"`
	Moves         []MoveLineDTO `json:"moves"`
	Replayed      bool          `json:"replayed"`
}

// StockLevelDTO nivel de stock de una clave.
type StockLevelDTO struct {
	WarehouseID  string           `json:"warehouse_id"`
	ProductID    string           `json:"product_id"`
	OnHand       decimal.Decimal  `json:"on_hand"`
	Reserved     decimal.Decimal  `json:"reserved"`
	Available    decimal.Decimal  `json:"available"`
	LowThreshold *decimal.Decimal `json:"low_threshold,omitempty"`
	Version      int64            `json:"version"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// StockLevelListResponse niveles de una bodega.
type StockLevelListResponse struct {
	Items []StockLevelDTO `json:"items"`
	Page  PageResponse    `json:"page"`
}

// LedgerResponse página del ledger.
type LedgerResponse struct {
	Moves []MoveDTO    `json:"moves"`
	Page  PageResponse `json:"page"`
}

// DraftResponse estado de un borrador.
type DraftResponse struct {
	Move     MoveDTO        `json:"move"`
	Level    *StockLevelDTO `json:"level,omitempty"`
	Lots     []CostLotDTO   `json:"lots,omitempty"`
	Replayed bool           `json:"replayed"`
}
