package inventory

import (
	"context"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

var tracer = otel.Tracer("github.com/jhoicas/stock-ledger/internal/application/inventory")

// EventPublisher encola eventos en la bandeja de salida de la transacción en curso.
type EventPublisher interface {
	Enqueue(ctx context.Context, repo repository.OutboxRepository, events ...*entity.OutboxEvent) error
}

// Line línea de un documento. Quantity es magnitud positiva salvo en ajustes, donde lleva signo.
type Line struct {
	ProductID   string           `json:"product_id"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitCost    *decimal.Decimal `json:"unit_cost,omitempty"`
	ReasonCode  string           `json:"reason_code,omitempty"`
	Counterpart entity.Location  `json:"counterpart,omitempty"`
}

// ReceiptInput entrada de proveedor.
type ReceiptInput struct {
	TenantID       string `json:"tenant_id"`
	WarehouseID    string `json:"warehouse_id"`
	SupplierID     string `json:"supplier_id"`
	Lines          []Line `json:"lines"`
	IdempotencyKey string `json:"-"`
	CreatedBy      string `json:"-"`
}

// DeliveryInput despacho de una orden.
type DeliveryInput struct {
	TenantID       string `json:"tenant_id"`
	WarehouseID    string `json:"warehouse_id"`
	OrderID        string `json:"order_id"`
	Lines          []Line `json:"lines"`
	AllowBackorder bool   `json:"allow_backorder"`
	IdempotencyKey string `json:"-"`
	CreatedBy      string `json:"-"`
}

// TransferInput traslado entre bodegas vía tránsito.
type TransferInput struct {
	TenantID          string `json:"tenant_id"`
	SourceWarehouseID string `json:"source_warehouse_id"`
	DestWarehouseID   string `json:"dest_warehouse_id"`
	Lines             []Line `json:"lines"`
	IdempotencyKey    string `json:"-"`
	CreatedBy         string `json:"-"`
}

// AdjustmentInput ajuste con código de motivo por línea.
type AdjustmentInput struct {
	TenantID       string `json:"tenant_id"`
	WarehouseID    string `json:"warehouse_id"`
	Lines          []Line `json:"lines"`
	IdempotencyKey string `json:"-"`
	CreatedBy      string `json:"-"`
}

// ReturnInput devolución de cliente.
type ReturnInput struct {
	TenantID       string `json:"tenant_id"`
	WarehouseID    string `json:"warehouse_id"`
	CustomerID     string `json:"customer_id"`
	Lines          []Line `json:"lines"`
	IdempotencyKey string `json:"-"`
	CreatedBy      string `json:"-"`
}

// MoveCommand operación sobre un movimiento existente (reversa, confirmar, validar, cancelar).
type MoveCommand struct {
	TenantID       string `json:"tenant_id"`
	MoveID         string `json:"move_id"`
	AllowBackorder bool   `json:"allow_backorder,omitempty"`
	IdempotencyKey string `json:"-"`
	CreatedBy      string `json:"-"`
}

// DraftInput borrador de un movimiento simple (no traslado).
type DraftInput struct {
	TenantID       string           `json:"tenant_id"`
	WarehouseID    string           `json:"warehouse_id"`
	ProductID      string           `json:"product_id"`
	Type           entity.MoveType  `json:"type"`
	Quantity       decimal.Decimal  `json:"quantity"`
	UnitCost       *decimal.Decimal `json:"unit_cost,omitempty"`
	ReasonCode     string           `json:"reason_code,omitempty"`
	ReferenceType  string           `json:"reference_type,omitempty"`
	ReferenceID    string           `json:"reference_id,omitempty"`
	IdempotencyKey string           `json:"-"`
	CreatedBy      string           `json:"-"`
}

// MoveLine movimiento resultante con los lotes de costo que lo valoraron.
type MoveLine struct {
	Move *entity.StockMove   `json:"move"`
	Lots []inventory.CostLot `json:"lots,omitempty"`
}

// DocumentResult resultado de una operación que produce movimientos.
type DocumentResult struct {
	ReferenceType string     `json:"reference_type"`
	ReferenceID   string     `json:"reference_id"`
	Moves         []MoveLine `json:"moves"`
}

type (
	ReceiptResult    = DocumentResult
	DeliveryResult   = DocumentResult
	TransferResult   = DocumentResult
	AdjustmentResult = DocumentResult
	ReturnResult     = DocumentResult
)

// DraftResult estado de un borrador tras una operación del flujo.
type DraftResult struct {
	Move  *entity.StockMove      `json:"move"`
	Level *entity.InventoryLevel `json:"level,omitempty"`
	Lots  []inventory.CostLot    `json:"lots,omitempty"`
}

func moveIDs(lines []MoveLine) []string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.Move.ID)
	}
	return ids
}
