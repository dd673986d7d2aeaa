package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValuationLayer capa FIFO: lote recibido a un costo, consumido del más antiguo al más nuevo.
// RemainingQuantity solo disminuye; nunca se borra, se marca agotada.
type ValuationLayer struct {
	ID                string
	TenantID          string
	WarehouseID       string
	ProductID         string
	MoveID            string
	Quantity          decimal.Decimal
	UnitCost          decimal.Decimal
	RemainingQuantity decimal.Decimal
	LayerDate         time.Time
	ExhaustedAt       *time.Time
	CreatedAt         time.Time
}

// Consume descuenta hasta qty de la capa y devuelve lo tomado.
func (l *ValuationLayer) Consume(qty decimal.Decimal, at time.Time) decimal.Decimal {
	if !qty.IsPositive() || !l.RemainingQuantity.IsPositive() {
		return decimal.Zero
	}
	taken := decimal.Min(qty, l.RemainingQuantity)
	l.RemainingQuantity = l.RemainingQuantity.Sub(taken)
	if l.RemainingQuantity.IsZero() {
		t := at
		l.ExhaustedAt = &t
	}
	return taken
}

// IsExhausted indica si la capa no tiene cantidad restante.
func (l *ValuationLayer) IsExhausted() bool { return !l.RemainingQuantity.IsPositive() }

// RemainingValue valor exacto (sin redondear) de lo restante.
func (l *ValuationLayer) RemainingValue() decimal.Decimal {
	return l.RemainingQuantity.Mul(l.UnitCost)
}

// Clone copia profunda.
func (l *ValuationLayer) Clone() *ValuationLayer {
	c := *l
	if l.ExhaustedAt != nil {
		t := *l.ExhaustedAt
		c.ExhaustedAt = &t
	}
	return &c
}

// ValuationState par corrido (cantidad, valor) y configuración de valoración por clave.
// En FIFO refleja la suma de las capas abiertas.
type ValuationState struct {
	TenantID     string
	WarehouseID  string
	ProductID    string
	Method       ValuationMethod
	TotalQty     decimal.Decimal
	TotalValue   decimal.Decimal
	AverageCost  decimal.Decimal
	StandardCost *decimal.Decimal
	Version      int64
	UpdatedAt    time.Time
}

// NewValuationState estado inicial configurado con el método por defecto.
func NewValuationState(key StockKey, method ValuationMethod) *ValuationState {
	return &ValuationState{
		TenantID:    key.TenantID,
		WarehouseID: key.WarehouseID,
		ProductID:   key.ProductID,
		Method:      method,
		TotalQty:    decimal.Zero,
		TotalValue:  decimal.Zero,
		AverageCost: decimal.Zero,
	}
}

// Key devuelve la clave del estado.
func (s *ValuationState) Key() StockKey {
	return StockKey{TenantID: s.TenantID, WarehouseID: s.WarehouseID, ProductID: s.ProductID}
}

// Clone copia profunda.
func (s *ValuationState) Clone() *ValuationState {
	c := *s
	if s.StandardCost != nil {
		v := *s.StandardCost
		c.StandardCost = &v
	}
	return &c
}

// VarianceKind tipo de asiento de variación.
type VarianceKind string

const (
	VariancePurchasePrice    VarianceKind = "purchase_price"
	VarianceMethodSwitch     VarianceKind = "method_switch"
	VarianceRoundingResidual VarianceKind = "rounding_residual"
	VarianceRevaluation      VarianceKind = "revaluation"
)

// VarianceEntry diferencia monetaria que no se absorbe en el valor del inventario
// (precio de compra vs estándar) o que lo ajusta explícitamente (cierre, revaluación).
type VarianceEntry struct {
	ID          string
	TenantID    string
	WarehouseID string
	ProductID   string
	MoveID      string
	Kind        VarianceKind
	Quantity    decimal.Decimal
	Amount      decimal.Decimal
	Note        string
	CreatedAt   time.Time
}
