package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger/internal/domain"
)

// MoveType tipo de movimiento de stock.
type MoveType string

const (
	MoveTypeReceipt    MoveType = "receipt"
	MoveTypeDelivery   MoveType = "delivery"
	MoveTypeTransfer   MoveType = "transfer"
	MoveTypeAdjustment MoveType = "adjustment"
	MoveTypeReturn     MoveType = "return"
)

// Valid indica si el tipo es conocido.
func (t MoveType) Valid() bool {
	switch t {
	case MoveTypeReceipt, MoveTypeDelivery, MoveTypeTransfer, MoveTypeAdjustment, MoveTypeReturn:
		return true
	}
	return false
}

// MoveStatus estado del ciclo de vida de un movimiento.
type MoveStatus string

const (
	MoveStatusDraft     MoveStatus = "draft"
	MoveStatusConfirmed MoveStatus = "confirmed"
	MoveStatusDone      MoveStatus = "done"
	MoveStatusCancelled MoveStatus = "cancelled"
)

var allowedTransitions = map[MoveStatus][]MoveStatus{
	MoveStatusDraft:     {MoveStatusConfirmed, MoveStatusDone, MoveStatusCancelled},
	MoveStatusConfirmed: {MoveStatusDone, MoveStatusCancelled},
}

// CanTransition indica si from → to está permitido. done y cancelled son terminales.
func CanTransition(from, to MoveStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Location ubicación origen/destino. Las virtuales representan la contraparte del movimiento.
type Location string

const (
	LocationInternal   Location = "internal"
	LocationSupplier   Location = "supplier"
	LocationCustomer   Location = "customer"
	LocationQuarantine Location = "quarantine"
	LocationTransit    Location = "transit"
	LocationLoss       Location = "loss"
)

// ValuationMethod método de valoración vigente para una clave.
type ValuationMethod string

const (
	ValuationFIFO     ValuationMethod = "fifo"
	ValuationAVCO     ValuationMethod = "avco"
	ValuationStandard ValuationMethod = "standard"
)

// Valid indica si el método es soportado.
func (m ValuationMethod) Valid() bool {
	return m == ValuationFIFO || m == ValuationAVCO || m == ValuationStandard
}

// StockMove es una fila del ledger. Una vez done ningún campo cambia; las correcciones
// son movimientos compensatorios.
type StockMove struct {
	ID          string
	TenantID    string
	WarehouseID string
	ProductID   string

	Source      Location
	Destination Location
	Type        MoveType
	Status      MoveStatus

	Quantity        decimal.Decimal // con signo: positivo entra, negativo sale
	UnitCost        decimal.Decimal
	ValueDelta      decimal.Decimal // efecto monetario con signo
	ValuationMethod ValuationMethod // snapshot del método al momento del movimiento

	// Saldos corridos al momento del append; nunca se recalculan.
	Sequence     int64
	BalanceQty   decimal.Decimal
	BalanceValue decimal.Decimal

	ReferenceType  string
	ReferenceID    string
	ReasonCode     string
	LinkedMoveID   string
	IdempotencyKey string

	MoveDate  time.Time
	CreatedBy string
	CreatedAt time.Time
}

// Key devuelve la clave de consistencia del movimiento.
func (m *StockMove) Key() StockKey {
	return StockKey{TenantID: m.TenantID, WarehouseID: m.WarehouseID, ProductID: m.ProductID}
}

// IsInbound indica si el movimiento incrementa el on-hand.
func (m *StockMove) IsInbound() bool { return m.Quantity.IsPositive() }

// IsOutbound indica si el movimiento reduce el on-hand.
func (m *StockMove) IsOutbound() bool { return m.Quantity.IsNegative() }

// IsDone indica si el movimiento ya forma parte del ledger.
func (m *StockMove) IsDone() bool { return m.Status == MoveStatusDone }

// Transition cambia el estado respetando la máquina de estados.
func (m *StockMove) Transition(to MoveStatus) error {
	if !CanTransition(m.Status, to) {
		return domain.NewError(domain.ErrInvalidTransition, m.ID, string(m.Status)+" -> "+string(to))
	}
	m.Status = to
	return nil
}
