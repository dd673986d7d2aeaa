package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryLevel representa el stock actual de un producto en una bodega.
// Proyección derivada del ledger; on_hand siempre es la suma de los deltas done.
type InventoryLevel struct {
	TenantID     string
	WarehouseID  string
	ProductID    string
	OnHand       decimal.Decimal
	Reserved     decimal.Decimal
	LowThreshold *decimal.Decimal
	Version      int64
	UpdatedAt    time.Time
}

// NewInventoryLevel nivel vacío para la primera operación de una clave (versión 0, no persistido).
func NewInventoryLevel(key StockKey) *InventoryLevel {
	return &InventoryLevel{
		TenantID:    key.TenantID,
		WarehouseID: key.WarehouseID,
		ProductID:   key.ProductID,
		OnHand:      decimal.Zero,
		Reserved:    decimal.Zero,
	}
}

// Available = on_hand - reserved.
func (l *InventoryLevel) Available() decimal.Decimal {
	return l.OnHand.Sub(l.Reserved)
}

// Key devuelve la clave del nivel.
func (l *InventoryLevel) Key() StockKey {
	return StockKey{TenantID: l.TenantID, WarehouseID: l.WarehouseID, ProductID: l.ProductID}
}

// BelowThreshold indica si el disponible quedó por debajo del umbral configurado.
func (l *InventoryLevel) BelowThreshold() bool {
	return l.LowThreshold != nil && l.Available().LessThan(*l.LowThreshold)
}

// Clone copia profunda (el umbral es puntero).
func (l *InventoryLevel) Clone() *InventoryLevel {
	c := *l
	if l.LowThreshold != nil {
		t := *l.LowThreshold
		c.LowThreshold = &t
	}
	return &c
}
