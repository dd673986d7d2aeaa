package entity

import "strings"

// StockKey identifica la unidad de consistencia del ledger: tenant + bodega + producto.
type StockKey struct {
	TenantID    string
	WarehouseID string
	ProductID   string
}

func (k StockKey) String() string {
	return k.TenantID + "/" + k.WarehouseID + "/" + k.ProductID
}

// Valid indica si los tres componentes están presentes.
func (k StockKey) Valid() bool {
	return strings.TrimSpace(k.TenantID) != "" &&
		strings.TrimSpace(k.WarehouseID) != "" &&
		strings.TrimSpace(k.ProductID) != ""
}

// Less define el orden canónico para adquirir varios locks sin deadlock.
func (k StockKey) Less(o StockKey) bool {
	return k.String() < o.String()
}
