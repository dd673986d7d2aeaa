package inventory

import "github.com/shopspring/decimal"

// Escalas de redondeo: dinero en unidades menores, costo unitario con 6 decimales.
const (
	MoneyScale    int32 = 2
	UnitCostScale int32 = 6
)

// RoundMoney redondeo bancario a unidades monetarias menores.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.RoundBank(MoneyScale) }

// RoundUnitCost redondeo bancario del costo unitario.
func RoundUnitCost(d decimal.Decimal) decimal.Decimal { return d.RoundBank(UnitCostScale) }

// CostCalculator implementa la lógica de costo promedio ponderado (servicio de dominio).
// NuevoCosto = ((StockActual * CostoActual) + (CantEntrada * CostoEntrada)) / (StockActual + CantEntrada)
// Si la cantidad resultante no es positiva el promedio no está definido y se usa el costo de entrada.
func CostCalculator(stockActual, costoActual, cantEntrada, costoEntrada decimal.Decimal) decimal.Decimal {
	sum := stockActual.Add(cantEntrada)
	if sum.LessThanOrEqual(decimal.Zero) {
		return RoundUnitCost(costoEntrada)
	}
	num := stockActual.Mul(costoActual).Add(cantEntrada.Mul(costoEntrada))
	return RoundUnitCost(num.Div(sum))
}

// AverageFromTotals promedio a partir del par corrido (cantidad, valor); fallback si la cantidad no es positiva.
func AverageFromTotals(qty, value, fallback decimal.Decimal) decimal.Decimal {
	if !qty.IsPositive() {
		return fallback
	}
	return RoundUnitCost(value.Div(qty))
}
