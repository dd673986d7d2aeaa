package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

// Projection nivel antes y después de aplicar un cambio.
type Projection struct {
	Before *entity.InventoryLevel
	After  *entity.InventoryLevel
}

// Projector mantiene InventoryLevel aplicando exactamente el delta de cada movimiento recién agregado.
type Projector struct {
	now func() time.Time
}

// NewProjector construye el proyector.
func NewProjector(now func() time.Time) *Projector {
	if now == nil {
		now = time.Now
	}
	return &Projector{now: now}
}

// Load lee el nivel bloqueando la fila; nivel vacío (versión 0) si la clave es nueva.
func (p *Projector) Load(ctx context.Context, levels repository.InventoryLevelRepository, key entity.StockKey) (*entity.InventoryLevel, error) {
	level, err := levels.GetForUpdate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get inventory level: %w", err)
	}
	if level == nil {
		level = entity.NewInventoryLevel(key)
	}
	return level, nil
}

// Apply suma el delta del movimiento al on-hand y reservedDelta al reservado.
// La versión leída se verifica al guardar (ErrConcurrentModification si otro escritor la cambió).
func (p *Projector) Apply(ctx context.Context, levels repository.InventoryLevelRepository, move *entity.StockMove, reservedDelta decimal.Decimal) (Projection, error) {
	if !move.IsDone() {
		return Projection{}, domain.NewError(domain.ErrInvalidTransition, move.ID, "only done moves are projected")
	}
	return p.change(ctx, levels, move.Key(), move.Quantity, reservedDelta)
}

// Reserve ajusta solo el reservado (confirmación o cancelación de borradores de salida).
func (p *Projector) Reserve(ctx context.Context, levels repository.InventoryLevelRepository, key entity.StockKey, delta decimal.Decimal) (Projection, error) {
	return p.change(ctx, levels, key, decimal.Zero, delta)
}

// SetThreshold configura el umbral de stock bajo (nil lo elimina).
func (p *Projector) SetThreshold(ctx context.Context, levels repository.InventoryLevelRepository, key entity.StockKey, threshold *decimal.Decimal) (Projection, error) {
	level, err := p.Load(ctx, levels, key)
	if err != nil {
		return Projection{}, err
	}
	before := level.Clone()
	level.LowThreshold = threshold
	level.UpdatedAt = p.now()
	if err := levels.Save(ctx, level, before.Version); err != nil {
		return Projection{}, err
	}
	return Projection{Before: before, After: level.Clone()}, nil
}

func (p *Projector) change(ctx context.Context, levels repository.InventoryLevelRepository, key entity.StockKey, onHandDelta, reservedDelta decimal.Decimal) (Projection, error) {
	level, err := p.Load(ctx, levels, key)
	if err != nil {
		return Projection{}, err
	}
	before := level.Clone()
	level.OnHand = level.OnHand.Add(onHandDelta)
	level.Reserved = level.Reserved.Add(reservedDelta)
	if level.Reserved.IsNegative() {
		return Projection{}, domain.NewError(domain.ErrConflict, key.String(), "reserved quantity would go negative")
	}
	level.UpdatedAt = p.now()
	if err := levels.Save(ctx, level, before.Version); err != nil {
		return Projection{}, err
	}
	return Projection{Before: before, After: level.Clone()}, nil
}

// Replay reconstruye el nivel desde cero: on-hand como suma de los deltas done y reservado
// como la suma de los borradores de salida confirmados.
func Replay(key entity.StockKey, done []*entity.StockMove, open []*entity.StockMove) *entity.InventoryLevel {
	level := entity.NewInventoryLevel(key)
	for _, m := range done {
		if m.IsDone() {
			level.OnHand = level.OnHand.Add(m.Quantity)
		}
	}
	for _, m := range open {
		if m.Status == entity.MoveStatusConfirmed && m.IsOutbound() {
			level.Reserved = level.Reserved.Add(m.Quantity.Neg())
		}
	}
	return level
}
