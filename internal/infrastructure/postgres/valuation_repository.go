package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

var _ repository.ValuationRepository = (*ValuationRepo)(nil)

// ValuationRepo estado de valoración, capas FIFO y variaciones sobre PostgreSQL.
type ValuationRepo struct {
	q Querier
}

// NewValuationRepository construye el adaptador. Acepta pool o tx (Querier).
func NewValuationRepository(q Querier) *ValuationRepo {
	return &ValuationRepo{q: q}
}

func (r *ValuationRepo) GetState(ctx context.Context, key entity.StockKey) (*entity.ValuationState, error) {
	query := `
		SELECT tenant_id, warehouse_id, product_id, method, total_qty, total_value, average_cost, standard_cost, version, updated_at
		FROM valuation_states
		WHERE tenant_id = $1 AND warehouse_id = $2 AND product_id = $3`
	var s entity.ValuationState
	err := r.q.QueryRow(ctx, query, keyArgs(key.TenantID, key.WarehouseID, key.ProductID)...).Scan(
		&s.TenantID, &s.WarehouseID, &s.ProductID, &s.Method, &s.TotalQty, &s.TotalValue,
		&s.AverageCost, &s.StandardCost, &s.Version, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get valuation state: %w", err)
	}
	return &s, nil
}

func (r *ValuationRepo) SaveState(ctx context.Context, s *entity.ValuationState, expectedVersion int64) error {
	var query string
	if expectedVersion == 0 {
		query = `
			INSERT INTO valuation_states (tenant_id, warehouse_id, product_id, method, total_qty, total_value, average_cost, standard_cost, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9 + 1, now())
			ON CONFLICT (tenant_id, warehouse_id, product_id) DO NOTHING`
	} else {
		query = `
			UPDATE valuation_states
			SET method = $4, total_qty = $5, total_value = $6, average_cost = $7, standard_cost = $8,
				version = version + 1, updated_at = now()
			WHERE tenant_id = $1 AND warehouse_id = $2 AND product_id = $3 AND version = $9`
	}
	tag, err := r.q.Exec(ctx, query,
		s.TenantID, s.WarehouseID, s.ProductID, s.Method, s.TotalQty, s.TotalValue,
		s.AverageCost, s.StandardCost, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("save valuation state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.ErrConcurrentModification, s.Key().String(), "valuation state version changed")
	}
	s.Version = expectedVersion + 1
	return nil
}

func (r *ValuationRepo) CreateLayer(ctx context.Context, l *entity.ValuationLayer) error {
	query := `
		INSERT INTO valuation_layers (id, tenant_id, warehouse_id, product_id, move_id, quantity, unit_cost, remaining_quantity, layer_date, exhausted_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.q.Exec(ctx, query,
		l.ID, l.TenantID, l.WarehouseID, l.ProductID, l.MoveID, l.Quantity, l.UnitCost,
		l.RemainingQuantity, l.LayerDate, l.ExhaustedAt, orNow(l.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewError(domain.ErrDuplicate, l.ID, "valuation layer already exists")
		}
		return fmt.Errorf("create valuation layer: %w", err)
	}
	return nil
}

// UpdateLayer solo el remanente cambia; nunca crece.
func (r *ValuationRepo) UpdateLayer(ctx context.Context, l *entity.ValuationLayer) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE valuation_layers SET remaining_quantity = $3, exhausted_at = $4
		 WHERE tenant_id = $1 AND id = $2 AND remaining_quantity >= $3`,
		l.TenantID, l.ID, l.RemainingQuantity, l.ExhaustedAt,
	)
	if err != nil {
		return fmt.Errorf("update valuation layer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.ErrConcurrentModification, l.ID, "valuation layer changed")
	}
	return nil
}

func (r *ValuationRepo) OpenLayers(ctx context.Context, key entity.StockKey) ([]*entity.ValuationLayer, error) {
	query := `
		SELECT id, tenant_id, warehouse_id, product_id, move_id, quantity, unit_cost, remaining_quantity, layer_date, exhausted_at, created_at
		FROM valuation_layers
		WHERE tenant_id = $1 AND warehouse_id = $2 AND product_id = $3 AND remaining_quantity > 0
		ORDER BY layer_date, seq`
	rows, err := r.q.Query(ctx, query, keyArgs(key.TenantID, key.WarehouseID, key.ProductID)...)
	if err != nil {
		return nil, fmt.Errorf("open valuation layers: %w", err)
	}
	defer rows.Close()
	var out []*entity.ValuationLayer
	for rows.Next() {
		var l entity.ValuationLayer
		if err := rows.Scan(&l.ID, &l.TenantID, &l.WarehouseID, &l.ProductID, &l.MoveID, &l.Quantity,
			&l.UnitCost, &l.RemainingQuantity, &l.LayerDate, &l.ExhaustedAt, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan valuation layer: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (r *ValuationRepo) CreateVariance(ctx context.Context, v *entity.VarianceEntry) error {
	query := `
		INSERT INTO variance_entries (id, tenant_id, warehouse_id, product_id, move_id, kind, quantity, amount, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.q.Exec(ctx, query,
		v.ID, v.TenantID, v.WarehouseID, v.ProductID, v.MoveID, v.Kind, v.Quantity, v.Amount, v.Note, orNow(v.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create variance entry: %w", err)
	}
	return nil
}

// ListVariances más recientes primero.
func (r *ValuationRepo) ListVariances(ctx context.Context, key entity.StockKey, limit int) ([]*entity.VarianceEntry, error) {
	query := `
		SELECT id, tenant_id, warehouse_id, product_id, move_id, kind, quantity, amount, note, created_at
		FROM variance_entries
		WHERE tenant_id = $1 AND warehouse_id = $2 AND product_id = $3
		ORDER BY created_at DESC, id
		LIMIT $4`
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.q.Query(ctx, query, key.TenantID, key.WarehouseID, key.ProductID, lim)
	if err != nil {
		return nil, fmt.Errorf("list variance entries: %w", err)
	}
	defer rows.Close()
	var out []*entity.VarianceEntry
	for rows.Next() {
		var v entity.VarianceEntry
		if err := rows.Scan(&v.ID, &v.TenantID, &v.WarehouseID, &v.ProductID, &v.MoveID, &v.Kind,
			&v.Quantity, &v.Amount, &v.Note, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan variance entry: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
