package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

var _ repository.InventoryLevelRepository = (*InventoryLevelRepo)(nil)

const inventoryLevelColumns = `tenant_id, warehouse_id, product_id, on_hand, reserved, low_threshold, version, updated_at`

// InventoryLevelRepo implementación de InventoryLevelRepository sobre PostgreSQL.
type InventoryLevelRepo struct {
	q Querier
}

// NewInventoryLevelRepository construye el adaptador. Acepta pool o tx (Querier).
func NewInventoryLevelRepository(q Querier) *InventoryLevelRepo {
	return &InventoryLevelRepo{q: q}
}

func (r *InventoryLevelRepo) Get(ctx context.Context, key entity.StockKey) (*entity.InventoryLevel, error) {
	return r.get(ctx, key, "")
}

// GetForUpdate toma el lock de fila hasta el fin de la tx.
func (r *InventoryLevelRepo) GetForUpdate(ctx context.Context, key entity.StockKey) (*entity.InventoryLevel, error) {
	return r.get(ctx, key, " FOR UPDATE")
}

func (r *InventoryLevelRepo) get(ctx context.Context, key entity.StockKey, suffix string) (*entity.InventoryLevel, error) {
	query := `SELECT ` + inventoryLevelColumns + ` FROM inventory_levels
		WHERE tenant_id = $1 AND warehouse_id = $2 AND product_id = $3` + suffix
	l, err := scanInventoryLevel(r.q.QueryRow(ctx, query, keyArgs(key.TenantID, key.WarehouseID, key.ProductID)...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get inventory level: %w", err)
	}
	return l, nil
}

// Save inserta (expectedVersion 0) o actualiza condicionado a la versión.
func (r *InventoryLevelRepo) Save(ctx context.Context, l *entity.InventoryLevel, expectedVersion int64) error {
	var query string
	if expectedVersion == 0 {
		query = `
			INSERT INTO inventory_levels (tenant_id, warehouse_id, product_id, on_hand, reserved, low_threshold, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7 + 1, now())
			ON CONFLICT (tenant_id, warehouse_id, product_id) DO NOTHING`
	} else {
		query = `
			UPDATE inventory_levels
			SET on_hand = $4, reserved = $5, low_threshold = $6, version = version + 1, updated_at = now()
			WHERE tenant_id = $1 AND warehouse_id = $2 AND product_id = $3 AND version = $7`
	}
	tag, err := r.q.Exec(ctx, query,
		l.TenantID, l.WarehouseID, l.ProductID, l.OnHand, l.Reserved, l.LowThreshold, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("save inventory level: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.ErrConcurrentModification, l.Key().String(), "inventory level version changed")
	}
	l.Version = expectedVersion + 1
	return nil
}

func (r *InventoryLevelRepo) ListByWarehouse(ctx context.Context, tenantID, warehouseID string, limit, offset int) ([]*entity.InventoryLevel, error) {
	query := `SELECT ` + inventoryLevelColumns + ` FROM inventory_levels
		WHERE tenant_id = $1 AND warehouse_id = $2
		ORDER BY product_id
		LIMIT $3 OFFSET $4`
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.q.Query(ctx, query, tenantID, warehouseID, lim, offset)
	if err != nil {
		return nil, fmt.Errorf("list inventory levels: %w", err)
	}
	defer rows.Close()
	var out []*entity.InventoryLevel
	for rows.Next() {
		l, err := scanInventoryLevel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory level: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanInventoryLevel(row pgx.Row) (*entity.InventoryLevel, error) {
	var l entity.InventoryLevel
	if err := row.Scan(&l.TenantID, &l.WarehouseID, &l.ProductID, &l.OnHand, &l.Reserved,
		&l.LowThreshold, &l.Version, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}
