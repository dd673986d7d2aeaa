package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

var _ repository.StockMoveRepository = (*StockMoveRepo)(nil)

const stockMoveColumns = `id, tenant_id, warehouse_id, product_id, source, destination, type, status,
	quantity, unit_cost, value_delta, valuation_method, sequence, balance_qty, balance_value,
	reference_type, reference_id, reason_code, linked_move_id, idempotency_key,
	move_date, created_by, created_at`

// StockMoveRepo ledger de movimientos sobre PostgreSQL (usable con pool o tx).
type StockMoveRepo struct {
	q Querier
}

// NewStockMoveRepository construye el adaptador. Pasar pool o tx (Querier).
func NewStockMoveRepository(q Querier) *StockMoveRepo {
	return &StockMoveRepo{q: q}
}

// Insert agrega un movimiento. Un id repetido es ErrDuplicate; una secuencia ya tomada
// para la clave significa que otro escritor ganó la carrera.
func (r *StockMoveRepo) Insert(ctx context.Context, m *entity.StockMove) error {
	query := `INSERT INTO stock_moves (` + stockMoveColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`
	_, err := r.q.Exec(ctx, query,
		m.ID, m.TenantID, m.WarehouseID, m.ProductID, m.Source, m.Destination, m.Type, m.Status,
		m.Quantity, m.UnitCost, m.ValueDelta, m.ValuationMethod, nullableSequence(m.Sequence), m.BalanceQty, m.BalanceValue,
		m.ReferenceType, m.ReferenceID, m.ReasonCode, m.LinkedMoveID, m.IdempotencyKey,
		m.MoveDate, m.CreatedBy, orNow(m.CreatedAt),
	)
	if err != nil {
		return r.insertError(m, err)
	}
	return nil
}

func (r *StockMoveRepo) insertError(m *entity.StockMove, err error) error {
	if !isUniqueViolation(err) {
		return fmt.Errorf("insert stock move: %w", err)
	}
	if violatedConstraint(err) == "stock_moves_key_sequence_uq" {
		return domain.NewError(domain.ErrConcurrentModification, m.Key().String(),
			fmt.Sprintf("sequence %d already taken", m.Sequence))
	}
	return domain.NewError(domain.ErrDuplicate, m.ID, "move already exists")
}

// Finalize escribe saldos, costo y secuencia de un borrador que pasa a done.
func (r *StockMoveRepo) Finalize(ctx context.Context, m *entity.StockMove) error {
	query := `
		UPDATE stock_moves SET
			status = $3, quantity = $4, unit_cost = $5, value_delta = $6, valuation_method = $7,
			sequence = $8, balance_qty = $9, balance_value = $10, move_date = $11
		WHERE tenant_id = $1 AND id = $2 AND status IN ('draft', 'confirmed')`
	tag, err := r.q.Exec(ctx, query,
		m.TenantID, m.ID, m.Status, m.Quantity, m.UnitCost, m.ValueDelta, m.ValuationMethod,
		nullableSequence(m.Sequence), m.BalanceQty, m.BalanceValue, m.MoveDate,
	)
	if err != nil {
		return r.insertError(m, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrTerminal(ctx, m.TenantID, m.ID)
	}
	return nil
}

// UpdateStatus cambia el estado solo si el actual sigue siendo from.
func (r *StockMoveRepo) UpdateStatus(ctx context.Context, tenantID, moveID string, from, to entity.MoveStatus) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE stock_moves SET status = $4 WHERE tenant_id = $1 AND id = $2 AND status = $3`,
		tenantID, moveID, from, to,
	)
	if err != nil {
		return fmt.Errorf("update stock move status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrTerminal(ctx, tenantID, moveID)
	}
	return nil
}

func (r *StockMoveRepo) missingOrTerminal(ctx context.Context, tenantID, moveID string) error {
	cur, err := r.GetByID(ctx, tenantID, moveID)
	if err != nil {
		return err
	}
	if cur == nil {
		return domain.ErrNotFound
	}
	return domain.NewError(domain.ErrInvalidTransition, moveID, "move is "+string(cur.Status))
}

// GetByID obtiene un movimiento por ID dentro del tenant.
func (r *StockMoveRepo) GetByID(ctx context.Context, tenantID, moveID string) (*entity.StockMove, error) {
	query := `SELECT ` + stockMoveColumns + ` FROM stock_moves WHERE tenant_id = $1 AND id = $2`
	m, err := scanStockMove(r.q.QueryRow(ctx, query, tenantID, moveID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get stock move: %w", err)
	}
	return m, nil
}

// LastDone último movimiento done de la clave.
func (r *StockMoveRepo) LastDone(ctx context.Context, key entity.StockKey) (*entity.StockMove, error) {
	query := `SELECT ` + stockMoveColumns + ` FROM stock_moves
		WHERE tenant_id = $1 AND warehouse_id = $2 AND product_id = $3 AND status = 'done'
		ORDER BY sequence DESC LIMIT 1`
	m, err := scanStockMove(r.q.QueryRow(ctx, query, keyArgs(key.TenantID, key.WarehouseID, key.ProductID)...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last done stock move: %w", err)
	}
	return m, nil
}

// doneWhere arma el filtro común de ListDone y CountDone.
func doneWhere(key entity.StockKey, f repository.LedgerFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(` WHERE tenant_id = $1 AND warehouse_id = $2 AND product_id = $3 AND status = 'done'`)
	args := keyArgs(key.TenantID, key.WarehouseID, key.ProductID)
	pos := 4
	if f.From != nil {
		fmt.Fprintf(&b, " AND move_date >= $%d", pos)
		args = append(args, *f.From)
		pos++
	}
	if f.To != nil {
		fmt.Fprintf(&b, " AND move_date <= $%d", pos)
		args = append(args, *f.To)
	}
	return b.String(), args
}

// ListDone movimientos done de la clave ordenados por secuencia.
func (r *StockMoveRepo) ListDone(ctx context.Context, key entity.StockKey, f repository.LedgerFilter) ([]*entity.StockMove, error) {
	where, args := doneWhere(key, f)
	query := `SELECT ` + stockMoveColumns + ` FROM stock_moves` + where + ` ORDER BY sequence`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, f.Offset)
	}
	return r.list(ctx, "list done stock moves", query, args...)
}

// CountDone total de movimientos done que cumplen el filtro (sin paginar).
func (r *StockMoveRepo) CountDone(ctx context.Context, key entity.StockKey, f repository.LedgerFilter) (int, error) {
	where, args := doneWhere(key, f)
	var n int
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM stock_moves`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count done stock moves: %w", err)
	}
	return n, nil
}

// ListOpen borradores y confirmados de la clave.
func (r *StockMoveRepo) ListOpen(ctx context.Context, key entity.StockKey) ([]*entity.StockMove, error) {
	query := `SELECT ` + stockMoveColumns + ` FROM stock_moves
		WHERE tenant_id = $1 AND warehouse_id = $2 AND product_id = $3 AND status IN ('draft', 'confirmed')
		ORDER BY created_at, id`
	return r.list(ctx, "list open stock moves", query, keyArgs(key.TenantID, key.WarehouseID, key.ProductID)...)
}

// FindByLinked movimientos que apuntan a moveID.
func (r *StockMoveRepo) FindByLinked(ctx context.Context, tenantID, moveID string) ([]*entity.StockMove, error) {
	query := `SELECT ` + stockMoveColumns + ` FROM stock_moves
		WHERE tenant_id = $1 AND linked_move_id = $2
		ORDER BY created_at, id`
	return r.list(ctx, "find linked stock moves", query, tenantID, moveID)
}

func (r *StockMoveRepo) list(ctx context.Context, op, query string, args ...any) ([]*entity.StockMove, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	var out []*entity.StockMove
	for rows.Next() {
		m, err := scanStockMove(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func scanStockMove(row pgx.Row) (*entity.StockMove, error) {
	var m entity.StockMove
	var seq *int64
	err := row.Scan(
		&m.ID, &m.TenantID, &m.WarehouseID, &m.ProductID, &m.Source, &m.Destination, &m.Type, &m.Status,
		&m.Quantity, &m.UnitCost, &m.ValueDelta, &m.ValuationMethod, &seq, &m.BalanceQty, &m.BalanceValue,
		&m.ReferenceType, &m.ReferenceID, &m.ReasonCode, &m.LinkedMoveID, &m.IdempotencyKey,
		&m.MoveDate, &m.CreatedBy, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if seq != nil {
		m.Sequence = *seq
	}
	return &m, nil
}

// Los borradores no tienen secuencia hasta volverse done.
func nullableSequence(seq int64) *int64 {
	if seq == 0 {
		return nil
	}
	return &seq
}
