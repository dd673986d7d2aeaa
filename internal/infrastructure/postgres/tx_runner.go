package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain"
)

var _ inventory.TxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL read committed.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// Run inicia una transacción, ejecuta fn con repos atados a la tx y hace Commit o Rollback.
func (r *TxRunner) Run(ctx context.Context, fn func(ctx context.Context, repos inventory.Repositories) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, NewRepositories(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return domain.NewError(domain.ErrConcurrentModification, "", "commit: "+err.Error())
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// NewRepositories repositorios sobre un pool (autocommit) o una tx.
func NewRepositories(q Querier) inventory.Repositories {
	return inventory.Repositories{
		Moves:       NewStockMoveRepository(q),
		Levels:      NewInventoryLevelRepository(q),
		Valuation:   NewValuationRepository(q),
		Idempotency: NewIdempotencyRepository(q),
		Outbox:      NewOutboxRepository(q),
	}
}
