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

var _ repository.IdempotencyRepository = (*IdempotencyRepo)(nil)

// IdempotencyRepo registros de idempotencia sobre PostgreSQL.
type IdempotencyRepo struct {
	q Querier
}

// NewIdempotencyRepository construye el adaptador. Acepta pool o tx (Querier).
func NewIdempotencyRepository(q Querier) *IdempotencyRepo {
	return &IdempotencyRepo{q: q}
}

// Get devuelve el registro si no ha vencido.
func (r *IdempotencyRepo) Get(ctx context.Context, tenantID, key string) (*entity.IdempotencyRecord, error) {
	query := `
		SELECT tenant_id, key, operation, request_hash, result, result_digest, move_ids, created_at, expires_at
		FROM idempotency_records
		WHERE tenant_id = $1 AND key = $2 AND expires_at > now()`
	var rec entity.IdempotencyRecord
	err := r.q.QueryRow(ctx, query, tenantID, key).Scan(
		&rec.TenantID, &rec.Key, &rec.Operation, &rec.RequestHash, &rec.Result,
		&rec.ResultDigest, &rec.MoveIDs, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return &rec, nil
}

// Create inserta el registro; uno vencido con la misma key se reemplaza.
func (r *IdempotencyRepo) Create(ctx context.Context, rec *entity.IdempotencyRecord) error {
	query := `
		INSERT INTO idempotency_records (tenant_id, key, operation, request_hash, result, result_digest, move_ids, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, key) DO UPDATE SET
			operation = EXCLUDED.operation,
			request_hash = EXCLUDED.request_hash,
			result = EXCLUDED.result,
			result_digest = EXCLUDED.result_digest,
			move_ids = EXCLUDED.move_ids,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.expires_at <= now()`
	moveIDs := rec.MoveIDs
	if moveIDs == nil {
		moveIDs = []string{}
	}
	tag, err := r.q.Exec(ctx, query,
		rec.TenantID, rec.Key, rec.Operation, rec.RequestHash, rec.Result,
		rec.ResultDigest, moveIDs, orNow(rec.CreatedAt), rec.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewError(domain.ErrDuplicate, rec.Key, "idempotency key already recorded")
		}
		return fmt.Errorf("create idempotency record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.ErrDuplicate, rec.Key, "idempotency key already recorded")
	}
	return nil
}

func (r *IdempotencyRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}
