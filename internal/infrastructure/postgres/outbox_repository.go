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

var _ repository.OutboxRepository = (*OutboxRepo)(nil)

const outboxColumns = `id, tenant_id, aggregate_type, aggregate_id, event_type, payload, status,
	attempts, last_error, next_attempt_at, created_at, published_at`

// OutboxRepo bandeja de salida sobre PostgreSQL. El orden de publicación es seq (BIGSERIAL).
type OutboxRepo struct {
	q Querier
}

// NewOutboxRepository construye el adaptador. Acepta pool o tx (Querier).
func NewOutboxRepository(q Querier) *OutboxRepo {
	return &OutboxRepo{q: q}
}

// Save inserta los eventos en orden; cada uno recibe el siguiente seq.
func (r *OutboxRepo) Save(ctx context.Context, events ...*entity.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	query := `
		INSERT INTO outbox_events (id, tenant_id, aggregate_type, aggregate_id, event_type, payload, status, attempts, last_error, next_attempt_at, created_at, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	batch := &pgx.Batch{}
	for _, e := range events {
		status := e.Status
		if status == "" {
			status = entity.OutboxPending
		}
		batch.Queue(query,
			e.ID, e.TenantID, e.AggregateType, e.AggregateID, e.EventType, e.Payload, status,
			e.Attempts, e.LastError, orNow(e.NextAttemptAt), orNow(e.CreatedAt), e.PublishedAt,
		)
	}
	if err := r.q.SendBatch(ctx, batch).Close(); err != nil {
		if isUniqueViolation(err) {
			return domain.NewError(domain.ErrDuplicate, "", "outbox event already exists")
		}
		return fmt.Errorf("save outbox events: %w", err)
	}
	return nil
}

// ClaimDue reserva eventos vencidos con SKIP LOCKED para que varios relays no se pisen.
// Un evento no se reclama mientras un anterior de su agregado siga pendiente sin vencer
// (en backoff o reclamado por otro relay).
func (r *OutboxRepo) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*entity.OutboxEvent, error) {
	query := `
		WITH due AS (
			SELECT o.id FROM outbox_events o
			WHERE o.status = 'pending' AND o.next_attempt_at <= $1
			  AND NOT EXISTS (
				SELECT 1 FROM outbox_events p
				WHERE p.aggregate_id = o.aggregate_id AND p.seq < o.seq
				  AND p.status = 'pending' AND p.next_attempt_at > $1
			  )
			ORDER BY o.seq
			LIMIT $3
			FOR UPDATE OF o SKIP LOCKED
		), claimed AS (
			UPDATE outbox_events o SET next_attempt_at = $2
			FROM due WHERE o.id = due.id
			RETURNING o.*
		)
		SELECT ` + outboxColumns + ` FROM claimed ORDER BY seq`
	rows, err := r.q.Query(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	return collectOutbox(rows)
}

// Update persiste estado, intentos y error del evento.
func (r *OutboxRepo) Update(ctx context.Context, e *entity.OutboxEvent) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, attempts = $3, last_error = $4, next_attempt_at = $5, published_at = $6
		WHERE id = $1`,
		e.ID, e.Status, e.Attempts, e.LastError, e.NextAttemptAt, e.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("update outbox event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *OutboxRepo) GetByID(ctx context.Context, id string) (*entity.OutboxEvent, error) {
	e, err := scanOutbox(r.q.QueryRow(ctx, `SELECT `+outboxColumns+` FROM outbox_events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get outbox event: %w", err)
	}
	return e, nil
}

// ListFailed vista dead-letter paginada con el total.
func (r *OutboxRepo) ListFailed(ctx context.Context, limit, offset int) ([]*entity.OutboxEvent, int, error) {
	var total int
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM outbox_events WHERE status = 'failed'`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count failed outbox events: %w", err)
	}
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.q.Query(ctx, `SELECT `+outboxColumns+` FROM outbox_events
		WHERE status = 'failed' ORDER BY seq LIMIT $1 OFFSET $2`, lim, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list failed outbox events: %w", err)
	}
	events, err := collectOutbox(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (r *OutboxRepo) ListByAggregate(ctx context.Context, aggregateID string) ([]*entity.OutboxEvent, error) {
	rows, err := r.q.Query(ctx, `SELECT `+outboxColumns+` FROM outbox_events
		WHERE aggregate_id = $1 ORDER BY seq`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("list outbox events by aggregate: %w", err)
	}
	return collectOutbox(rows)
}

// ArchivePublished mueve a outbox_events_archive en una sola sentencia.
func (r *OutboxRepo) ArchivePublished(ctx context.Context, before time.Time) (int64, error) {
	query := `
		WITH moved AS (
			DELETE FROM outbox_events
			WHERE status = 'published' AND published_at < $1
			RETURNING seq, ` + outboxColumns + `
		)
		INSERT INTO outbox_events_archive (seq, ` + outboxColumns + `)
		SELECT seq, ` + outboxColumns + ` FROM moved`
	tag, err := r.q.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("archive outbox events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *OutboxRepo) CountByStatus(ctx context.Context) (map[entity.OutboxStatus]int64, error) {
	rows, err := r.q.Query(ctx, `SELECT status, count(*) FROM outbox_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count outbox events: %w", err)
	}
	defer rows.Close()
	out := map[entity.OutboxStatus]int64{}
	for rows.Next() {
		var status entity.OutboxStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan outbox count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func collectOutbox(rows pgx.Rows) ([]*entity.OutboxEvent, error) {
	defer rows.Close()
	var out []*entity.OutboxEvent
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read outbox events: %w", err)
	}
	return out, nil
}

func scanOutbox(row pgx.Row) (*entity.OutboxEvent, error) {
	var e entity.OutboxEvent
	err := row.Scan(&e.ID, &e.TenantID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload,
		&e.Status, &e.Attempts, &e.LastError, &e.NextAttemptAt, &e.CreatedAt, &e.PublishedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
