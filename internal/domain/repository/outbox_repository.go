package repository

import (
	"context"
	"time"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// OutboxRepository persistencia de la bandeja de salida.
type OutboxRepository interface {
	Save(ctx context.Context, events ...*entity.OutboxEvent) error
	// ClaimDue reserva hasta limit eventos pending vencidos, desplazando su next_attempt_at
	// hasta now+lease para que otro relay no los tome mientras se publican.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*entity.OutboxEvent, error)
	Update(ctx context.Context, event *entity.OutboxEvent) error
	GetByID(ctx context.Context, id string) (*entity.OutboxEvent, error)
	ListFailed(ctx context.Context, limit, offset int) ([]*entity.OutboxEvent, int, error)
	ListByAggregate(ctx context.Context, aggregateID string) ([]*entity.OutboxEvent, error)
	// ArchivePublished mueve a archivo los publicados antes de before.
	ArchivePublished(ctx context.Context, before time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[entity.OutboxStatus]int64, error)
}
