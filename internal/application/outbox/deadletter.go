package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

// FailedPage página de la vista dead-letter.
type FailedPage struct {
	Events     []*entity.OutboxEvent `json:"events"`
	Total      int                   `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// Service vista operativa de la bandeja de salida.
type Service struct {
	repo repository.OutboxRepository
	log  zerolog.Logger
	now  func() time.Time
}

func NewService(repo repository.OutboxRepository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log, now: time.Now}
}

// WithClock reemplaza el reloj usado al reencolar (pruebas).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ListFailed eventos que agotaron sus intentos.
func (s *Service) ListFailed(ctx context.Context, page, pageSize int) (*FailedPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	events, total, err := s.repo.ListFailed(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list failed outbox events: %w", err)
	}
	if events == nil {
		events = []*entity.OutboxEvent{}
	}
	totalPages := total / pageSize
	if total%pageSize > 0 {
		totalPages++
	}
	return &FailedPage{Events: events, Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages}, nil
}

// Requeue devuelve un evento failed a pending con los intentos en cero.
func (s *Service) Requeue(ctx context.Context, eventID string) (*entity.OutboxEvent, error) {
	e, err := s.repo.GetByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("get outbox event: %w", err)
	}
	if e == nil {
		return nil, domain.NewError(domain.ErrNotFound, eventID, "outbox event not found")
	}
	if !e.Requeue(s.now()) {
		return nil, domain.NewError(domain.ErrInvalidTransition, eventID, string(e.Status)+" -> pending")
	}
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("requeue outbox event: %w", err)
	}
	s.log.Info().Str("event_id", e.ID).Str("event_type", e.EventType).Msg("evento reencolado desde dead-letter")
	return e, nil
}

// Stats conteo por estado.
func (s *Service) Stats(ctx context.Context) (map[entity.OutboxStatus]int64, error) {
	stats, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count outbox events: %w", err)
	}
	for _, st := range []entity.OutboxStatus{entity.OutboxPending, entity.OutboxPublished, entity.OutboxFailed} {
		if _, ok := stats[st]; !ok {
			stats[st] = 0
		}
	}
	return stats, nil
}
