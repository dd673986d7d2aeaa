package outbox

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
	"github.com/jhoicas/stock-ledger/pkg/metrics"
)

// Publisher escribe los eventos en la bandeja de salida de la transacción en curso.
// Nunca habla con el bus: eso lo hace el Relay después del commit.
type Publisher struct {
	log zerolog.Logger
}

var _ inventory.EventPublisher = (*Publisher)(nil)

func NewPublisher(log zerolog.Logger) *Publisher {
	return &Publisher{log: log}
}

// Enqueue guarda los eventos con el repositorio atado a la transacción de la mutación.
func (p *Publisher) Enqueue(ctx context.Context, repo repository.OutboxRepository, events ...*entity.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := repo.Save(ctx, events...); err != nil {
		return fmt.Errorf("enqueue outbox events: %w", err)
	}
	for _, e := range events {
		metrics.OutboxEnqueued.WithLabelValues(e.EventType).Inc()
		p.log.Debug().
			Str("event_id", e.ID).
			Str("event_type", e.EventType).
			Str("aggregate_id", e.AggregateID).
			Msg("evento encolado")
	}
	return nil
}
