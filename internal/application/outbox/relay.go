package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
	"github.com/jhoicas/stock-ledger/pkg/metrics"
)

var tracer = otel.Tracer("github.com/jhoicas/stock-ledger/internal/application/outbox")

// Cabeceras de cada mensaje publicado.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
	HeaderTenantID  = "tenant_id"
)

// RelayConfig configuración del relay.
type RelayConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxAttempts     int
	BaseBackoff     time.Duration
	ClaimLease      time.Duration
	Retention       time.Duration
	ArchiveInterval time.Duration
}

// DefaultRelayConfig sondeo cada 5s, lotes de 50, 3 intentos, retención de 7 días.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval:    5 * time.Second,
		BatchSize:       50,
		MaxAttempts:     3,
		BaseBackoff:     time.Second,
		ClaimLease:      30 * time.Second,
		Retention:       7 * 24 * time.Hour,
		ArchiveInterval: time.Hour,
	}
}

// Relay entrega los eventos pending al bus: al menos una vez, en orden de creación por agregado.
type Relay struct {
	repo repository.OutboxRepository
	bus  MessageBus
	cfg  RelayConfig
	log  zerolog.Logger
	now  func() time.Time
}

// NewRelay construye el relay. repo no debe estar atado a una transacción.
func NewRelay(repo repository.OutboxRepository, bus MessageBus, cfg RelayConfig, log zerolog.Logger) *Relay {
	def := DefaultRelayConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = def.ClaimLease
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.ArchiveInterval <= 0 {
		cfg.ArchiveInterval = def.ArchiveInterval
	}
	return &Relay{repo: repo, bus: bus, cfg: cfg, log: log, now: time.Now}
}

// WithClock reemplaza el reloj (pruebas).
func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

// Run sondea hasta que ctx se cancele. Devuelve nil al cancelar.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info().
		Int("batch_size", r.cfg.BatchSize).
		Dur("poll_interval", r.cfg.PollInterval).
		Int("max_attempts", r.cfg.MaxAttempts).
		Msg("relay del outbox iniciado")

	poll := time.NewTicker(r.cfg.PollInterval)
	defer poll.Stop()
	archive := time.NewTicker(r.cfg.ArchiveInterval)
	defer archive.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("relay del outbox detenido")
			return nil
		case <-poll.C:
			// Vacía lo pendiente sin esperar al siguiente tick mientras los lotes salgan llenos.
			for {
				n, err := r.RunOnce(ctx)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						r.log.Error().Err(err).Msg("lote del outbox falló")
					}
					break
				}
				if n < r.cfg.BatchSize || ctx.Err() != nil {
					break
				}
			}
		case <-archive.C:
			if _, err := r.Archive(ctx); err != nil {
				r.log.Error().Err(err).Msg("archivar outbox falló")
			}
		}
	}
}

// RunOnce reclama un lote vencido y lo publica. Devuelve cuántos eventos reclamó.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	now := r.now()
	events, err := r.repo.ClaimDue(ctx, now, r.cfg.ClaimLease, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim outbox events: %w", err)
	}
	// Si un evento falla, los siguientes de su agregado esperan a su reintento.
	blocked := make(map[string]time.Time)
	for _, e := range events {
		if until, ok := blocked[e.AggregateID]; ok {
			e.NextAttemptAt = until
			if err := r.repo.Update(ctx, e); err != nil {
				r.log.Error().Err(err).Str("event_id", e.ID).Msg("diferir evento falló")
			}
			continue
		}
		if ok := r.deliver(ctx, e); !ok {
			until := e.NextAttemptAt
			if e.Status == entity.OutboxFailed {
				until = now.Add(r.cfg.ClaimLease)
			}
			blocked[e.AggregateID] = until
		}
	}
	return len(events), nil
}

func (r *Relay) deliver(ctx context.Context, e *entity.OutboxEvent) bool {
	ctx, span := tracer.Start(ctx, "outbox.publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", e.ID),
		attribute.String("event_type", e.EventType),
		attribute.String("tenant_id", e.TenantID),
		attribute.Int("attempt", e.Attempts+1),
	)

	headers := map[string]string{
		HeaderEventID:   e.ID,
		HeaderEventType: e.EventType,
		HeaderTenantID:  e.TenantID,
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))

	log := r.log.With().Str("event_id", e.ID).Str("event_type", e.EventType).Int("attempt", e.Attempts+1).Logger()
	pubErr := r.bus.Publish(ctx, Message{Key: e.AggregateID, Value: e.Payload, Headers: headers})
	if pubErr == nil {
		e.MarkPublished(r.now())
		if err := r.repo.Update(ctx, e); err != nil {
			// Quedó publicado pero no marcado: se volverá a entregar (al menos una vez).
			log.Error().Err(err).Msg("marcar evento publicado falló")
			return true
		}
		metrics.OutboxPublished.WithLabelValues(e.EventType).Inc()
		log.Debug().Msg("evento publicado")
		return true
	}

	span.RecordError(pubErr)
	span.SetStatus(codes.Error, "publish failed")
	metrics.OutboxFailedAttempts.Inc()
	dead := e.MarkAttemptFailed(pubErr.Error(), r.cfg.MaxAttempts, r.cfg.BaseBackoff, r.now())
	if dead {
		metrics.OutboxDeadLettered.Inc()
		log.Warn().
			Str("aggregate_id", e.AggregateID).
			Str("last_error", e.LastError).
			Msg("evento movido a dead-letter")
	} else {
		log.Warn().Err(pubErr).Time("next_attempt_at", e.NextAttemptAt).Msg("publicar evento falló; se reintentará")
	}
	if err := r.repo.Update(ctx, e); err != nil {
		log.Error().Err(err).Msg("actualizar evento falló")
	}
	return false
}

// Archive archiva los publicados más antiguos que la retención.
func (r *Relay) Archive(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.cfg.Retention)
	n, err := r.repo.ArchivePublished(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive outbox events: %w", err)
	}
	if n > 0 {
		metrics.OutboxArchived.Add(float64(n))
		r.log.Info().Int64("archived", n).Time("cutoff", cutoff).Msg("eventos del outbox archivados")
	}
	return n, nil
}
