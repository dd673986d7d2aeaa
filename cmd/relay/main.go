// relay publica la bandeja de salida de PostgreSQL en Kafka como proceso independiente.
// Varias réplicas pueden correr a la vez: cada lote se reclama con FOR UPDATE SKIP LOCKED.
//
// Uso: APP_STORAGE=postgres KAFKA_BROKERS=localhost:9092 go run ./cmd/relay
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jhoicas/stock-ledger/internal/application/outbox"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/messaging"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/postgres"
	"github.com/jhoicas/stock-ledger/pkg/config"
	"github.com/jhoicas/stock-ledger/pkg/logger"
	"github.com/jhoicas/stock-ledger/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}
	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: cfg.App.Name + "-relay",
	})
	if cfg.App.Storage != "postgres" {
		log.Fatal().Str("storage", cfg.App.Storage).Msg("el relay independiente requiere APP_STORAGE=postgres")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName + "-relay",
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("configurar trazas")
	}

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	var bus outbox.MessageBus = messaging.NewLogBus(log.Component("bus"))
	if cfg.Kafka.Enabled() {
		bus = messaging.NewKafkaBus(messaging.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
		})
	} else {
		log.Warn().Msg("KAFKA_BROKERS vacío: los eventos solo se registran en el log")
	}
	defer bus.Close()

	relay := outbox.NewRelay(postgres.NewOutboxRepository(pool), bus, outbox.RelayConfig{
		PollInterval:    cfg.Outbox.PollInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxAttempts:     cfg.Outbox.MaxAttempts,
		BaseBackoff:     cfg.Outbox.BaseBackoff,
		ClaimLease:      cfg.Outbox.ClaimLease,
		Retention:       cfg.Outbox.Retention,
		ArchiveInterval: cfg.Outbox.ArchiveInterval,
	}, log.Component("relay"))

	runErr := relay.Run(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.Error().Err(err).Msg("apagado de trazas")
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("relay finalizado con error")
		os.Exit(1)
	}
	log.Info().Msg("relay detenido")
}
