package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/application/outbox"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	domaininv "github.com/jhoicas/stock-ledger/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/cache"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/lock"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/memory"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/messaging"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/postgres"
	httpRouter "github.com/jhoicas/stock-ledger/internal/interfaces/http"
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
		Service: cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("storage", cfg.App.Storage).
		Str("lock_backend", cfg.Lock.Backend).
		Msg("iniciando aplicación")
	if cfg.JWT.Secret == "" {
		log.Warn().Msg("JWT_SECRET vacío: toda ruta protegida responderá 401")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("configurar trazas")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Error().Err(err).Msg("apagado de trazas")
		}
	}()

	// Almacenamiento: PostgreSQL en producción, memoria para desarrollo local.
	var (
		txRunner   inventory.TxRunner
		outboxRepo repository.OutboxRepository
	)
	switch cfg.App.Storage {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a PostgreSQL")
		}
		defer pool.Close()
		if cfg.DB.AutoMigrate {
			migrator, err := postgres.NewMigrator(pool, log.Component("migrate"))
			if err != nil {
				log.Fatal().Err(err).Msg("preparar migraciones")
			}
			if err := migrator.Up(); err != nil {
				log.Fatal().Err(err).Msg("aplicar migraciones")
			}
			_ = migrator.Close()
		}
		txRunner = postgres.NewTxRunner(pool)
		outboxRepo = postgres.NewOutboxRepository(pool)
	default:
		store := memory.NewStore()
		txRunner = store
		outboxRepo = store.Repositories().Outbox
	}

	var rdb *redis.Client
	if cfg.Lock.Backend == "redis" || cfg.Idempotency.CacheEnabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr()).Msg("conexión a Redis")
		}
		defer rdb.Close()
	}

	var locker inventory.Locker = lock.NewLocalLocker(cfg.Lock.RetryInterval)
	if cfg.Lock.Backend == "redis" {
		locker = lock.NewRedisLocker(rdb, cfg.Lock.RetryInterval)
	}
	var resultCache inventory.ResultCache = cache.NewMemoryResultCache()
	if cfg.Idempotency.CacheEnabled {
		resultCache = cache.NewRedisResultCache(rdb, "")
	}

	ctrl := inventory.NewController(locker, txRunner, resultCache, inventory.ControllerConfig{
		AcquireTimeout: cfg.Lock.AcquireTimeout,
		LeaseTTL:       cfg.Lock.LeaseTTL,
		IdempotencyTTL: cfg.Idempotency.TTL,
	}, log.Component("controller"))
	ledger := inventory.NewLedgerService(
		ctrl, txRunner,
		domaininv.NewValuationEngine(entity.ValuationMethod(cfg.Valuation.DefaultMethod)),
		outbox.NewPublisher(log.Component("outbox")),
		log.Component("ledger"),
	)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Stock Ledger API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name, "storage": cfg.App.Storage})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Ledger:    ledger,
		Outbox:    outbox.NewService(outboxRepo, log.Component("outbox")),
		JWTSecret: cfg.JWT.Secret,
		Logger:    log.Component("http"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Listen(cfg.HTTP.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("señal de apagado recibida, cerrando servidor...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})
	g.Go(func() error {
		return ctrl.RunPurge(gctx, cfg.Idempotency.PurgeInterval)
	})

	if cfg.App.EmbeddedRelay {
		var bus outbox.MessageBus = messaging.NewLogBus(log.Component("bus"))
		if cfg.Kafka.Enabled() {
			bus = messaging.NewKafkaBus(messaging.KafkaConfig{
				Brokers:  cfg.Kafka.Brokers,
				Topic:    cfg.Kafka.Topic,
				ClientID: cfg.Kafka.ClientID,
			})
		}
		defer bus.Close()
		relay := outbox.NewRelay(outboxRepo, bus, relayConfig(cfg.Outbox), log.Component("relay"))
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("servicio finalizado con error")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("aplicación detenida")
}

func relayConfig(c config.OutboxConfig) outbox.RelayConfig {
	return outbox.RelayConfig{
		PollInterval:    c.PollInterval,
		BatchSize:       c.BatchSize,
		MaxAttempts:     c.MaxAttempts,
		BaseBackoff:     c.BaseBackoff,
		ClaimLease:      c.ClaimLease,
		Retention:       c.Retention,
		ArchiveInterval: c.ArchiveInterval,
	}
}
