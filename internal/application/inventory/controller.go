package inventory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/pkg/metrics"
)

// MaxIdempotencyKeyLength longitud máxima aceptada de una idempotency key.
const MaxIdempotencyKeyLength = 128

// ControllerConfig tiempos del controlador de concurrencia.
type ControllerConfig struct {
	AcquireTimeout time.Duration
	LeaseTTL       time.Duration
	IdempotencyTTL time.Duration
}

// DefaultControllerConfig 5s para adquirir, 15s de lease, 24h de retención de resultados.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		AcquireTimeout: 5 * time.Second,
		LeaseTTL:       15 * time.Second,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// Controller serializa las mutaciones por clave y deduplica por idempotency key.
type Controller struct {
	locker Locker
	tx     TxRunner
	cache  ResultCache
	cfg    ControllerConfig
	log    zerolog.Logger
	now    func() time.Time
}

// NewController construye el controlador. cache puede ser nil.
func NewController(locker Locker, tx TxRunner, cache ResultCache, cfg ControllerConfig, log zerolog.Logger) *Controller {
	def := DefaultControllerConfig()
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = def.IdempotencyTTL
	}
	return &Controller{locker: locker, tx: tx, cache: cache, cfg: cfg, log: log, now: time.Now}
}

// WithClock reemplaza el reloj (pruebas).
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// WithStockLock ejecuta fn con el lease exclusivo de la clave.
func (c *Controller) WithStockLock(ctx context.Context, key entity.StockKey, fn func(ctx context.Context) error) error {
	return c.WithStockLocks(ctx, []entity.StockKey{key}, fn)
}

// WithStockLocks adquiere los leases de todas las claves en orden canónico y los libera en
// cualquier salida. fn recibe un contexto acotado por el TTL del lease.
func (c *Controller) WithStockLocks(ctx context.Context, keys []entity.StockKey, fn func(ctx context.Context) error) error {
	keys = canonicalKeys(keys)
	leases := make([]Lease, 0, len(keys))
	defer func() {
		for i := len(leases) - 1; i >= 0; i-- {
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			if err := leases[i].Release(relCtx); err != nil {
				c.log.Warn().Err(err).Str("lock_key", keys[i].String()).Msg("liberar lock falló; expira por TTL")
			}
			cancel()
		}
	}()

	for _, k := range keys {
		start := time.Now()
		acqCtx, cancel := context.WithTimeout(ctx, c.cfg.AcquireTimeout)
		lease, err := c.locker.Acquire(acqCtx, lockKey(k), c.cfg.LeaseTTL)
		cancel()
		metrics.LockWait.Observe(time.Since(start).Seconds())
		if err != nil {
			if errors.Is(err, domain.ErrLockTimeout) {
				metrics.LockTimeouts.Inc()
				return domain.NewError(domain.ErrLockTimeout, k.String(), fmt.Sprintf("not acquired within %s", c.cfg.AcquireTimeout))
			}
			return fmt.Errorf("acquire stock lock: %w", err)
		}
		leases = append(leases, lease)
	}

	fnCtx, cancel := context.WithTimeout(ctx, c.cfg.LeaseTTL)
	defer cancel()
	return fn(fnCtx)
}

func lockKey(k entity.StockKey) string {
	return "lock:" + k.TenantID + ":stock:" + k.WarehouseID + ":" + k.ProductID
}

func canonicalKeys(keys []entity.StockKey) []entity.StockKey {
	seen := make(map[entity.StockKey]bool, len(keys))
	out := make([]entity.StockKey, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Command describe una mutación idempotente.
type Command struct {
	TenantID       string
	IdempotencyKey string
	Operation      string
	Payload        any
	Keys           []entity.StockKey
}

// ValidateIdempotencyKey rechaza keys vacías o demasiado largas.
func ValidateIdempotencyKey(key string) error {
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if len(key) > MaxIdempotencyKeyLength {
		return domain.NewError(domain.ErrInvalidInput, key[:16]+"…", fmt.Sprintf("idempotency key longer than %d", MaxIdempotencyKeyLength))
	}
	if strings.ContainsFunc(key, unicode.IsControl) {
		return domain.NewError(domain.ErrInvalidInput, "", "idempotency key contains control characters")
	}
	return nil
}

// RequestHash huella sha256 de la operación y su payload canónico (JSON).
func RequestHash(operation string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request payload: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte{0})
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Outcome resultado de una ejecución idempotente.
type Outcome[T any] struct {
	Result   T
	Replayed bool
}

// Execute corre fn a lo sumo una vez por (tenant, key): consulta el resultado almacenado antes
// del lock, vuelve a consultarlo dentro de la transacción y guarda el registro junto con los
// movimientos. fn devuelve el resultado y los ids de movimiento creados.
func Execute[T any](ctx context.Context, c *Controller, cmd Command, fn func(ctx context.Context, repos Repositories) (T, []string, error)) (Outcome[T], error) {
	var out Outcome[T]
	if err := ValidateIdempotencyKey(cmd.IdempotencyKey); err != nil {
		return out, err
	}
	hash, err := RequestHash(cmd.Operation, cmd.Payload)
	if err != nil {
		return out, err
	}

	ctx, span := tracer.Start(ctx, "ledger."+cmd.Operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", cmd.TenantID),
		attribute.String("idempotency_key", cmd.IdempotencyKey),
	)
	log := c.log.With().Str("tenant_id", cmd.TenantID).Str("idempotency_key", cmd.IdempotencyKey).Str("operation", cmd.Operation).Logger()

	if rec, err := c.lookup(ctx, cmd.TenantID, cmd.IdempotencyKey); err != nil {
		return out, err
	} else if rec != nil {
		return replay[T](rec, hash, log)
	}

	var (
		stored  *entity.IdempotencyRecord
		created bool
	)
	runErr := c.WithStockLocks(ctx, cmd.Keys, func(lctx context.Context) error {
		return c.runTx(lctx, log, func(tctx context.Context, repos Repositories) error {
			stored, created = nil, false
			rec, err := repos.Idempotency.Get(tctx, cmd.TenantID, cmd.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("get idempotency record: %w", err)
			}
			if rec != nil {
				stored = rec
				return nil
			}
			res, moveIDs, err := fn(tctx, repos)
			if err != nil {
				return err
			}
			raw, err := json.Marshal(res)
			if err != nil {
				return fmt.Errorf("marshal result: %w", err)
			}
			now := c.now()
			digest := sha256.Sum256(raw)
			rec = &entity.IdempotencyRecord{
				TenantID:     cmd.TenantID,
				Key:          cmd.IdempotencyKey,
				Operation:    cmd.Operation,
				RequestHash:  hash,
				Result:       raw,
				ResultDigest: hex.EncodeToString(digest[:]),
				MoveIDs:      moveIDs,
				CreatedAt:    now,
				ExpiresAt:    now.Add(c.cfg.IdempotencyTTL),
			}
			if err := repos.Idempotency.Create(tctx, rec); err != nil {
				return err
			}
			stored, created = rec, true
			return nil
		})
	})
	if runErr != nil && errors.Is(runErr, domain.ErrDuplicate) {
		// Otro nodo confirmó la misma key entre la consulta y el commit.
		rec, err := c.lookup(ctx, cmd.TenantID, cmd.IdempotencyKey)
		if err == nil && rec != nil {
			return replay[T](rec, hash, log)
		}
	}
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, string(domain.KindOf(runErr)))
		return out, runErr
	}
	if !created {
		return replay[T](stored, hash, log)
	}

	if c.cache != nil {
		if err := c.cache.Put(ctx, stored); err != nil {
			log.Warn().Err(err).Msg("guardar resultado en cache falló")
		}
	}
	// El resultado se decodifica del registro para que la primera respuesta y las repeticiones sean idénticas.
	if err := json.Unmarshal(stored.Result, &out.Result); err != nil {
		return out, fmt.Errorf("decode stored result: %w", err)
	}
	log.Debug().Strs("move_ids", stored.MoveIDs).Msg("mutación confirmada")
	return out, nil
}

func replay[T any](rec *entity.IdempotencyRecord, hash string, log zerolog.Logger) (Outcome[T], error) {
	var out Outcome[T]
	if rec.RequestHash != hash {
		return out, domain.NewError(domain.ErrIdempotencyKeyReused, rec.Key, "payload differs from the original request")
	}
	if err := json.Unmarshal(rec.Result, &out.Result); err != nil {
		return out, fmt.Errorf("decode stored result: %w", err)
	}
	out.Replayed = true
	metrics.IdempotentReplays.Inc()
	log.Info().Strs("move_ids", rec.MoveIDs).Msg("idempotency key repetida; se devuelve el resultado original")
	return out, nil
}

// lookup ruta rápida (cache) y luego registro durable.
func (c *Controller) lookup(ctx context.Context, tenantID, key string) (*entity.IdempotencyRecord, error) {
	if c.cache != nil {
		rec, err := c.cache.Get(ctx, tenantID, key)
		if err != nil {
			c.log.Warn().Err(err).Str("idempotency_key", key).Msg("cache de idempotencia no disponible")
		} else if rec != nil {
			return rec, nil
		}
	}
	var rec *entity.IdempotencyRecord
	err := c.tx.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		rec, err = repos.Idempotency.Get(ctx, tenantID, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return rec, nil
}

// runTx ejecuta la transacción y la reintenta una vez ante ErrConcurrentModification.
func (c *Controller) runTx(ctx context.Context, log zerolog.Logger, fn func(ctx context.Context, repos Repositories) error) error {
	err := c.tx.Run(ctx, fn)
	if err == nil || !errors.Is(err, domain.ErrConcurrentModification) {
		return err
	}
	metrics.ConcurrentRetries.Inc()
	log.Warn().Err(err).Msg("modificación concurrente; reintentando una vez")
	return c.tx.Run(ctx, fn)
}
