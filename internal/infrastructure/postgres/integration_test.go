//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	app "github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/application/outbox"
	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	domaininv "github.com/jhoicas/stock-ledger/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/lock"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/messaging"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/postgres"
	"github.com/jhoicas/stock-ledger/pkg/config"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres container: %v\n", err)
		os.Exit(1)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "connection string: %v\n", err)
		os.Exit(1)
	}
	testPool, err = postgres.NewPool(ctx, config.DBConfig{DatabaseURL: dsn})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pool: %v\n", err)
		os.Exit(1)
	}
	migrator, err := postgres.NewMigrator(testPool, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrator: %v\n", err)
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	testPool.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

// Cada test usa su propio tenant para no limpiar tablas entre casos.
func newService(t *testing.T, method entity.ValuationMethod) (*app.LedgerService, string) {
	t.Helper()
	tx := postgres.NewTxRunner(testPool)
	cfg := app.DefaultControllerConfig()
	cfg.AcquireTimeout = 5 * time.Second
	ctrl := app.NewController(lock.NewLocalLocker(time.Millisecond), tx, nil, cfg, zerolog.Nop())
	svc := app.NewLedgerService(ctrl, tx, domaininv.NewValuationEngine(method), outbox.NewPublisher(zerolog.Nop()), zerolog.Nop())
	return svc, "tenant-" + t.Name()
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func receipt(tenant, key, qty, cost string) app.ReceiptInput {
	return app.ReceiptInput{
		TenantID:       tenant,
		WarehouseID:    "w1",
		SupplierID:     "sup-1",
		Lines:          []app.Line{{ProductID: "p1", Quantity: d(qty), UnitCost: dp(cost)}},
		IdempotencyKey: key,
	}
}

func delivery(tenant, key, qty string) app.DeliveryInput {
	return app.DeliveryInput{
		TenantID:       tenant,
		WarehouseID:    "w1",
		OrderID:        "so-" + key,
		Lines:          []app.Line{{ProductID: "p1", Quantity: d(qty)}},
		IdempotencyKey: key,
	}
}

func assertReconciled(t *testing.T, svc *app.LedgerService, tenant string) {
	t.Helper()
	rep, err := svc.Reconcile(context.Background(), tenant, "p1", "w1")
	require.NoError(t, err)
	assert.True(t, rep.Balanced(), "%+v", rep)
}

func TestPostgres_FIFOMultiplesCapas(t *testing.T) {
	svc, tenant := newService(t, entity.ValuationFIFO)
	ctx := context.Background()

	_, err := svc.CreateReceipt(ctx, receipt(tenant, "r1", "50", "10"))
	require.NoError(t, err)
	_, err = svc.CreateReceipt(ctx, receipt(tenant, "r2", "50", "20"))
	require.NoError(t, err)

	out, err := svc.CreateDelivery(ctx, delivery(tenant, "d1", "70"))
	require.NoError(t, err)
	m := out.Result.Moves[0].Move
	assert.True(t, d("-900").Equal(m.ValueDelta), m.ValueDelta.String())
	assert.Equal(t, int64(3), m.Sequence)

	level, err := svc.GetStockLevel(ctx, tenant, "p1", "w1")
	require.NoError(t, err)
	assert.True(t, d("30").Equal(level.OnHand))

	page, err := svc.GetLedger(ctx, app.LedgerQuery{TenantID: tenant, WarehouseID: "w1", ProductID: "p1", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assertReconciled(t, svc, tenant)
}

// Las capas que una transferencia abre en destino comparten fecha; se consumen en el orden del origen.
func TestPostgres_TransferenciaConservaOrdenFIFOEnDestino(t *testing.T) {
	svc, base := newService(t, entity.ValuationFIFO)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tenant := fmt.Sprintf("%s-%d", base, i)
		_, err := svc.CreateReceipt(ctx, receipt(tenant, "r1", "50", "10"))
		require.NoError(t, err)
		_, err = svc.CreateReceipt(ctx, receipt(tenant, "r2", "50", "20"))
		require.NoError(t, err)

		_, err = svc.CreateTransfer(ctx, app.TransferInput{
			TenantID:          tenant,
			SourceWarehouseID: "w1",
			DestWarehouseID:   "w2",
			Lines:             []app.Line{{ProductID: "p1", Quantity: d("100")}},
			IdempotencyKey:    "t1",
		})
		require.NoError(t, err)

		dlv := delivery(tenant, "d1", "20")
		dlv.WarehouseID = "w2"
		out, err := svc.CreateDelivery(ctx, dlv)
		require.NoError(t, err)
		m := out.Result.Moves[0].Move
		assert.True(t, d("-200").Equal(m.ValueDelta), "intento %d: %s", i, m.ValueDelta.String())
		assert.True(t, d("10").Equal(m.UnitCost), m.UnitCost.String())
	}
}

func TestPostgres_ReintentoIdempotente(t *testing.T) {
	svc, tenant := newService(t, entity.ValuationAVCO)
	ctx := context.Background()

	first, err := svc.CreateReceipt(ctx, receipt(tenant, "r1", "10", "3"))
	require.NoError(t, err)
	again, err := svc.CreateReceipt(ctx, receipt(tenant, "r1", "10", "3"))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Result.Moves[0].Move.ID, again.Result.Moves[0].Move.ID)

	_, err = svc.CreateReceipt(ctx, receipt(tenant, "r1", "11", "3"))
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyReused)

	level, err := svc.GetStockLevel(ctx, tenant, "p1", "w1")
	require.NoError(t, err)
	assert.True(t, d("10").Equal(level.OnHand))
}

func TestPostgres_SalidasConcurrentes(t *testing.T) {
	svc, tenant := newService(t, entity.ValuationAVCO)
	ctx := context.Background()
	_, err := svc.CreateReceipt(ctx, receipt(tenant, "r1", "10", "5"))
	require.NoError(t, err)

	var g errgroup.Group
	results := make([]error, 15)
	for i := range results {
		i := i
		g.Go(func() error {
			_, results[i] = svc.CreateDelivery(ctx, delivery(tenant, fmt.Sprintf("d%d", i), "1"))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, short int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case domain.KindOf(err) == domain.KindInsufficientStock:
			short++
		default:
			t.Fatalf("error inesperado: %v", err)
		}
	}
	assert.Equal(t, 10, ok)
	assert.Equal(t, 5, short)

	level, err := svc.GetStockLevel(ctx, tenant, "p1", "w1")
	require.NoError(t, err)
	assert.True(t, level.OnHand.IsZero())
	assertReconciled(t, svc, tenant)
}

func TestPostgres_BorradorReservaYValida(t *testing.T) {
	svc, tenant := newService(t, entity.ValuationFIFO)
	ctx := context.Background()
	_, err := svc.CreateReceipt(ctx, receipt(tenant, "r1", "10", "2"))
	require.NoError(t, err)

	drf, err := svc.CreateDraft(ctx, app.DraftInput{
		TenantID: tenant, WarehouseID: "w1", ProductID: "p1",
		Type: entity.MoveTypeDelivery, Quantity: d("4"), IdempotencyKey: "drf",
	})
	require.NoError(t, err)
	id := drf.Result.Move.ID

	_, err = svc.ConfirmDraft(ctx, app.MoveCommand{TenantID: tenant, MoveID: id, IdempotencyKey: "drf-c"})
	require.NoError(t, err)
	val, err := svc.ValidateDraft(ctx, app.MoveCommand{TenantID: tenant, MoveID: id, IdempotencyKey: "drf-v"})
	require.NoError(t, err)
	assert.Equal(t, entity.MoveStatusDone, val.Result.Move.Status)
	assert.True(t, d("0").Equal(val.Result.Level.Reserved))

	_, err = svc.CancelDraft(ctx, app.MoveCommand{TenantID: tenant, MoveID: id, IdempotencyKey: "drf-x"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assertReconciled(t, svc, tenant)
}

func TestPostgres_MovimientoDoneEsInmutable(t *testing.T) {
	svc, tenant := newService(t, entity.ValuationAVCO)
	ctx := context.Background()
	out, err := svc.CreateReceipt(ctx, receipt(tenant, "r1", "1", "1"))
	require.NoError(t, err)

	_, err = testPool.Exec(ctx, `UPDATE stock_moves SET quantity = 2 WHERE id = $1`, out.Result.Moves[0].Move.ID)
	assert.Error(t, err)
	_, err = testPool.Exec(ctx, `DELETE FROM stock_moves WHERE id = $1`, out.Result.Moves[0].Move.ID)
	assert.Error(t, err)
}

func TestPostgres_RelayPublicaEnOrden(t *testing.T) {
	svc, tenant := newService(t, entity.ValuationAVCO)
	ctx := context.Background()
	_, err := svc.CreateReceipt(ctx, receipt(tenant, "r1", "5", "1"))
	require.NoError(t, err)
	_, err = svc.CreateDelivery(ctx, delivery(tenant, "d1", "2"))
	require.NoError(t, err)

	repo := postgres.NewOutboxRepository(testPool)
	aggregate := entity.StockKey{TenantID: tenant, WarehouseID: "w1", ProductID: "p1"}.String()
	events, err := repo.ListByAggregate(ctx, aggregate)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, entity.EventStockIncreased, events[0].EventType)
	assert.Equal(t, entity.EventStockDecreased, events[1].EventType)

	bus := messaging.NewLogBus(zerolog.Nop())
	relay := outbox.NewRelay(repo, bus, outbox.DefaultRelayConfig(), zerolog.Nop())
	for i := 0; i < 5; i++ {
		if _, err := relay.RunOnce(ctx); err != nil {
			require.NoError(t, err)
		}
	}
	events, err = repo.ListByAggregate(ctx, aggregate)
	require.NoError(t, err)
	for _, e := range events {
		assert.Equal(t, entity.OutboxPublished, e.Status)
	}

	var mine []string
	for _, m := range bus.Sent() {
		if m.Key == aggregate {
			mine = append(mine, m.Headers[outbox.HeaderEventType])
		}
	}
	assert.Equal(t, []string{entity.EventStockIncreased, entity.EventStockDecreased}, mine)
}

func TestPostgres_IdempotenciaVencidaSeReemplaza(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewIdempotencyRepository(testPool)
	tenant := "tenant-" + t.Name()
	rec := &entity.IdempotencyRecord{
		TenantID: tenant, Key: "k1", Operation: "receipt", RequestHash: "h1",
		Result: []byte(`{}`), ResultDigest: "x", ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, repo.Create(ctx, rec))

	got, err := repo.Get(ctx, tenant, "k1")
	require.NoError(t, err)
	assert.Nil(t, got, "vencido no se devuelve")

	rec.RequestHash = "h2"
	rec.ExpiresAt = time.Now().Add(time.Hour)
	require.NoError(t, repo.Create(ctx, rec))
	assert.ErrorIs(t, repo.Create(ctx, rec), domain.ErrDuplicate)

	got, err = repo.Get(ctx, tenant, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h2", got.RequestHash)
}

func TestPostgres_ClaimDueRetieneEventosTrasUnBackoff(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewOutboxRepository(testPool)
	now := time.Now().UTC().Truncate(time.Microsecond)
	aggregate := "tenant-" + t.Name() + "/w1/p1"
	event := func(id string) *entity.OutboxEvent {
		return &entity.OutboxEvent{
			ID: id, TenantID: "tenant-" + t.Name(), AggregateType: "stock", AggregateID: aggregate,
			EventType: entity.EventStockIncreased, Payload: []byte(`{}`), Status: entity.OutboxPending,
			NextAttemptAt: now.Add(-time.Minute), CreatedAt: now,
		}
	}
	e1, e2 := event(t.Name()+"-e1"), event(t.Name()+"-e2")
	require.NoError(t, repo.Save(ctx, e1, e2))

	// e1 queda en backoff tras un fallo.
	e1.MarkAttemptFailed("broker unavailable", 5, time.Hour, now)
	require.NoError(t, repo.Update(ctx, e1))

	claimed, err := repo.ClaimDue(ctx, now, time.Minute, 1000)
	require.NoError(t, err)
	for _, e := range claimed {
		assert.NotEqual(t, aggregate, e.AggregateID, "e2 espera a que e1 salga del backoff")
	}

	later := now.Add(2 * time.Hour)
	claimed, err = repo.ClaimDue(ctx, later, time.Minute, 1000)
	require.NoError(t, err)
	var mine []string
	for _, e := range claimed {
		if e.AggregateID == aggregate {
			mine = append(mine, e.ID)
		}
	}
	assert.Equal(t, []string{e1.ID, e2.ID}, mine)
}
