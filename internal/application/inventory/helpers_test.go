package inventory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/application/outbox"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	domaininv "github.com/jhoicas/stock-ledger/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/cache"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/lock"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/memory"
)

const (
	tenant    = "t1"
	warehouse = "w1"
	product   = "p1"
)

// clock avanza un milisegundo por lectura para que las capas queden ordenadas.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type harness struct {
	svc    *app.LedgerService
	ctrl   *app.Controller
	store  *memory.Store
	locker *lock.LocalLocker
	cache  *cache.MemoryResultCache
	clk    *clock
}

func newHarness(t *testing.T, method entity.ValuationMethod) *harness {
	t.Helper()
	return newHarnessWithTx(t, method, nil)
}

// newHarnessWithTx permite envolver el TxRunner del controlador (inyección de fallas).
func newHarnessWithTx(t *testing.T, method entity.ValuationMethod, wrap func(app.TxRunner) app.TxRunner) *harness {
	t.Helper()
	clk := &clock{t: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)}
	store := memory.NewStore().WithClock(clk.now)
	locker := lock.NewLocalLocker(time.Millisecond)
	rc := cache.NewMemoryResultCache().WithClock(clk.now)

	var tx app.TxRunner = store
	if wrap != nil {
		tx = wrap(store)
	}
	cfg := app.ControllerConfig{
		AcquireTimeout: 200 * time.Millisecond,
		LeaseTTL:       5 * time.Second,
		IdempotencyTTL: time.Hour,
	}
	ctrl := app.NewController(locker, tx, rc, cfg, zerolog.Nop())
	svc := app.NewLedgerService(ctrl, store, domaininv.NewValuationEngine(method), outbox.NewPublisher(zerolog.Nop()), zerolog.Nop()).
		WithClock(clk.now)
	return &harness{svc: svc, ctrl: ctrl, store: store, locker: locker, cache: rc, clk: clk}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msg ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"esperado %s, obtenido %s", want, got.String()}, msg...)...)
}

func (h *harness) receive(t *testing.T, idemKey, productID, qty, cost string) app.ReceiptResult {
	t.Helper()
	out, err := h.svc.CreateReceipt(context.Background(), app.ReceiptInput{
		TenantID:       tenant,
		WarehouseID:    warehouse,
		SupplierID:     "sup-1",
		Lines:          []app.Line{{ProductID: productID, Quantity: dec(qty), UnitCost: decPtr(cost)}},
		IdempotencyKey: idemKey,
	})
	require.NoError(t, err)
	return out.Result
}

func (h *harness) deliver(idemKey, productID, qty string) (app.Outcome[app.DeliveryResult], error) {
	return h.svc.CreateDelivery(context.Background(), app.DeliveryInput{
		TenantID:       tenant,
		WarehouseID:    warehouse,
		OrderID:        "so-" + idemKey,
		Lines:          []app.Line{{ProductID: productID, Quantity: dec(qty)}},
		IdempotencyKey: idemKey,
	})
}

func (h *harness) level(t *testing.T, warehouseID, productID string) *entity.InventoryLevel {
	t.Helper()
	level, err := h.svc.GetStockLevel(context.Background(), tenant, productID, warehouseID)
	require.NoError(t, err)
	return level
}

func (h *harness) ledger(t *testing.T, warehouseID, productID string) []*entity.StockMove {
	t.Helper()
	page, err := h.svc.GetLedger(context.Background(), app.LedgerQuery{TenantID: tenant, WarehouseID: warehouseID, ProductID: productID, Limit: 500})
	require.NoError(t, err)
	return page.Moves
}

// assertConsistent comprueba que la clave concilia y que la cadena de saldos es continua.
func (h *harness) assertConsistent(t *testing.T, warehouseID, productID string) {
	t.Helper()
	rep, err := h.svc.Reconcile(context.Background(), tenant, productID, warehouseID)
	require.NoError(t, err)
	assert.True(t, rep.QuantityMatches, "cantidades no concilian: %+v", rep)
	assert.True(t, rep.ValueMatches, "valores no concilian: %+v", rep)

	qty, value := decimal.Zero, decimal.Zero
	for i, m := range h.ledger(t, warehouseID, productID) {
		assert.Equal(t, int64(i+1), m.Sequence, "secuencia sin huecos")
		qty = qty.Add(m.Quantity)
		value = value.Add(m.ValueDelta)
		assert.True(t, qty.Equal(m.BalanceQty), "balance_qty en secuencia %d", m.Sequence)
		assert.True(t, value.Equal(m.BalanceValue), "balance_value en secuencia %d", m.Sequence)
	}
}

func (h *harness) events(t *testing.T, warehouseID, productID string) []*entity.OutboxEvent {
	t.Helper()
	key := entity.StockKey{TenantID: tenant, WarehouseID: warehouseID, ProductID: productID}
	events, err := h.store.Repositories().Outbox.ListByAggregate(context.Background(), key.String())
	require.NoError(t, err)
	return events
}

func eventTypes(events []*entity.OutboxEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType)
	}
	return out
}
