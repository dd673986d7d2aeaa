package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/stock-ledger/internal/application/outbox"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/memory"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/messaging"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newEvent(id, aggregate string, at time.Time) *entity.OutboxEvent {
	return &entity.OutboxEvent{
		ID:            id,
		TenantID:      "t1",
		AggregateType: entity.AggregateTypeInventoryLevel,
		AggregateID:   aggregate,
		EventType:     entity.EventStockIncreased,
		Payload:       []byte(`{"tenant_id":"t1"}`),
		Status:        entity.OutboxPending,
		NextAttemptAt: at,
		CreatedAt:     at,
	}
}

func setup(t *testing.T) (*outbox.Relay, *messaging.LogBus, *memory.Store, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := memory.NewStore().WithClock(clk.now)
	bus := messaging.NewLogBus(zerolog.Nop())
	cfg := outbox.DefaultRelayConfig()
	cfg.MaxAttempts = 3
	cfg.BaseBackoff = time.Second
	relay := outbox.NewRelay(store.Repositories().Outbox, bus, cfg, zerolog.Nop()).WithClock(clk.now)
	return relay, bus, store, clk
}

func TestRelay_PublicaYMarca(t *testing.T) {
	relay, bus, store, clk := setup(t)
	ctx := context.Background()
	repo := store.Repositories().Outbox
	require.NoError(t, repo.Save(ctx, newEvent("e1", "t1/w1/p1", clk.now()), newEvent("e2", "t1/w1/p2", clk.now())))

	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sent := bus.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "t1/w1/p1", sent[0].Key)
	assert.Equal(t, "e1", sent[0].Headers[outbox.HeaderEventID])
	assert.Equal(t, entity.EventStockIncreased, sent[0].Headers[outbox.HeaderEventType])

	e1, err := repo.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, entity.OutboxPublished, e1.Status)
	require.NotNil(t, e1.PublishedAt)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "un evento publicado no se vuelve a reclamar")
}

func TestRelay_ReintentosYDeadLetter(t *testing.T) {
	relay, bus, store, clk := setup(t)
	ctx := context.Background()
	repo := store.Repositories().Outbox
	require.NoError(t, repo.Save(ctx, newEvent("e1", "t1/w1/p1", clk.now())))
	bus.SetFail(errors.New("broker unavailable"))

	_, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	e, _ := repo.GetByID(ctx, "e1")
	assert.Equal(t, entity.OutboxPending, e.Status)
	assert.Equal(t, 1, e.Attempts)
	assert.Equal(t, clk.now().Add(time.Second), e.NextAttemptAt)

	// Antes del backoff no se reclama.
	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.advance(time.Second)
	_, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	e, _ = repo.GetByID(ctx, "e1")
	assert.Equal(t, 2, e.Attempts)
	assert.Equal(t, clk.now().Add(2*time.Second), e.NextAttemptAt)

	clk.advance(2 * time.Second)
	_, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	e, _ = repo.GetByID(ctx, "e1")
	assert.Equal(t, entity.OutboxFailed, e.Status)
	assert.Equal(t, "broker unavailable", e.LastError)

	svc := outbox.NewService(repo, zerolog.Nop()).WithClock(clk.now)
	page, err := svc.ListFailed(ctx, 1, 20)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "e1", page.Events[0].ID)

	// El operador lo reencola y el bus ya responde.
	bus.SetFail(nil)
	requeued, err := svc.Requeue(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, clk.now(), requeued.NextAttemptAt, "queda vencido con el reloj del relay")
	assert.Zero(t, requeued.Attempts)
	_, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	e, _ = repo.GetByID(ctx, "e1")
	assert.Equal(t, entity.OutboxPublished, e.Status)
	assert.Len(t, bus.Sent(), 1)
}

func TestRelay_OrdenPorAgregado(t *testing.T) {
	relay, bus, store, clk := setup(t)
	ctx := context.Background()
	repo := store.Repositories().Outbox
	require.NoError(t, repo.Save(ctx,
		newEvent("e1", "t1/w1/p1", clk.now()),
		newEvent("e2", "t1/w1/p1", clk.now()),
	))
	bus.SetFail(errors.New("timeout"))
	_, err := relay.RunOnce(ctx)
	require.NoError(t, err)

	e1, _ := repo.GetByID(ctx, "e1")
	e2, _ := repo.GetByID(ctx, "e2")
	assert.Equal(t, 1, e1.Attempts)
	assert.Zero(t, e2.Attempts, "el segundo evento del agregado no se intenta")
	assert.Equal(t, e1.NextAttemptAt, e2.NextAttemptAt)

	bus.SetFail(nil)
	clk.advance(time.Second)
	_, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	sent := bus.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "e1", sent[0].Headers[outbox.HeaderEventID])
	assert.Equal(t, "e2", sent[1].Headers[outbox.HeaderEventID])
}

func TestRelay_Archiva(t *testing.T) {
	relay, _, store, clk := setup(t)
	ctx := context.Background()
	repo := store.Repositories().Outbox
	require.NoError(t, repo.Save(ctx, newEvent("e1", "t1/w1/p1", clk.now())))
	_, err := relay.RunOnce(ctx)
	require.NoError(t, err)

	n, err := relay.Archive(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "aún dentro de la retención")

	clk.advance(8 * 24 * time.Hour)
	n, err = relay.Archive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	e, err := repo.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestService_RequeueSoloFallidos(t *testing.T) {
	_, _, store, clk := setup(t)
	ctx := context.Background()
	repo := store.Repositories().Outbox
	require.NoError(t, repo.Save(ctx, newEvent("e1", "t1/w1/p1", clk.now())))

	svc := outbox.NewService(repo, zerolog.Nop())
	_, err := svc.Requeue(ctx, "e1")
	assert.Error(t, err)
	_, err = svc.Requeue(ctx, "nope")
	assert.Error(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[entity.OutboxPending])
	assert.Equal(t, int64(0), stats[entity.OutboxFailed])
}

func TestRelay_EventoEnBackoffRetieneAlSiguienteEntreLotes(t *testing.T) {
	clk := &clock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := memory.NewStore().WithClock(clk.now)
	bus := messaging.NewLogBus(zerolog.Nop())
	cfg := outbox.DefaultRelayConfig()
	cfg.BatchSize = 1
	cfg.MaxAttempts = 5
	cfg.BaseBackoff = time.Second
	repo := store.Repositories().Outbox
	relay := outbox.NewRelay(repo, bus, cfg, zerolog.Nop()).WithClock(clk.now)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newEvent("e1", "t1/w1/p1", clk.now())))
	require.NoError(t, repo.Save(ctx, newEvent("e2", "t1/w1/p1", clk.now())))
	require.NoError(t, repo.Save(ctx, newEvent("e3", "t1/w1/p2", clk.now())))

	bus.SetFail(errors.New("broker unavailable"))
	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// e1 está en backoff: e2 espera aunque esté vencido, e3 es de otro agregado.
	bus.SetFail(nil)
	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.advance(time.Second)
	for i := 0; i < 2; i++ {
		_, err = relay.RunOnce(ctx)
		require.NoError(t, err)
	}

	var ids []string
	for _, m := range bus.Sent() {
		ids = append(ids, m.Headers[outbox.HeaderEventID])
	}
	assert.Equal(t, []string{"e3", "e1", "e2"}, ids)
}
