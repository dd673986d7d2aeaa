package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

func TestPurgeExpired_KeyVencidaSeAceptaComoNueva(t *testing.T) {
	h := newHarness(t, entity.ValuationFIFO)
	h.ctrl.WithClock(h.clk.now)
	ctx := context.Background()

	first := h.receive(t, "rcv-1", product, "5", "1")

	h.clk.mu.Lock()
	h.clk.t = h.clk.t.Add(2 * time.Hour)
	h.clk.mu.Unlock()
	h.receive(t, "rcv-2", product, "1", "1")

	n, err := h.ctrl.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "solo rcv-1 venció")

	again := h.receive(t, "rcv-1", product, "5", "1")
	assert.NotEqual(t, first.Moves[0].Move.ID, again.Moves[0].Move.ID)
	assertDec(t, "11", h.level(t, warehouse, product).OnHand)
}

func TestRunPurge_TerminaAlCancelar(t *testing.T) {
	h := newHarness(t, entity.ValuationFIFO)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.RunPurge(ctx, time.Millisecond) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunPurge no terminó")
	}
}
