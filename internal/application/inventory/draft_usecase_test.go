package inventory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

func (h *harness) draft(t *testing.T, key string, typ entity.MoveType, qty string) *entity.StockMove {
	t.Helper()
	out, err := h.svc.CreateDraft(context.Background(), app.DraftInput{
		TenantID:       tenant,
		WarehouseID:    warehouse,
		ProductID:      product,
		Type:           typ,
		Quantity:       dec(qty),
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return out.Result.Move
}

func cmd(moveID, key string) app.MoveCommand {
	return app.MoveCommand{TenantID: tenant, MoveID: moveID, IdempotencyKey: key}
}

func TestDraft_ConfirmarReservaYValidarConsume(t *testing.T) {
	h := newHarness(t, entity.ValuationFIFO)
	ctx := context.Background()
	h.receive(t, "rcv-1", product, "100", "10")

	m := h.draft(t, "drf-1", entity.MoveTypeDelivery, "30")
	assert.Equal(t, entity.MoveStatusDraft, m.Status)
	assertDec(t, "-30", m.Quantity)
	assert.Len(t, h.ledger(t, warehouse, product), 1, "el borrador no afecta el ledger")

	conf, err := h.svc.ConfirmDraft(ctx, cmd(m.ID, "drf-1-confirm"))
	require.NoError(t, err)
	assert.Equal(t, entity.MoveStatusConfirmed, conf.Result.Move.Status)
	require.NotNil(t, conf.Result.Level)
	assertDec(t, "30", conf.Result.Level.Reserved)
	assertDec(t, "70", conf.Result.Level.Available())
	h.assertConsistent(t, warehouse, product)

	// Otra salida no puede tomar lo reservado.
	_, err = h.deliver("dlv-1", product, "80")
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	val, err := h.svc.ValidateDraft(ctx, cmd(m.ID, "drf-1-validate"))
	require.NoError(t, err)
	assert.Equal(t, entity.MoveStatusDone, val.Result.Move.Status)
	assertDec(t, "-300", val.Result.Move.ValueDelta)
	assert.Equal(t, int64(2), val.Result.Move.Sequence)
	require.NotNil(t, val.Result.Level)
	assertDec(t, "70", val.Result.Level.OnHand)
	assertDec(t, "0", val.Result.Level.Reserved)

	assert.Equal(t, []string{
		entity.EventStockIncreased,
		entity.EventStockReserved,
		entity.EventStockDecreased,
	}, eventTypes(h.events(t, warehouse, product)))
	h.assertConsistent(t, warehouse, product)

	_, err = h.svc.CancelDraft(ctx, cmd(m.ID, "drf-1-cancel"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "un done se revierte, no se cancela")
	_, err = h.svc.ValidateDraft(ctx, cmd(m.ID, "drf-1-validate-2"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestDraft_CancelarLiberaLaReserva(t *testing.T) {
	h := newHarness(t, entity.ValuationAVCO)
	ctx := context.Background()
	h.receive(t, "rcv-1", product, "10", "4")

	m := h.draft(t, "drf-1", entity.MoveTypeDelivery, "6")
	_, err := h.svc.ConfirmDraft(ctx, cmd(m.ID, "drf-1-confirm"))
	require.NoError(t, err)
	assertDec(t, "6", h.level(t, warehouse, product).Reserved)

	out, err := h.svc.CancelDraft(ctx, cmd(m.ID, "drf-1-cancel"))
	require.NoError(t, err)
	assert.Equal(t, entity.MoveStatusCancelled, out.Result.Move.Status)
	assertDec(t, "0", out.Result.Level.Reserved)

	assert.Len(t, h.ledger(t, warehouse, product), 1)
	assert.Equal(t, []string{
		entity.EventStockIncreased,
		entity.EventStockReserved,
		entity.EventStockReservationReleased,
	}, eventTypes(h.events(t, warehouse, product)))
	h.assertConsistent(t, warehouse, product)

	_, err = h.svc.ConfirmDraft(ctx, cmd(m.ID, "drf-1-confirm-2"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestDraft_ConfirmarSinDisponible(t *testing.T) {
	h := newHarness(t, entity.ValuationFIFO)
	h.receive(t, "rcv-1", product, "5", "1")
	m := h.draft(t, "drf-1", entity.MoveTypeDelivery, "6")

	_, err := h.svc.ConfirmDraft(context.Background(), cmd(m.ID, "drf-1-confirm"))
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assertDec(t, "0", h.level(t, warehouse, product).Reserved)
}

func TestDraft_EntradaSeValidaConSuCosto(t *testing.T) {
	h := newHarness(t, entity.ValuationFIFO)
	ctx := context.Background()
	out, err := h.svc.CreateDraft(ctx, app.DraftInput{
		TenantID:       tenant,
		WarehouseID:    warehouse,
		ProductID:      product,
		Type:           entity.MoveTypeReceipt,
		Quantity:       dec("8"),
		UnitCost:       decPtr("2.5"),
		ReferenceType:  "purchase_order",
		ReferenceID:    "po-7",
		IdempotencyKey: "drf-1",
	})
	require.NoError(t, err)
	m := out.Result.Move
	assert.Equal(t, entity.LocationSupplier, m.Source)

	// Draft → done directo, sin confirmar.
	val, err := h.svc.ValidateDraft(ctx, cmd(m.ID, "drf-1-validate"))
	require.NoError(t, err)
	assertDec(t, "2.5", val.Result.Move.UnitCost)
	assertDec(t, "20", val.Result.Move.ValueDelta)
	assert.Equal(t, "po-7", val.Result.Move.ReferenceID)
	assertDec(t, "8", val.Result.Level.OnHand)
	h.assertConsistent(t, warehouse, product)
}

func TestDraft_Validaciones(t *testing.T) {
	h := newHarness(t, entity.ValuationFIFO)
	ctx := context.Background()
	base := app.DraftInput{TenantID: tenant, WarehouseID: warehouse, ProductID: product, Quantity: dec("1"), IdempotencyKey: "drf"}

	transfer := base
	transfer.Type = entity.MoveTypeTransfer
	_, err := h.svc.CreateDraft(ctx, transfer)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	adj := base
	adj.Type = entity.MoveTypeAdjustment
	_, err = h.svc.CreateDraft(ctx, adj)
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "ajuste sin motivo")

	neg := base
	neg.Type = entity.MoveTypeDelivery
	neg.Quantity = dec("-1")
	_, err = h.svc.CreateDraft(ctx, neg)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.svc.ConfirmDraft(ctx, cmd("no-existe", "k"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDraft_OperacionesIdempotentes(t *testing.T) {
	h := newHarness(t, entity.ValuationFIFO)
	ctx := context.Background()
	h.receive(t, "rcv-1", product, "10", "1")
	m := h.draft(t, "drf-1", entity.MoveTypeDelivery, "4")

	first, err := h.svc.ConfirmDraft(ctx, cmd(m.ID, "drf-1-confirm"))
	require.NoError(t, err)
	again, err := h.svc.ConfirmDraft(ctx, cmd(m.ID, "drf-1-confirm"))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Result, again.Result)
	assertDec(t, "4", h.level(t, warehouse, product).Reserved, "la reserva no se duplica")
}
