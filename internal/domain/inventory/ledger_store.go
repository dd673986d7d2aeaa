package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

// AppendPolicy opciones del append.
type AppendPolicy struct {
	// AllowBackorder permite que una salida deje el on-hand negativo.
	AllowBackorder bool
	// Stored indica que el borrador ya existe en el ledger y debe finalizarse en lugar de insertarse.
	Stored bool
}

// LedgerStore servicio de dominio del ledger append-only. Debe llamarse con el lock de la
// clave tomado y la transacción abierta.
type LedgerStore struct {
	now func() time.Time
}

// NewLedgerStore construye el servicio.
func NewLedgerStore(now func() time.Time) *LedgerStore {
	if now == nil {
		now = time.Now
	}
	return &LedgerStore{now: now}
}

// Append lleva el borrador a done y lo agrega al ledger con saldos corridos.
// El saldo previo se lee dentro de la misma transacción.
func (s *LedgerStore) Append(ctx context.Context, moves repository.StockMoveRepository, draft *entity.StockMove, policy AppendPolicy) (*entity.StockMove, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}
	key := draft.Key()
	prev, err := moves.LastDone(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read previous balance: %w", err)
	}
	prevQty, prevValue, prevSeq := decimal.Zero, decimal.Zero, int64(0)
	if prev != nil {
		prevQty, prevValue, prevSeq = prev.BalanceQty, prev.BalanceValue, prev.Sequence
	}

	newQty := prevQty.Add(draft.Quantity)
	if draft.IsOutbound() && newQty.IsNegative() && !policy.AllowBackorder {
		return nil, domain.NewError(domain.ErrInsufficientStock, key.String(),
			fmt.Sprintf("on-hand %s, requested %s", prevQty, draft.Quantity.Neg()))
	}

	if err := draft.Transition(entity.MoveStatusDone); err != nil {
		return nil, err
	}
	draft.Sequence = prevSeq + 1
	draft.BalanceQty = newQty
	draft.BalanceValue = prevValue.Add(draft.ValueDelta)
	if draft.MoveDate.IsZero() {
		draft.MoveDate = s.now()
	}

	if policy.Stored {
		err = moves.Finalize(ctx, draft)
	} else {
		if draft.CreatedAt.IsZero() {
			draft.CreatedAt = s.now()
		}
		err = moves.Insert(ctx, draft)
	}
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// SaveDraft persiste un borrador sin efecto en el ledger (sin saldos ni secuencia).
func (s *LedgerStore) SaveDraft(ctx context.Context, moves repository.StockMoveRepository, draft *entity.StockMove) error {
	if err := validateDraft(draft); err != nil {
		return err
	}
	if draft.Status != entity.MoveStatusDraft {
		return domain.NewError(domain.ErrInvalidTransition, draft.ID, "new move must start as draft")
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = s.now()
	}
	return moves.Insert(ctx, draft)
}

// Transition cambia el estado de un movimiento sin efecto en el ledger (confirmar o cancelar).
func (s *LedgerStore) Transition(ctx context.Context, moves repository.StockMoveRepository, move *entity.StockMove, to entity.MoveStatus) error {
	if to == entity.MoveStatusDone {
		return domain.NewError(domain.ErrInvalidTransition, move.ID, "done only through append")
	}
	from := move.Status
	if err := move.Transition(to); err != nil {
		return err
	}
	return moves.UpdateStatus(ctx, move.TenantID, move.ID, from, to)
}

func validateDraft(m *entity.StockMove) error {
	if m == nil || m.ID == "" || !m.Key().Valid() || !m.Type.Valid() {
		return domain.ErrInvalidInput
	}
	if m.Status != entity.MoveStatusDraft && m.Status != entity.MoveStatusConfirmed {
		return domain.NewError(domain.ErrInvalidTransition, m.ID, "cannot append move in status "+string(m.Status))
	}
	return nil
}
