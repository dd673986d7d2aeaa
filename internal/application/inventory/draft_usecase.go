package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/inventory"
)

// CreateDraft registra un borrador sin efecto en el ledger. Entradas (receipt, return) y
// salidas (delivery) usan cantidad positiva; los ajustes llevan signo.
func (s *LedgerService) CreateDraft(ctx context.Context, in DraftInput) (Outcome[DraftResult], error) {
	key := entity.StockKey{TenantID: in.TenantID, WarehouseID: in.WarehouseID, ProductID: in.ProductID}
	if !key.Valid() {
		return Outcome[DraftResult]{}, domain.NewError(domain.ErrInvalidInput, key.String(), "tenant, warehouse and product are required")
	}
	qty := in.Quantity
	src, dst := entity.LocationInternal, entity.LocationInternal
	switch in.Type {
	case entity.MoveTypeReceipt:
		src = entity.LocationSupplier
	case entity.MoveTypeReturn:
		src = entity.LocationCustomer
	case entity.MoveTypeDelivery:
		dst = entity.LocationCustomer
		qty = qty.Neg()
	case entity.MoveTypeAdjustment:
		if strings.TrimSpace(in.ReasonCode) == "" {
			return Outcome[DraftResult]{}, domain.NewError(domain.ErrInvalidInput, key.String(), "reason code required")
		}
		if qty.IsNegative() {
			dst = entity.LocationLoss
		} else {
			src = entity.LocationLoss
		}
	default:
		return Outcome[DraftResult]{}, domain.NewError(domain.ErrInvalidInput, key.String(), "draft type must be receipt, delivery, adjustment or return")
	}
	if in.Type != entity.MoveTypeAdjustment && !in.Quantity.IsPositive() {
		return Outcome[DraftResult]{}, domain.NewError(domain.ErrInvalidInput, key.String(), "quantity must be positive")
	}
	if qty.IsZero() {
		return Outcome[DraftResult]{}, domain.NewError(domain.ErrInvalidInput, key.String(), "quantity must be non-zero")
	}
	if in.UnitCost != nil && in.UnitCost.IsNegative() {
		return Outcome[DraftResult]{}, domain.NewError(domain.ErrInvalidInput, key.String(), "unit cost must be non-negative")
	}

	cmd := Command{TenantID: in.TenantID, IdempotencyKey: in.IdempotencyKey, Operation: "draft.create", Payload: in, Keys: []entity.StockKey{key}}
	return Execute(ctx, s.ctrl, cmd, func(ctx context.Context, repos Repositories) (DraftResult, []string, error) {
		m := s.newMove(uuid.NewString(), key, in.Type, qty, src, dst, in.ReferenceType, in.ReferenceID, in.IdempotencyKey, in.CreatedBy)
		m.ReasonCode = in.ReasonCode
		if in.UnitCost != nil {
			m.UnitCost = *in.UnitCost
		}
		if err := s.ledger.SaveDraft(ctx, repos.Moves, m); err != nil {
			return DraftResult{}, nil, err
		}
		return DraftResult{Move: m}, []string{m.ID}, nil
	})
}

// ConfirmDraft pasa un borrador a confirmed. Las salidas reservan su cantidad si hay disponible.
func (s *LedgerService) ConfirmDraft(ctx context.Context, in MoveCommand) (Outcome[DraftResult], error) {
	return s.draftAction(ctx, in, "draft.confirm", func(ctx context.Context, repos Repositories, m *entity.StockMove) (DraftResult, error) {
		if err := s.ledger.Transition(ctx, repos.Moves, m, entity.MoveStatusConfirmed); err != nil {
			return DraftResult{}, err
		}
		res := DraftResult{Move: m}
		if !m.IsOutbound() {
			return res, nil
		}
		qty := m.Quantity.Neg()
		level, err := s.projector.Load(ctx, repos.Levels, m.Key())
		if err != nil {
			return DraftResult{}, err
		}
		if level.Available().LessThan(qty) {
			return DraftResult{}, domain.NewError(domain.ErrInsufficientStock, m.Key().String(),
				fmt.Sprintf("available %s, reservation %s", level.Available(), qty))
		}
		level, err = s.reserve(ctx, repos, m, qty)
		if err != nil {
			return DraftResult{}, err
		}
		res.Level = level
		return res, nil
	})
}

// ValidateDraft lleva el borrador a done a través del pipeline completo, consumiendo su reserva.
func (s *LedgerService) ValidateDraft(ctx context.Context, in MoveCommand) (Outcome[DraftResult], error) {
	return s.draftAction(ctx, in, "draft.validate", func(ctx context.Context, repos Repositories, m *entity.StockMove) (DraftResult, error) {
		if !entity.CanTransition(m.Status, entity.MoveStatusDone) {
			return DraftResult{}, domain.NewError(domain.ErrInvalidTransition, m.ID, string(m.Status)+" -> done")
		}
		req := posting{move: m, stored: true, allowBackorder: in.AllowBackorder, reservedDelta: decimal.Zero}
		if m.Status == entity.MoveStatusConfirmed && m.IsOutbound() {
			req.reservedDelta = m.Quantity
		}
		if m.IsInbound() && !m.UnitCost.IsZero() {
			unit := m.UnitCost
			req.unitCost = &unit
		}
		m.MoveDate = s.now()
		line, err := s.post(ctx, repos, req)
		if err != nil {
			return DraftResult{}, err
		}
		level, err := repos.Levels.Get(ctx, m.Key())
		if err != nil {
			return DraftResult{}, fmt.Errorf("get inventory level: %w", err)
		}
		return DraftResult{Move: line.Move, Level: level, Lots: line.Lots}, nil
	})
}

// CancelDraft cancela un borrador o confirmado sin fila en el ledger; libera la reserva si la había.
// Un movimiento done no se cancela: se revierte con ReverseMove.
func (s *LedgerService) CancelDraft(ctx context.Context, in MoveCommand) (Outcome[DraftResult], error) {
	return s.draftAction(ctx, in, "draft.cancel", func(ctx context.Context, repos Repositories, m *entity.StockMove) (DraftResult, error) {
		wasReserved := m.Status == entity.MoveStatusConfirmed && m.IsOutbound()
		if err := s.ledger.Transition(ctx, repos.Moves, m, entity.MoveStatusCancelled); err != nil {
			return DraftResult{}, err
		}
		res := DraftResult{Move: m}
		if wasReserved {
			level, err := s.reserve(ctx, repos, m, m.Quantity)
			if err != nil {
				return DraftResult{}, err
			}
			res.Level = level
		}
		return res, nil
	})
}

// reserve ajusta el reservado en delta y encola los eventos de reserva.
func (s *LedgerService) reserve(ctx context.Context, repos Repositories, m *entity.StockMove, delta decimal.Decimal) (*entity.InventoryLevel, error) {
	proj, err := s.projector.Reserve(ctx, repos.Levels, m.Key(), delta)
	if err != nil {
		return nil, err
	}
	events, err := inventory.ReservationEvents(m.ID, delta, proj, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.publisher.Enqueue(ctx, repos.Outbox, events...); err != nil {
		return nil, err
	}
	return proj.After, nil
}

func (s *LedgerService) draftAction(ctx context.Context, in MoveCommand, op string, fn func(ctx context.Context, repos Repositories, m *entity.StockMove) (DraftResult, error)) (Outcome[DraftResult], error) {
	pre, err := s.findMove(ctx, in.TenantID, in.MoveID)
	if err != nil {
		return Outcome[DraftResult]{}, err
	}
	cmd := Command{TenantID: in.TenantID, IdempotencyKey: in.IdempotencyKey, Operation: op, Payload: in, Keys: []entity.StockKey{pre.Key()}}
	return Execute(ctx, s.ctrl, cmd, func(ctx context.Context, repos Repositories) (DraftResult, []string, error) {
		m, err := repos.Moves.GetByID(ctx, in.TenantID, in.MoveID)
		if err != nil {
			return DraftResult{}, nil, fmt.Errorf("get move: %w", err)
		}
		if m == nil {
			return DraftResult{}, nil, domain.NewError(domain.ErrNotFound, in.MoveID, "move not found")
		}
		res, err := fn(ctx, repos, m)
		if err != nil {
			return DraftResult{}, nil, err
		}
		return res, []string{m.ID}, nil
	})
}
