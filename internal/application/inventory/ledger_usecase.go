package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// ReasonReversal código de motivo de los movimientos compensatorios.
const ReasonReversal = "reversal"

// CreateReceipt registra una entrada de proveedor: un movimiento de entrada por línea.
func (s *LedgerService) CreateReceipt(ctx context.Context, in ReceiptInput) (Outcome[ReceiptResult], error) {
	if err := validateHeader(in.TenantID, in.WarehouseID, in.Lines); err != nil {
		return Outcome[ReceiptResult]{}, err
	}
	if err := validateInboundLines(in.Lines, true); err != nil {
		return Outcome[ReceiptResult]{}, err
	}
	cmd := Command{
		TenantID: in.TenantID, IdempotencyKey: in.IdempotencyKey, Operation: "receipt",
		Payload: in, Keys: lineKeys(in.TenantID, in.WarehouseID, in.Lines),
	}
	return Execute(ctx, s.ctrl, cmd, func(ctx context.Context, repos Repositories) (ReceiptResult, []string, error) {
		res := ReceiptResult{ReferenceType: "supplier", ReferenceID: in.SupplierID}
		for _, l := range in.Lines {
			key := entity.StockKey{TenantID: in.TenantID, WarehouseID: in.WarehouseID, ProductID: l.ProductID}
			m := s.newMove(uuid.NewString(), key, entity.MoveTypeReceipt, l.Quantity,
				entity.LocationSupplier, entity.LocationInternal, res.ReferenceType, in.SupplierID, in.IdempotencyKey, in.CreatedBy)
			line, err := s.post(ctx, repos, posting{move: m, unitCost: l.UnitCost})
			if err != nil {
				return res, nil, err
			}
			res.Moves = append(res.Moves, line)
		}
		return res, moveIDs(res.Moves), nil
	})
}

// CreateDelivery despacha una orden. Falla con InsufficientStock si el disponible no alcanza,
// salvo que se permita backorder.
func (s *LedgerService) CreateDelivery(ctx context.Context, in DeliveryInput) (Outcome[DeliveryResult], error) {
	if err := validateHeader(in.TenantID, in.WarehouseID, in.Lines); err != nil {
		return Outcome[DeliveryResult]{}, err
	}
	if err := validatePositiveLines(in.Lines); err != nil {
		return Outcome[DeliveryResult]{}, err
	}
	cmd := Command{
		TenantID: in.TenantID, IdempotencyKey: in.IdempotencyKey, Operation: "delivery",
		Payload: in, Keys: lineKeys(in.TenantID, in.WarehouseID, in.Lines),
	}
	return Execute(ctx, s.ctrl, cmd, func(ctx context.Context, repos Repositories) (DeliveryResult, []string, error) {
		res := DeliveryResult{ReferenceType: "order", ReferenceID: in.OrderID}
		for _, l := range in.Lines {
			key := entity.StockKey{TenantID: in.TenantID, WarehouseID: in.WarehouseID, ProductID: l.ProductID}
			m := s.newMove(uuid.NewString(), key, entity.MoveTypeDelivery, l.Quantity.Neg(),
				entity.LocationInternal, entity.LocationCustomer, res.ReferenceType, in.OrderID, in.IdempotencyKey, in.CreatedBy)
			line, err := s.post(ctx, repos, posting{move: m, allowBackorder: in.AllowBackorder})
			if err != nil {
				return res, nil, err
			}
			res.Moves = append(res.Moves, line)
		}
		return res, moveIDs(res.Moves), nil
	})
}

// CreateTransfer traslada entre bodegas: salida del origen hacia tránsito y entrada al destino
// desde tránsito, enlazadas y costeadas al costo del origen.
func (s *LedgerService) CreateTransfer(ctx context.Context, in TransferInput) (Outcome[TransferResult], error) {
	if err := validateHeader(in.TenantID, in.SourceWarehouseID, in.Lines); err != nil {
		return Outcome[TransferResult]{}, err
	}
	if strings.TrimSpace(in.DestWarehouseID) == "" || in.DestWarehouseID == in.SourceWarehouseID {
		return Outcome[TransferResult]{}, domain.NewError(domain.ErrInvalidInput, in.DestWarehouseID, "destination must differ from source")
	}
	if err := validatePositiveLines(in.Lines); err != nil {
		return Outcome[TransferResult]{}, err
	}
	keys := append(lineKeys(in.TenantID, in.SourceWarehouseID, in.Lines), lineKeys(in.TenantID, in.DestWarehouseID, in.Lines)...)
	cmd := Command{TenantID: in.TenantID, IdempotencyKey: in.IdempotencyKey, Operation: "transfer", Payload: in, Keys: keys}
	return Execute(ctx, s.ctrl, cmd, func(ctx context.Context, repos Repositories) (TransferResult, []string, error) {
		res := TransferResult{ReferenceType: "transfer", ReferenceID: uuid.NewString()}
		for _, l := range in.Lines {
			src := entity.StockKey{TenantID: in.TenantID, WarehouseID: in.SourceWarehouseID, ProductID: l.ProductID}
			dst := entity.StockKey{TenantID: in.TenantID, WarehouseID: in.DestWarehouseID, ProductID: l.ProductID}
			outID, inID := uuid.NewString(), uuid.NewString()

			out := s.newMove(outID, src, entity.MoveTypeTransfer, l.Quantity.Neg(),
				entity.LocationInternal, entity.LocationTransit, res.ReferenceType, res.ReferenceID, in.IdempotencyKey, in.CreatedBy)
			out.LinkedMoveID = inID
			outLine, err := s.post(ctx, repos, posting{move: out})
			if err != nil {
				return res, nil, err
			}

			value := outLine.Move.ValueDelta.Neg()
			unit := outLine.Move.UnitCost
			incoming := s.newMove(inID, dst, entity.MoveTypeTransfer, l.Quantity,
				entity.LocationTransit, entity.LocationInternal, res.ReferenceType, res.ReferenceID, in.IdempotencyKey, in.CreatedBy)
			incoming.LinkedMoveID = outID
			inLine, err := s.post(ctx, repos, posting{
				move:     incoming,
				unitCost: &unit,
				lots:     stripLayerIDs(outLine.Lots),
				value:    &value,
			})
			if err != nil {
				return res, nil, err
			}
			res.Moves = append(res.Moves, outLine, inLine)
		}
		return res, moveIDs(res.Moves), nil
	})
}

// CreateAdjustment registra ajustes con signo; cada línea exige código de motivo.
func (s *LedgerService) CreateAdjustment(ctx context.Context, in AdjustmentInput) (Outcome[AdjustmentResult], error) {
	if err := validateHeader(in.TenantID, in.WarehouseID, in.Lines); err != nil {
		return Outcome[AdjustmentResult]{}, err
	}
	for _, l := range in.Lines {
		if strings.TrimSpace(l.ReasonCode) == "" {
			return Outcome[AdjustmentResult]{}, domain.NewError(domain.ErrInvalidInput, l.ProductID, "reason code required")
		}
		if l.Quantity.IsZero() {
			return Outcome[AdjustmentResult]{}, domain.NewError(domain.ErrInvalidInput, l.ProductID, "quantity must be non-zero")
		}
		if l.UnitCost != nil && l.UnitCost.IsNegative() {
			return Outcome[AdjustmentResult]{}, domain.NewError(domain.ErrInvalidInput, l.ProductID, "unit cost must be non-negative")
		}
		switch l.Counterpart {
		case "", entity.LocationLoss, entity.LocationQuarantine:
		default:
			return Outcome[AdjustmentResult]{}, domain.NewError(domain.ErrInvalidInput, l.ProductID, "adjustment counterpart must be loss or quarantine")
		}
	}
	cmd := Command{
		TenantID: in.TenantID, IdempotencyKey: in.IdempotencyKey, Operation: "adjustment",
		Payload: in, Keys: lineKeys(in.TenantID, in.WarehouseID, in.Lines),
	}
	return Execute(ctx, s.ctrl, cmd, func(ctx context.Context, repos Repositories) (AdjustmentResult, []string, error) {
		res := AdjustmentResult{ReferenceType: "adjustment"}
		for _, l := range in.Lines {
			key := entity.StockKey{TenantID: in.TenantID, WarehouseID: in.WarehouseID, ProductID: l.ProductID}
			counterpart := l.Counterpart
			if counterpart == "" {
				counterpart = entity.LocationLoss
			}
			src, dst := counterpart, entity.LocationInternal
			if l.Quantity.IsNegative() {
				src, dst = entity.LocationInternal, counterpart
			}
			m := s.newMove(uuid.NewString(), key, entity.MoveTypeAdjustment, l.Quantity, src, dst,
				res.ReferenceType, l.ReasonCode, in.IdempotencyKey, in.CreatedBy)
			m.ReasonCode = l.ReasonCode
			line, err := s.post(ctx, repos, posting{move: m, unitCost: l.UnitCost})
			if err != nil {
				return res, nil, err
			}
			res.Moves = append(res.Moves, line)
		}
		return res, moveIDs(res.Moves), nil
	})
}

// CreateReturn registra una devolución de cliente, costeada al costo dado o al vigente.
func (s *LedgerService) CreateReturn(ctx context.Context, in ReturnInput) (Outcome[ReturnResult], error) {
	if err := validateHeader(in.TenantID, in.WarehouseID, in.Lines); err != nil {
		return Outcome[ReturnResult]{}, err
	}
	if err := validateInboundLines(in.Lines, false); err != nil {
		return Outcome[ReturnResult]{}, err
	}
	cmd := Command{
		TenantID: in.TenantID, IdempotencyKey: in.IdempotencyKey, Operation: "return",
		Payload: in, Keys: lineKeys(in.TenantID, in.WarehouseID, in.Lines),
	}
	return Execute(ctx, s.ctrl, cmd, func(ctx context.Context, repos Repositories) (ReturnResult, []string, error) {
		res := ReturnResult{ReferenceType: "customer", ReferenceID: in.CustomerID}
		for _, l := range in.Lines {
			key := entity.StockKey{TenantID: in.TenantID, WarehouseID: in.WarehouseID, ProductID: l.ProductID}
			m := s.newMove(uuid.NewString(), key, entity.MoveTypeReturn, l.Quantity,
				entity.LocationCustomer, entity.LocationInternal, res.ReferenceType, in.CustomerID, in.IdempotencyKey, in.CreatedBy)
			line, err := s.post(ctx, repos, posting{move: m, unitCost: l.UnitCost})
			if err != nil {
				return res, nil, err
			}
			res.Moves = append(res.Moves, line)
		}
		return res, moveIDs(res.Moves), nil
	})
}

// ReverseMove compensa un movimiento done con otro de signo opuesto que recorre el pipeline completo.
// Una entrada revertida sale al costo vigente; una salida revertida reingresa a su costo original.
func (s *LedgerService) ReverseMove(ctx context.Context, in MoveCommand) (Outcome[DocumentResult], error) {
	orig, err := s.findMove(ctx, in.TenantID, in.MoveID)
	if err != nil {
		return Outcome[DocumentResult]{}, err
	}
	cmd := Command{TenantID: in.TenantID, IdempotencyKey: in.IdempotencyKey, Operation: "reverse", Payload: in, Keys: []entity.StockKey{orig.Key()}}
	return Execute(ctx, s.ctrl, cmd, func(ctx context.Context, repos Repositories) (DocumentResult, []string, error) {
		res := DocumentResult{ReferenceType: ReasonReversal, ReferenceID: in.MoveID}
		orig, err := repos.Moves.GetByID(ctx, in.TenantID, in.MoveID)
		if err != nil {
			return res, nil, fmt.Errorf("get move: %w", err)
		}
		if orig == nil {
			return res, nil, domain.NewError(domain.ErrNotFound, in.MoveID, "move not found")
		}
		if !orig.IsDone() {
			return res, nil, domain.NewError(domain.ErrInvalidTransition, orig.ID, "only done moves can be reversed; cancel drafts instead")
		}
		if orig.Type == entity.MoveTypeTransfer {
			return res, nil, domain.NewError(domain.ErrInvalidInput, orig.ID, "transfer legs are reversed with an opposite transfer")
		}
		if orig.Quantity.IsZero() {
			return res, nil, domain.NewError(domain.ErrInvalidInput, orig.ID, "value-only moves are corrected by a new valuation action")
		}
		linked, err := repos.Moves.FindByLinked(ctx, in.TenantID, orig.ID)
		if err != nil {
			return res, nil, fmt.Errorf("find linked moves: %w", err)
		}
		for _, l := range linked {
			if l.ReasonCode == ReasonReversal && l.Status != entity.MoveStatusCancelled {
				return res, nil, domain.NewError(domain.ErrConflict, orig.ID, "move already reversed by "+l.ID)
			}
		}

		m := s.newMove(uuid.NewString(), orig.Key(), entity.MoveTypeReturn, orig.Quantity.Neg(),
			orig.Destination, orig.Source, ReasonReversal, orig.ID, in.IdempotencyKey, in.CreatedBy)
		m.LinkedMoveID = orig.ID
		m.ReasonCode = ReasonReversal
		req := posting{move: m, allowBackorder: in.AllowBackorder}
		if m.IsInbound() {
			unit := orig.UnitCost
			value := orig.ValueDelta.Abs()
			req.unitCost = &unit
			req.value = &value
		}
		line, err := s.post(ctx, repos, req)
		if err != nil {
			return res, nil, err
		}
		res.Moves = append(res.Moves, line)
		return res, moveIDs(res.Moves), nil
	})
}

// findMove lectura previa al lock para conocer la clave del movimiento.
func (s *LedgerService) findMove(ctx context.Context, tenantID, moveID string) (*entity.StockMove, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(moveID) == "" {
		return nil, domain.ErrInvalidInput
	}
	var m *entity.StockMove
	err := s.tx.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		m, err = repos.Moves.GetByID(ctx, tenantID, moveID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get move: %w", err)
	}
	if m == nil {
		return nil, domain.NewError(domain.ErrNotFound, moveID, "move not found")
	}
	return m, nil
}

func lineKeys(tenantID, warehouseID string, lines []Line) []entity.StockKey {
	keys := make([]entity.StockKey, 0, len(lines))
	for _, l := range lines {
		keys = append(keys, entity.StockKey{TenantID: tenantID, WarehouseID: warehouseID, ProductID: l.ProductID})
	}
	return keys
}

func validateHeader(tenantID, warehouseID string, lines []Line) error {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(warehouseID) == "" {
		return domain.NewError(domain.ErrInvalidInput, "", "tenant and warehouse are required")
	}
	if len(lines) == 0 {
		return domain.NewError(domain.ErrInvalidInput, warehouseID, "at least one line is required")
	}
	for _, l := range lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return domain.NewError(domain.ErrInvalidInput, warehouseID, "product is required on every line")
		}
	}
	return nil
}

func validatePositiveLines(lines []Line) error {
	for _, l := range lines {
		if !l.Quantity.IsPositive() {
			return domain.NewError(domain.ErrInvalidInput, l.ProductID, "quantity must be positive")
		}
	}
	return nil
}

func validateInboundLines(lines []Line, requireCost bool) error {
	if err := validatePositiveLines(lines); err != nil {
		return err
	}
	for _, l := range lines {
		if requireCost && l.UnitCost == nil {
			return domain.NewError(domain.ErrInvalidInput, l.ProductID, "unit cost is required")
		}
		if l.UnitCost != nil && l.UnitCost.LessThan(decimal.Zero) {
			return domain.NewError(domain.ErrInvalidInput, l.ProductID, "unit cost must be non-negative")
		}
	}
	return nil
}
