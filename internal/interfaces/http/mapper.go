package http

import (
	"encoding/json"

	"github.com/jhoicas/stock-ledger/internal/application/dto"
	app "github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/inventory"
)

func toLines(in []dto.LineRequest) []app.Line {
	out := make([]app.Line, 0, len(in))
	for _, l := range in {
		out = append(out, app.Line{
			ProductID:   l.ProductID,
			Quantity:    l.Quantity,
			UnitCost:    l.UnitCost,
			ReasonCode:  l.ReasonCode,
			Counterpart: entity.Location(l.Counterpart),
		})
	}
	return out
}

func toMoveDTO(m *entity.StockMove) dto.MoveDTO {
	return dto.MoveDTO{
		ID:              m.ID,
		WarehouseID:     m.WarehouseID,
		ProductID:       m.ProductID,
		Source:          string(m.Source),
		Destination:     string(m.Destination),
		Type:            string(m.Type),
		Status:          string(m.Status),
		Quantity:        m.Quantity,
		UnitCost:        m.UnitCost,
		ValueDelta:      m.ValueDelta,
		ValuationMethod: string(m.ValuationMethod),
		Sequence:        m.Sequence,
		BalanceQty:      m.BalanceQty,
		BalanceValue:    m.BalanceValue,
		ReferenceType:   m.ReferenceType,
		ReferenceID:     m.ReferenceID,
		ReasonCode:      m.ReasonCode,
		LinkedMoveID:    m.LinkedMoveID,
		MoveDate:        m.MoveDate,
		CreatedBy:       m.CreatedBy,
	}
}

func toMoveDTOs(moves []*entity.StockMove) []dto.MoveDTO {
	out := make([]dto.MoveDTO, 0, len(moves))
	for _, m := range moves {
		out = append(out, toMoveDTO(m))
	}
	return out
}

func toLots(lots []inventory.CostLot) []dto.CostLotDTO {
	if len(lots) == 0 {
		return nil
	}
	out := make([]dto.CostLotDTO, 0, len(lots))
	for _, l := range lots {
		out = append(out, dto.CostLotDTO{LayerID: l.LayerID, Quantity: l.Quantity, UnitCost: l.UnitCost})
	}
	return out
}

func toDocument(o app.Outcome[app.DocumentResult]) dto.DocumentResponse {
	moves := make([]dto.MoveLineDTO, 0, len(o.Result.Moves))
	for _, ml := range o.Result.Moves {
		moves = append(moves, dto.MoveLineDTO{Move: toMoveDTO(ml.Move), Lots: toLots(ml.Lots)})
	}
	return dto.DocumentResponse{
		ReferenceType: o.Result.ReferenceType,
		ReferenceID:   o.Result.ReferenceID,
		Moves:         moves,
		Replayed:      o.Replayed,
	}
}

func toLevelDTO(l *entity.InventoryLevel) dto.StockLevelDTO {
	return dto.StockLevelDTO{
		WarehouseID:  l.WarehouseID,
		ProductID:    l.ProductID,
		OnHand:       l.OnHand,
		Reserved:     l.Reserved,
		Available:    l.Available(),
		LowThreshold: l.LowThreshold,
		Version:      l.Version,
		UpdatedAt:    l.UpdatedAt,
	}
}

func toDraft(o app.Outcome[app.DraftResult]) dto.DraftResponse {
	out := dto.DraftResponse{Move: toMoveDTO(o.Result.Move), Lots: toLots(o.Result.Lots), Replayed: o.Replayed}
	if o.Result.Level != nil {
		lvl := toLevelDTO(o.Result.Level)
		out.Level = &lvl
	}
	return out
}

func toStateDTO(s *entity.ValuationState) dto.ValuationStateDTO {
	return dto.ValuationStateDTO{
		WarehouseID:  s.WarehouseID,
		ProductID:    s.ProductID,
		Method:       string(s.Method),
		TotalQty:     s.TotalQty,
		TotalValue:   s.TotalValue,
		AverageCost:  s.AverageCost,
		StandardCost: s.StandardCost,
		UpdatedAt:    s.UpdatedAt,
	}
}

func toVarianceDTO(v *entity.VarianceEntry) dto.VarianceDTO {
	return dto.VarianceDTO{
		ID:        v.ID,
		MoveID:    v.MoveID,
		Kind:      string(v.Kind),
		Quantity:  v.Quantity,
		Amount:    v.Amount,
		Note:      v.Note,
		CreatedAt: v.CreatedAt,
	}
}

func toValuationView(v *app.ValuationView) dto.ValuationViewResponse {
	out := dto.ValuationViewResponse{
		State:     toStateDTO(v.State),
		Layers:    make([]dto.LayerDTO, 0, len(v.Layers)),
		Variances: make([]dto.VarianceDTO, 0, len(v.Variances)),
	}
	for _, l := range v.Layers {
		out.Layers = append(out.Layers, dto.LayerDTO{
			ID:                l.ID,
			MoveID:            l.MoveID,
			Quantity:          l.Quantity,
			RemainingQuantity: l.RemainingQuantity,
			UnitCost:          l.UnitCost,
			LayerDate:         l.LayerDate,
		})
	}
	for _, v := range v.Variances {
		out.Variances = append(out.Variances, toVarianceDTO(v))
	}
	return out
}

func toValuationAction(o app.Outcome[app.ValuationResult]) dto.ValuationActionResponse {
	out := dto.ValuationActionResponse{State: toStateDTO(o.Result.State), Replayed: o.Replayed}
	if o.Result.Move != nil {
		m := toMoveDTO(o.Result.Move)
		out.Move = &m
	}
	if o.Result.Variance != nil {
		v := toVarianceDTO(o.Result.Variance)
		out.Variance = &v
	}
	return out
}

func toOutboxDTO(e *entity.OutboxEvent) dto.OutboxEventDTO {
	return dto.OutboxEventDTO{
		ID:            e.ID,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       json.RawMessage(e.Payload),
		Status:        string(e.Status),
		Attempts:      e.Attempts,
		LastError:     e.LastError,
		NextAttemptAt: e.NextAttemptAt,
		CreatedAt:     e.CreatedAt,
		PublishedAt:   e.PublishedAt,
	}
}
