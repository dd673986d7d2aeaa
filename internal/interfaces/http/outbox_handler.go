package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/stock-ledger/internal/application/dto"
	"github.com/jhoicas/stock-ledger/internal/application/outbox"
)

// OutboxHandler operación de la bandeja de salida: dead-letter, reencolado y conteos (admin).
type OutboxHandler struct {
	svc *outbox.Service
	log zerolog.Logger
}

// NewOutboxHandler construye el handler.
func NewOutboxHandler(svc *outbox.Service, log zerolog.Logger) *OutboxHandler {
	return &OutboxHandler{svc: svc, log: log}
}

// ListFailed godoc
// @Summary      Eventos que agotaron sus intentos de publicación
// @Tags         outbox
// @Security     Bearer
// @Produce      json
// @Param        page       query  int  false  "página (desde 1)"
// @Param        page_size  query  int  false  "máximo 100"
// @Success      200  {object}  dto.FailedEventsResponse
// @Router       /api/v1/outbox/failed [get]
func (h *OutboxHandler) ListFailed(c *fiber.Ctx) error {
	page, err := h.svc.ListFailed(c.UserContext(), c.QueryInt("page", 1), c.QueryInt("page_size", 20))
	if err != nil {
		return writeError(c, h.log, err)
	}
	events := make([]dto.OutboxEventDTO, 0, len(page.Events))
	for _, e := range page.Events {
		events = append(events, toOutboxDTO(e))
	}
	return c.JSON(dto.FailedEventsResponse{
		Events:     events,
		Total:      page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages,
	})
}

// Requeue godoc
// @Summary      Reencolar un evento failed
// @Tags         outbox
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "id del evento"
// @Success      200  {object}  dto.OutboxEventDTO
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      422  {object}  dto.ErrorResponse
// @Router       /api/v1/outbox/{id}/requeue [post]
func (h *OutboxHandler) Requeue(c *fiber.Ctx) error {
	e, err := h.svc.Requeue(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(toOutboxDTO(e))
}

// Stats godoc
// @Summary      Conteo de eventos por estado
// @Tags         outbox
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]int64
// @Router       /api/v1/outbox/stats [get]
func (h *OutboxHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.svc.Stats(c.UserContext())
	if err != nil {
		return writeError(c, h.log, err)
	}
	out := make(map[string]int64, len(stats))
	for st, n := range stats {
		out[string(st)] = n
	}
	return c.JSON(out)
}
