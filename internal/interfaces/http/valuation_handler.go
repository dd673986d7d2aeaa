package http

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/stock-ledger/internal/application/dto"
	app "github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// ValuationHandler consulta y administración de la valoración por clave (protegido).
type ValuationHandler struct {
	svc *app.LedgerService
	log zerolog.Logger
}

// NewValuationHandler construye el handler.
func NewValuationHandler(svc *app.LedgerService, log zerolog.Logger) *ValuationHandler {
	return &ValuationHandler{svc: svc, log: log}
}

// GetValuation godoc
// @Summary      Estado de valoración, capas abiertas y variaciones recientes
// @Tags         valuation
// @Security     Bearer
// @Produce      json
// @Param        warehouse_id  path  string  true  "bodega"
// @Param        product_id    path  string  true  "producto"
// @Success      200  {object}  dto.ValuationViewResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/v1/valuation/{warehouse_id}/{product_id} [get]
func (h *ValuationHandler) GetValuation(c *fiber.Ctx) error {
	view, err := h.svc.GetValuation(c.UserContext(), GetTenantID(c), c.Params("warehouse_id"), c.Params("product_id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(toValuationView(view))
}

type valuationOp func(ctx context.Context, in app.ValuationInput) (app.Outcome[app.ValuationResult], error)

func (h *ValuationHandler) run(c *fiber.Ctx, op valuationOp) error {
	var req dto.ValuationRequest
	m, err := parseMutation(c, &req)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out, err := op(c.UserContext(), app.ValuationInput{
		TenantID:       m.TenantID,
		WarehouseID:    c.Params("warehouse_id"),
		ProductID:      c.Params("product_id"),
		Method:         entity.ValuationMethod(req.Method),
		UnitCost:       req.UnitCost,
		IdempotencyKey: m.Key,
		CreatedBy:      m.UserID,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return created(c, out.Replayed, toValuationAction(out))
}

// SwitchMethod godoc
// @Summary      Cambiar el método de valoración (fifo, avco, standard)
// @Tags         valuation
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string                true  "clave de idempotencia"
// @Param        warehouse_id     path    string                true  "bodega"
// @Param        product_id       path    string                true  "producto"
// @Param        body             body    dto.ValuationRequest  true  "method y unit_cost para standard"
// @Success      201  {object}  dto.ValuationActionResponse
// @Router       /api/v1/valuation/{warehouse_id}/{product_id}/method [post]
func (h *ValuationHandler) SwitchMethod(c *fiber.Ctx) error {
	return h.run(c, h.svc.SwitchValuationMethod)
}

// SetStandardCost godoc
// @Summary      Fijar costo estándar y revaluar la existencia
// @Tags         valuation
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string                true  "clave de idempotencia"
// @Param        warehouse_id     path    string                true  "bodega"
// @Param        product_id       path    string                true  "producto"
// @Param        body             body    dto.ValuationRequest  true  "unit_cost"
// @Success      201  {object}  dto.ValuationActionResponse
// @Router       /api/v1/valuation/{warehouse_id}/{product_id}/standard-cost [post]
func (h *ValuationHandler) SetStandardCost(c *fiber.Ctx) error {
	return h.run(c, h.svc.SetStandardCost)
}

// Revalue godoc
// @Summary      Revaluar el costo promedio (solo AVCO)
// @Tags         valuation
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string                true  "clave de idempotencia"
// @Param        warehouse_id     path    string                true  "bodega"
// @Param        product_id       path    string                true  "producto"
// @Param        body             body    dto.ValuationRequest  true  "unit_cost"
// @Success      201  {object}  dto.ValuationActionResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/v1/valuation/{warehouse_id}/{product_id}/revalue [post]
func (h *ValuationHandler) Revalue(c *fiber.Ctx) error {
	return h.run(c, h.svc.Revalue)
}

// ClosePeriod godoc
// @Summary      Cierre de periodo: lleva el residuo de redondeo a variación
// @Tags         valuation
// @Security     Bearer
// @Produce      json
// @Param        Idempotency-Key  header  string  true  "clave de idempotencia"
// @Param        warehouse_id     path    string  true  "bodega"
// @Param        product_id       path    string  true  "producto"
// @Success      201  {object}  dto.ValuationActionResponse
// @Router       /api/v1/valuation/{warehouse_id}/{product_id}/close [post]
func (h *ValuationHandler) ClosePeriod(c *fiber.Ctx) error {
	return h.run(c, h.svc.ClosePeriod)
}
