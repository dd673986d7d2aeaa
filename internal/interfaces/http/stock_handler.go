package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/stock-ledger/internal/application/dto"
	app "github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// HeaderIdempotencyKey header obligatorio en toda mutación.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// StockHandler maneja documentos de stock, borradores y consultas del ledger (protegido).
type StockHandler struct {
	svc *app.LedgerService
	log zerolog.Logger
}

// NewStockHandler construye el handler.
func NewStockHandler(svc *app.LedgerService, log zerolog.Logger) *StockHandler {
	return &StockHandler{svc: svc, log: log}
}

// mutation datos comunes de toda operación de escritura.
type mutation struct {
	TenantID string
	UserID   string
	Key      string
}

// parseMutation extrae tenant y usuario del token, exige la idempotency key y parsea el body en req.
func parseMutation(c *fiber.Ctx, req any) (mutation, error) {
	m := mutation{TenantID: GetTenantID(c), UserID: GetUserID(c), Key: c.Get(HeaderIdempotencyKey)}
	if m.TenantID == "" {
		return m, domain.NewError(domain.ErrUnauthorized, "", "missing tenant")
	}
	if err := app.ValidateIdempotencyKey(m.Key); err != nil {
		return m, err
	}
	if req != nil && len(c.Body()) > 0 {
		if err := c.BodyParser(req); err != nil {
			return m, domain.NewError(domain.ErrInvalidInput, "", "invalid body")
		}
	}
	return m, nil
}

// created 201 para la primera ejecución, 200 cuando se sirve el resultado almacenado.
func created(c *fiber.Ctx, replayed bool, body any) error {
	if replayed {
		c.Set(HeaderReplayed, "true")
		return c.Status(fiber.StatusOK).JSON(body)
	}
	return c.Status(fiber.StatusCreated).JSON(body)
}

// CreateReceipt godoc
// @Summary      Registrar entrada de proveedor
// @Tags         stock
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string              true  "clave de idempotencia"
// @Param        body             body    dto.ReceiptRequest  true  "warehouse_id, supplier_id, lines"
// @Success      201  {object}  dto.DocumentResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Failure      503  {object}  dto.ErrorResponse
// @Router       /api/v1/receipts [post]
func (h *StockHandler) CreateReceipt(c *fiber.Ctx) error {
	var req dto.ReceiptRequest
	m, err := parseMutation(c, &req)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.svc.CreateReceipt(c.UserContext(), app.ReceiptInput{
		TenantID:       m.TenantID,
		WarehouseID:    req.WarehouseID,
		SupplierID:     req.SupplierID,
		Lines:          toLines(req.Lines),
		IdempotencyKey: m.Key,
		CreatedBy:      m.UserID,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return created(c, out.Replayed, toDocument(out))
}

// CreateDelivery godoc
// @Summary      Registrar despacho de una orden
// @Tags         stock
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string               true  "clave de idempotencia"
// @Param        body             body    dto.DeliveryRequest  true  "warehouse_id, order_id, lines, allow_backorder"
// @Success      201  {object}  dto.DocumentResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/v1/deliveries [post]
func (h *StockHandler) CreateDelivery(c *fiber.Ctx) error {
	var req dto.DeliveryRequest
	m, err := parseMutation(c, &req)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.svc.CreateDelivery(c.UserContext(), app.DeliveryInput{
		TenantID:       m.TenantID,
		WarehouseID:    req.WarehouseID,
		OrderID:        req.OrderID,
		Lines:          toLines(req.Lines),
		AllowBackorder: req.AllowBackorder,
		IdempotencyKey: m.Key,
		CreatedBy:      m.UserID,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return created(c, out.Replayed, toDocument(out))
}

// CreateTransfer godoc
// @Summary      Trasladar stock entre bodegas
// @Tags         stock
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string               true  "clave de idempotencia"
// @Param        body             body    dto.TransferRequest  true  "source_warehouse_id, dest_warehouse_id, lines"
// @Success      201  {object}  dto.DocumentResponse
// @Router       /api/v1/transfers [post]
func (h *StockHandler) CreateTransfer(c *fiber.Ctx) error {
	var req dto.TransferRequest
	m, err := parseMutation(c, &req)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.svc.CreateTransfer(c.UserContext(), app.TransferInput{
		TenantID:          m.TenantID,
		SourceWarehouseID: req.SourceWarehouseID,
		DestWarehouseID:   req.DestWarehouseID,
		Lines:             toLines(req.Lines),
		IdempotencyKey:    m.Key,
		CreatedBy:         m.UserID,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return created(c, out.Replayed, toDocument(out))
}

// CreateAdjustment godoc
// @Summary      Ajuste de inventario con código de motivo
// @Tags         stock
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string                 true  "clave de idempotencia"
// @Param        body             body    dto.AdjustmentRequest  true  "warehouse_id, lines con reason_code"
// @Success      201  {object}  dto.DocumentResponse
// @Router       /api/v1/adjustments [post]
func (h *StockHandler) CreateAdjustment(c *fiber.Ctx) error {
	var req dto.AdjustmentRequest
	m, err := parseMutation(c, &req)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.svc.CreateAdjustment(c.UserContext(), app.AdjustmentInput{
		TenantID:       m.TenantID,
		WarehouseID:    req.WarehouseID,
		Lines:          toLines(req.Lines),
		IdempotencyKey: m.Key,
		CreatedBy:      m.UserID,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return created(c, out.Replayed, toDocument(out))
}

// CreateReturn godoc
// @Summary      Devolución de cliente
// @Tags         stock
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string             true  "clave de idempotencia"
// @Param        body             body    dto.ReturnRequest  true  "warehouse_id, customer_id, lines"
// @Success      201  {object}  dto.DocumentResponse
// @Router       /api/v1/returns [post]
func (h *StockHandler) CreateReturn(c *fiber.Ctx) error {
	var req dto.ReturnRequest
	m, err := parseMutation(c, &req)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.svc.CreateReturn(c.UserContext(), app.ReturnInput{
		TenantID:       m.TenantID,
		WarehouseID:    req.WarehouseID,
		CustomerID:     req.CustomerID,
		Lines:          toLines(req.Lines),
		IdempotencyKey: m.Key,
		CreatedBy:      m.UserID,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return created(c, out.Replayed, toDocument(out))
}

// ReverseMove godoc
// @Summary      Revertir un movimiento done con un movimiento compensatorio
// @Tags         stock
// @Security     Bearer
// @Produce      json
// @Param        Idempotency-Key  header  string  true  "clave de idempotencia"
// @Param        id               path    string  true  "id del movimiento"
// @Success      201  {object}  dto.DocumentResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/v1/moves/{id}/reverse [post]
func (h *StockHandler) ReverseMove(c *fiber.Ctx) error {
	var req dto.MoveActionRequest
	m, err := parseMutation(c, &req)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.svc.ReverseMove(c.UserContext(), app.MoveCommand{
		TenantID:       m.TenantID,
		MoveID:         c.Params("id"),
		AllowBackorder: req.AllowBackorder,
		IdempotencyKey: m.Key,
		CreatedBy:      m.UserID,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return created(c, out.Replayed, toDocument(out))
}

// CreateDraft godoc
// @Summary      Crear un borrador de movimiento
// @Tags         drafts
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string            true  "clave de idempotencia"
// @Param        body             body    dto.DraftRequest  true  "movimiento sin efecto en el ledger"
// @Success      201  {object}  dto.DraftResponse
// @Router       /api/v1/drafts [post]
func (h *StockHandler) CreateDraft(c *fiber.Ctx) error {
	var req dto.DraftRequest
	m, err := parseMutation(c, &req)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out, err := h.svc.CreateDraft(c.UserContext(), app.DraftInput{
		TenantID:       m.TenantID,
		WarehouseID:    req.WarehouseID,
		ProductID:      req.ProductID,
		Type:           entity.MoveType(req.Type),
		Quantity:       req.Quantity,
		UnitCost:       req.UnitCost,
		ReasonCode:     req.ReasonCode,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		IdempotencyKey: m.Key,
		CreatedBy:      m.UserID,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return created(c, out.Replayed, toDraft(out))
}

func (h *StockHandler) draftAction(c *fiber.Ctx, fn func(ctx *fiber.Ctx, cmd app.MoveCommand) (app.Outcome[app.DraftResult], error)) error {
	var req dto.MoveActionRequest
	m, err := parseMutation(c, &req)
	if err != nil {
		return writeError(c, h.log, err)
	}
	out, err := fn(c, app.MoveCommand{
		TenantID:       m.TenantID,
		MoveID:         c.Params("id"),
		AllowBackorder: req.AllowBackorder,
		IdempotencyKey: m.Key,
		CreatedBy:      m.UserID,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return created(c, out.Replayed, toDraft(out))
}

// ConfirmDraft godoc
// @Summary      Confirmar borrador (las salidas reservan)
// @Tags         drafts
// @Security     Bearer
// @Produce      json
// @Param        Idempotency-Key  header  string  true  "clave de idempotencia"
// @Param        id               path    string  true  "id del borrador"
// @Success      201  {object}  dto.DraftResponse
// @Failure      422  {object}  dto.ErrorResponse
// @Router       /api/v1/drafts/{id}/confirm [post]
func (h *StockHandler) ConfirmDraft(c *fiber.Ctx) error {
	return h.draftAction(c, func(ctx *fiber.Ctx, cmd app.MoveCommand) (app.Outcome[app.DraftResult], error) {
		return h.svc.ConfirmDraft(ctx.UserContext(), cmd)
	})
}

// ValidateDraft godoc
// @Summary      Validar borrador: pasa a done por el pipeline completo
// @Tags         drafts
// @Security     Bearer
// @Produce      json
// @Param        Idempotency-Key  header  string  true  "clave de idempotencia"
// @Param        id               path    string  true  "id del borrador"
// @Success      201  {object}  dto.DraftResponse
// @Router       /api/v1/drafts/{id}/validate [post]
func (h *StockHandler) ValidateDraft(c *fiber.Ctx) error {
	return h.draftAction(c, func(ctx *fiber.Ctx, cmd app.MoveCommand) (app.Outcome[app.DraftResult], error) {
		return h.svc.ValidateDraft(ctx.UserContext(), cmd)
	})
}

// CancelDraft godoc
// @Summary      Cancelar borrador y liberar su reserva
// @Tags         drafts
// @Security     Bearer
// @Produce      json
// @Param        Idempotency-Key  header  string  true  "clave de idempotencia"
// @Param        id               path    string  true  "id del borrador"
// @Success      201  {object}  dto.DraftResponse
// @Router       /api/v1/drafts/{id}/cancel [post]
func (h *StockHandler) CancelDraft(c *fiber.Ctx) error {
	return h.draftAction(c, func(ctx *fiber.Ctx, cmd app.MoveCommand) (app.Outcome[app.DraftResult], error) {
		return h.svc.CancelDraft(ctx.UserContext(), cmd)
	})
}

// GetStockLevel godoc
// @Summary      Nivel de stock de un producto en una bodega
// @Tags         stock
// @Security     Bearer
// @Produce      json
// @Param        warehouse_id  path  string  true  "bodega"
// @Param        product_id    path  string  true  "producto"
// @Success      200  {object}  dto.StockLevelDTO
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/v1/stock/{warehouse_id}/{product_id} [get]
func (h *StockHandler) GetStockLevel(c *fiber.Ctx) error {
	level, err := h.svc.GetStockLevel(c.UserContext(), GetTenantID(c), c.Params("product_id"), c.Params("warehouse_id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(toLevelDTO(level))
}

// ListStockLevels godoc
// @Summary      Niveles de stock de una bodega
// @Tags         stock
// @Security     Bearer
// @Produce      json
// @Param        warehouse_id  path   string  true   "bodega"
// @Param        limit         query  int     false  "máximo 100"
// @Param        offset        query  int     false  "desplazamiento"
// @Success      200  {object}  dto.StockLevelListResponse
// @Router       /api/v1/stock/{warehouse_id} [get]
func (h *StockHandler) ListStockLevels(c *fiber.Ctx) error {
	page := dto.PageRequest{Limit: c.QueryInt("limit", 20), Offset: c.QueryInt("offset", 0)}
	page.DefaultPage()
	levels, err := h.svc.ListStockLevels(c.UserContext(), GetTenantID(c), c.Params("warehouse_id"), page.Limit, page.Offset)
	if err != nil {
		return writeError(c, h.log, err)
	}
	items := make([]dto.StockLevelDTO, 0, len(levels))
	for _, l := range levels {
		items = append(items, toLevelDTO(l))
	}
	return c.JSON(dto.StockLevelListResponse{Items: items, Page: dto.PageResponse{Limit: page.Limit, Offset: page.Offset}})
}

// GetLedger godoc
// @Summary      Ledger de una clave ordenado por secuencia
// @Tags         stock
// @Security     Bearer
// @Produce      json
// @Param        warehouse_id  path   string  true   "bodega"
// @Param        product_id    path   string  true   "producto"
// @Param        from          query  string  false  "RFC3339"
// @Param        to            query  string  false  "RFC3339"
// @Param        limit         query  int     false  "máximo 100"
// @Param        offset        query  int     false  "desplazamiento"
// @Success      200  {object}  dto.LedgerResponse
// @Router       /api/v1/ledger/{warehouse_id}/{product_id} [get]
func (h *StockHandler) GetLedger(c *fiber.Ctx) error {
	q := app.LedgerQuery{
		TenantID:    GetTenantID(c),
		WarehouseID: c.Params("warehouse_id"),
		ProductID:   c.Params("product_id"),
		Limit:       c.QueryInt("limit", 0),
		Offset:      c.QueryInt("offset", 0),
	}
	var err error
	if q.From, err = parseTimeQuery(c, "from"); err != nil {
		return writeError(c, h.log, err)
	}
	if q.To, err = parseTimeQuery(c, "to"); err != nil {
		return writeError(c, h.log, err)
	}
	page, err := h.svc.GetLedger(c.UserContext(), q)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.LedgerResponse{
		Moves: toMoveDTOs(page.Moves),
		Page:  dto.PageResponse{Limit: page.Limit, Offset: page.Offset, Total: page.Total},
	})
}

// Reconcile godoc
// @Summary      Conciliación de ledger, niveles y valoración de una clave
// @Tags         stock
// @Security     Bearer
// @Produce      json
// @Param        warehouse_id  path  string  true  "bodega"
// @Param        product_id    path  string  true  "producto"
// @Success      200  {object}  inventory.ReconcileReport
// @Router       /api/v1/reconcile/{warehouse_id}/{product_id} [get]
func (h *StockHandler) Reconcile(c *fiber.Ctx) error {
	rep, err := h.svc.Reconcile(c.UserContext(), GetTenantID(c), c.Params("product_id"), c.Params("warehouse_id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(rep)
}

// SetLowThreshold godoc
// @Summary      Configurar umbral de stock bajo
// @Tags         stock
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        warehouse_id  path  string                true  "bodega"
// @Param        product_id    path  string                true  "producto"
// @Param        body          body  dto.ThresholdRequest  true  "threshold (null lo elimina)"
// @Success      200  {object}  dto.StockLevelDTO
// @Router       /api/v1/stock/{warehouse_id}/{product_id}/threshold [put]
func (h *StockHandler) SetLowThreshold(c *fiber.Ctx) error {
	var req dto.ThresholdRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, h.log, domain.NewError(domain.ErrInvalidInput, "", "invalid body"))
	}
	level, err := h.svc.SetLowThreshold(c.UserContext(), app.ThresholdInput{
		TenantID:    GetTenantID(c),
		WarehouseID: c.Params("warehouse_id"),
		ProductID:   c.Params("product_id"),
		Threshold:   req.Threshold,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(toLevelDTO(level))
}

func parseTimeQuery(c *fiber.Ctx, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, domain.NewError(domain.ErrInvalidInput, name, "expected RFC3339 timestamp")
	}
	return &t, nil
}
