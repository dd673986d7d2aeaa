package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/application/outbox"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Ledger    *inventory.LedgerService
	Outbox    *outbox.Service
	JWTSecret string
	Logger    zerolog.Logger
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Use(MetricsMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Rutas protegidas (requieren Bearer Token)
	api := app.Group("/api/v1", AuthMiddleware(deps.JWTSecret))
	writers := RequireRole(RoleAdmin, RoleOperator)
	readers := RequireRole(RoleAdmin, RoleOperator, RoleViewer)
	admins := RequireRole(RoleAdmin)

	stock := NewStockHandler(deps.Ledger, deps.Logger)
	api.Post("/receipts", writers, stock.CreateReceipt)
	api.Post("/deliveries", writers, stock.CreateDelivery)
	api.Post("/transfers", writers, stock.CreateTransfer)
	api.Post("/adjustments", writers, stock.CreateAdjustment)
	api.Post("/returns", writers, stock.CreateReturn)
	api.Post("/moves/:id/reverse", writers, stock.ReverseMove)

	// Borradores
	drafts := api.Group("/drafts", writers)
	drafts.Post("/", stock.CreateDraft)
	drafts.Post("/:id/confirm", stock.ConfirmDraft)
	drafts.Post("/:id/validate", stock.ValidateDraft)
	drafts.Post("/:id/cancel", stock.CancelDraft)

	// Consultas
	api.Get("/stock/:warehouse_id", readers, stock.ListStockLevels)
	api.Get("/stock/:warehouse_id/:product_id", readers, stock.GetStockLevel)
	api.Put("/stock/:warehouse_id/:product_id/threshold", writers, stock.SetLowThreshold)
	api.Get("/ledger/:warehouse_id/:product_id", readers, stock.GetLedger)
	api.Get("/reconcile/:warehouse_id/:product_id", readers, stock.Reconcile)

	// Valoración (lectura abierta, administración solo admin)
	valuation := NewValuationHandler(deps.Ledger, deps.Logger)
	api.Get("/valuation/:warehouse_id/:product_id", readers, valuation.GetValuation)
	api.Post("/valuation/:warehouse_id/:product_id/method", admins, valuation.SwitchMethod)
	api.Post("/valuation/:warehouse_id/:product_id/standard-cost", admins, valuation.SetStandardCost)
	api.Post("/valuation/:warehouse_id/:product_id/revalue", admins, valuation.Revalue)
	api.Post("/valuation/:warehouse_id/:product_id/close", admins, valuation.ClosePeriod)

	if deps.Outbox != nil {
		ob := NewOutboxHandler(deps.Outbox, deps.Logger)
		outboxGroup := api.Group("/outbox", admins)
		outboxGroup.Get("/failed", ob.ListFailed)
		outboxGroup.Get("/stats", ob.Stats)
		outboxGroup.Post("/:id/requeue", ob.Requeue)
	}
}
