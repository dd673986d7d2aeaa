package http_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/stock-ledger/internal/application/dto"
	app "github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/application/outbox"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	domaininv "github.com/jhoicas/stock-ledger/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/cache"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/lock"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/memory"
	apphttp "github.com/jhoicas/stock-ledger/internal/interfaces/http"
)

// buildLedgerApp API completa sobre el store en memoria.
func buildLedgerApp(t *testing.T) *fiber.App {
	t.Helper()
	store := memory.NewStore()
	ctrl := app.NewController(lock.NewLocalLocker(time.Millisecond), store, cache.NewMemoryResultCache(), app.ControllerConfig{
		AcquireTimeout: 200 * time.Millisecond,
		LeaseTTL:       5 * time.Second,
		IdempotencyTTL: time.Hour,
	}, zerolog.Nop())
	svc := app.NewLedgerService(ctrl, store, domaininv.NewValuationEngine(entity.ValuationFIFO), outbox.NewPublisher(zerolog.Nop()), zerolog.Nop())

	fa := fiber.New()
	apphttp.Router(fa, apphttp.RouterDeps{
		Ledger:    svc,
		Outbox:    outbox.NewService(store.Repositories().Outbox, zerolog.Nop()),
		JWTSecret: testJWTSecret,
		Logger:    zerolog.Nop(),
	})
	return fa
}

func call(t *testing.T, fa *fiber.App, method, path, role, key, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", tokenForRole(t, role))
	if key != "" {
		req.Header.Set(apphttp.HeaderIdempotencyKey, key)
	}
	resp, err := fa.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

const receiptBody = `{"warehouse_id":"w1","supplier_id":"s1","lines":[{"product_id":"p1","quantity":"10","unit_cost":"2.5"}]}`

func TestReceipt_CreaYReintentoDevuelveElMismoResultado(t *testing.T) {
	fa := buildLedgerApp(t)

	resp := call(t, fa, http.MethodPost, "/api/v1/receipts", apphttp.RoleOperator, "rcv-1", receiptBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[dto.DocumentResponse](t, resp)
	require.Len(t, first.Moves, 1)
	assert.False(t, first.Replayed)
	assert.Equal(t, "25", first.Moves[0].Move.ValueDelta.String())
	assert.Equal(t, int64(1), first.Moves[0].Move.Sequence)

	resp = call(t, fa, http.MethodPost, "/api/v1/receipts", apphttp.RoleOperator, "rcv-1", receiptBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(apphttp.HeaderReplayed))
	again := decode[dto.DocumentResponse](t, resp)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Moves[0].Move.ID, again.Moves[0].Move.ID)

	resp = call(t, fa, http.MethodGet, "/api/v1/stock/w1/p1", apphttp.RoleViewer, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	level := decode[dto.StockLevelDTO](t, resp)
	assert.Equal(t, "10", level.OnHand.String(), "el reintento no duplica la entrada")
}

func TestReceipt_SinIdempotencyKey_Retorna400(t *testing.T) {
	fa := buildLedgerApp(t)
	resp := call(t, fa, http.MethodPost, "/api/v1/receipts", apphttp.RoleOperator, "", receiptBody)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[dto.ErrorResponse](t, resp)
	assert.Equal(t, "IDEMPOTENCY_KEY_REQUIRED", body.Code)
}

func TestReceipt_KeyReutilizadaConOtroBody_Retorna409(t *testing.T) {
	fa := buildLedgerApp(t)
	resp := call(t, fa, http.MethodPost, "/api/v1/receipts", apphttp.RoleOperator, "rcv-1", receiptBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	other := strings.Replace(receiptBody, `"10"`, `"11"`, 1)
	resp = call(t, fa, http.MethodPost, "/api/v1/receipts", apphttp.RoleOperator, "rcv-1", other)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "IDEMPOTENCY_KEY_REUSED", decode[dto.ErrorResponse](t, resp).Code)
}

func TestDelivery_StockInsuficiente_Retorna409(t *testing.T) {
	fa := buildLedgerApp(t)
	resp := call(t, fa, http.MethodPost, "/api/v1/receipts", apphttp.RoleOperator, "rcv-1", receiptBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = call(t, fa, http.MethodPost, "/api/v1/deliveries", apphttp.RoleOperator, "dlv-1",
		`{"warehouse_id":"w1","order_id":"o1","lines":[{"product_id":"p1","quantity":"11"}]}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[dto.ErrorResponse](t, resp)
	assert.Equal(t, "INSUFFICIENT_STOCK", body.Code)
	assert.NotEmpty(t, body.Key)
}

func TestRoles_ViewerNoEscribeYOperadorNoAdministraValoracion(t *testing.T) {
	fa := buildLedgerApp(t)

	resp := call(t, fa, http.MethodPost, "/api/v1/receipts", apphttp.RoleViewer, "rcv-1", receiptBody)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = call(t, fa, http.MethodPost, "/api/v1/valuation/w1/p1/method", apphttp.RoleOperator, "sw-1", `{"method":"avco"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = call(t, fa, http.MethodGet, "/api/v1/outbox/stats", apphttp.RoleOperator, "", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestLedger_ConsultaYFiltroInvalido(t *testing.T) {
	fa := buildLedgerApp(t)
	resp := call(t, fa, http.MethodPost, "/api/v1/receipts", apphttp.RoleOperator, "rcv-1", receiptBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = call(t, fa, http.MethodGet, "/api/v1/ledger/w1/p1", apphttp.RoleViewer, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[dto.LedgerResponse](t, resp)
	require.Len(t, page.Moves, 1)
	assert.Equal(t, 1, page.Page.Total)
	assert.Equal(t, "done", page.Moves[0].Status)

	resp = call(t, fa, http.MethodGet, "/api/v1/ledger/w1/p1?from=ayer", apphttp.RoleViewer, "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = call(t, fa, http.MethodGet, "/api/v1/stock/w1/nada", apphttp.RoleViewer, "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestValuation_AdminCambiaMetodoYOutboxReportaPendientes(t *testing.T) {
	fa := buildLedgerApp(t)
	resp := call(t, fa, http.MethodPost, "/api/v1/receipts", apphttp.RoleAdmin, "rcv-1", receiptBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = call(t, fa, http.MethodPost, "/api/v1/valuation/w1/p1/method", apphttp.RoleAdmin, "sw-1", `{"method":"avco"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	action := decode[dto.ValuationActionResponse](t, resp)
	assert.Equal(t, "avco", action.State.Method)
	assert.Equal(t, "2.5", action.State.AverageCost.String())

	resp = call(t, fa, http.MethodGet, "/api/v1/outbox/stats", apphttp.RoleAdmin, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[map[string]int64](t, resp)
	assert.Positive(t, stats[string(entity.OutboxPending)])
	assert.Zero(t, stats[string(entity.OutboxFailed)])
}

func TestMetrics_Expuestas(t *testing.T) {
	fa := buildLedgerApp(t)
	resp, err := fa.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetrics_TraficoMixtoConservaEtiquetas(t *testing.T) {
	for i := 0; i < 10; i++ {
		fa := buildLedgerApp(t)
		for _, r := range []struct{ method, path, role, key, body string }{
			{http.MethodPost, "/api/v1/receipts", apphttp.RoleOperator, "rcv-1", receiptBody},
			{http.MethodGet, "/api/v1/stock/w1/p1", apphttp.RoleViewer, "", ""},
			{http.MethodPut, "/api/v1/stock/w1/p1/threshold", apphttp.RoleOperator, "", `{"threshold":"3"}`},
			{http.MethodPost, "/api/v1/valuation/w1/p1/method", apphttp.RoleAdmin, "sw-1", `{"method":"avco"}`},
			{http.MethodGet, "/api/v1/ledger/w1/p1", apphttp.RoleViewer, "", ""},
		} {
			resp := call(t, fa, r.method, r.path, r.role, r.key, r.body)
			require.Less(t, resp.StatusCode, 300, r.method+" "+r.path)
			resp.Body.Close()
		}

		resp, err := fa.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
		require.NoError(t, err)
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

		body := string(raw)
		assert.Contains(t, body, `method="PUT",route="/api/v1/stock/:warehouse_id/:product_id/threshold"`)
		assert.Contains(t, body, `method="GET",route="/api/v1/ledger/:warehouse_id/:product_id"`)
		assert.NotContains(t, body, `method="GETT"`)
	}
}
