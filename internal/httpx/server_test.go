package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-stockflow/internal/auth"
	"github.com/ariefcatur/go-stockflow/internal/billing"
	"github.com/ariefcatur/go-stockflow/internal/inventory"
	"github.com/ariefcatur/go-stockflow/internal/invoicing"
	"github.com/ariefcatur/go-stockflow/internal/memstore"
	"github.com/ariefcatur/go-stockflow/internal/orders"
	"github.com/ariefcatur/go-stockflow/internal/redisx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type apiFixture struct {
	srv        *httptest.Server
	verifier   *auth.Verifier
	admin      auth.Identity
	customer   auth.Identity
	supplierID string
	productID  string
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	db := memstore.New()
	f := &apiFixture{
		verifier:   auth.NewVerifier("test-secret"),
		admin:      auth.Admin(uuid.NewString()),
		customer:   auth.Customer(uuid.NewString()),
		supplierID: uuid.NewString(),
		productID:  uuid.NewString(),
	}
	db.AddSupplier(inventory.Supplier{
		ID:   f.supplierID,
		Name: "Acme Supply",
		Products: []inventory.CatalogProduct{
			{ID: f.productID, Name: "USB Cable", Category: "electronics", PricePerItem: decimal.RequireFromString("12.50")},
		},
	})
	db.AddCustomer(invoicing.Customer{ID: f.customer.SubjectID, Name: "Corner Shop", PaymentPreference: "weekly"})

	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	ledger := &inventory.Ledger{Store: db.Inventory(), Catalog: db}
	s := &Server{
		Inventory: ledger,
		Orders:    &orders.Engine{Orders: db.Orders(), Stock: ledger},
		Invoices: &invoicing.Generator{
			Store:     db.Invoices(),
			Customers: db,
			Calendar:  billing.MustCalendar(billing.DefaultTimezone),
			Locker:    &redisx.BillingLocker{RDB: rdb},
		},
		Verifier:    f.verifier,
		Idempotency: &redisx.Idempotency{RDB: rdb},
		Checks: map[string]func(context.Context) error{
			"postgres": db.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	}
	f.srv = httptest.NewServer(s.Router())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, as *auth.Identity, method, path string, body any, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		tok, err := f.verifier.Issue(*as, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(res.Body)
	require.NoError(t, err)
	return res, buf.Bytes()
}

func decodeAs[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

func (f *apiFixture) stock(t *testing.T, qty any) inventory.Record {
	t.Helper()
	res, body := f.do(t, &f.admin, http.MethodPost, "/api/inventory", map[string]any{
		"supplierId": f.supplierID, "productId": f.productID, "quantity": qty,
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	return decodeAs[inventory.Record](t, body)
}

func TestHealthz(t *testing.T) {
	f := newAPI(t)
	res, body := f.do(t, nil, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, decodeAs[map[string]string](t, body))
}

func TestHealthzReportsFailingDependency(t *testing.T) {
	s := &Server{Checks: map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestAPIRequiresToken(t *testing.T) {
	f := newAPI(t)
	res, body := f.do(t, nil, http.MethodGet, "/api/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	e := decodeAs[errorBody](t, body)
	assert.Equal(t, http.StatusUnauthorized, e.StatusCode)
	assert.Equal(t, "no token provided", e.Message)
}

func TestInventoryEndpoints(t *testing.T) {
	f := newAPI(t)
	rec := f.stock(t, "25") // string quantities are accepted
	assert.Equal(t, 25, rec.Quantity)

	res, body := f.do(t, &f.customer, http.MethodPost, "/api/inventory", map[string]any{
		"supplierId": f.supplierID, "productId": f.productID, "quantity": 1,
	})
	assert.Equal(t, http.StatusForbidden, res.StatusCode, string(body))

	res, body = f.do(t, &f.customer, http.MethodGet, "/api/inventory/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotContains(t, string(body), "supplierId")
	assert.Contains(t, string(body), "USB Cable")

	res, body = f.do(t, &f.admin, http.MethodPost, "/api/inventory/"+rec.ID+"/adjust", map[string]any{"delta": -30})
	assert.Equal(t, http.StatusConflict, res.StatusCode, string(body))
	assert.Equal(t, http.StatusConflict, decodeAs[errorBody](t, body).StatusCode)

	res, body = f.do(t, &f.admin, http.MethodPatch, "/api/inventory/"+rec.ID, map[string]any{"quantity": 5, "threshold": "10"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	got := decodeAs[inventory.Record](t, body)
	assert.Equal(t, inventory.StatusLowStock, got.Status)

	res, _ = f.do(t, &f.admin, http.MethodPost, "/api/inventory", map[string]any{
		"supplierId": f.supplierID, "productId": f.productID, "quantity": "lots",
	})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body = f.do(t, &f.admin, http.MethodPost, "/api/inventory", `{"supplierId":"x","colour":"red"}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, decodeAs[errorBody](t, body).Message, "colour")

	res, _ = f.do(t, &f.admin, http.MethodDelete, "/api/inventory/"+rec.ID, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = f.do(t, &f.admin, http.MethodGet, "/api/inventory/"+rec.ID, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestOrderLifecycle(t *testing.T) {
	f := newAPI(t)
	rec := f.stock(t, 10)

	res, body := f.do(t, &f.customer, http.MethodPost, "/api/orders", map[string]any{
		"orderProducts": []map[string]any{{"inventoryId": rec.ID, "quantity": "4"}},
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	o := decodeAs[orders.Order](t, body)
	assert.Equal(t, f.customer.SubjectID, o.CustomerID)
	assert.Equal(t, "50.00", o.TotalAmount.StringFixed(2))

	res, body = f.do(t, &f.customer, http.MethodPost, "/api/orders", map[string]any{
		"customerId":    f.customer.SubjectID,
		"orderProducts": []map[string]any{{"inventoryId": rec.ID, "quantity": 7}},
	})
	assert.Equal(t, http.StatusConflict, res.StatusCode, string(body))

	res, _ = f.do(t, &f.customer, http.MethodGet, "/api/orders", nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, body = f.do(t, &f.customer, http.MethodGet, "/api/orders?customerId="+f.customer.SubjectID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decodeAs[[]orders.Order](t, body), 1)

	res, _ = f.do(t, &f.customer, http.MethodPatch, "/api/orders/"+o.ID, map[string]any{"status": "shipped"})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, body = f.do(t, &f.customer, http.MethodPatch, "/api/orders/cancel/"+o.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Equal(t, orders.StatusCancelled, decodeAs[orders.Order](t, body).Status)

	res, body = f.do(t, &f.customer, http.MethodPatch, "/api/orders/cancel/"+o.ID, nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "order is already cancelled", decodeAs[errorBody](t, body).Message)

	res, body = f.do(t, &f.admin, http.MethodGet, "/api/inventory/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 10, decodeAs[inventory.Record](t, body).Quantity)

	res, _ = f.do(t, &f.admin, http.MethodDelete, "/api/orders/"+o.ID, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = f.do(t, &f.admin, http.MethodGet, "/api/orders/"+o.ID, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestPlaceOrderIdempotencyKey(t *testing.T) {
	f := newAPI(t)
	rec := f.stock(t, 10)
	body := map[string]any{"orderProducts": []map[string]any{{"inventoryId": rec.ID, "quantity": 3}}}

	res, first := f.do(t, &f.customer, http.MethodPost, "/api/orders", body, "Idempotency-Key", "retry-1")
	require.Equal(t, http.StatusCreated, res.StatusCode, string(first))
	res, second := f.do(t, &f.customer, http.MethodPost, "/api/orders", body, "Idempotency-Key", "retry-1")
	require.Equal(t, http.StatusOK, res.StatusCode, string(second))
	assert.Equal(t, "true", res.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, decodeAs[orders.Order](t, first).ID, decodeAs[orders.Order](t, second).ID)

	_, got := f.do(t, &f.admin, http.MethodGet, "/api/inventory/"+rec.ID, nil)
	assert.Equal(t, 7, decodeAs[inventory.Record](t, got).Quantity)

	// a failed attempt frees the key
	bad := map[string]any{"orderProducts": []map[string]any{{"inventoryId": rec.ID, "quantity": 99}}}
	res, _ = f.do(t, &f.customer, http.MethodPost, "/api/orders", bad, "Idempotency-Key", "retry-2")
	require.Equal(t, http.StatusConflict, res.StatusCode)
	res, _ = f.do(t, &f.customer, http.MethodPost, "/api/orders", body, "Idempotency-Key", "retry-2")
	assert.Equal(t, http.StatusCreated, res.StatusCode)
}

func TestPlaceOrderForAnotherCustomerLeavesTheirKeyAlone(t *testing.T) {
	f := newAPI(t)
	rec := f.stock(t, 10)
	intruder := auth.Customer(uuid.NewString())
	body := map[string]any{
		"customerId":    f.customer.SubjectID,
		"orderProducts": []map[string]any{{"inventoryId": rec.ID, "quantity": 1}},
	}

	res, _ := f.do(t, &intruder, http.MethodPost, "/api/orders", body, "Idempotency-Key", "shared-key")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, got := f.do(t, &f.customer, http.MethodPost, "/api/orders", body, "Idempotency-Key", "shared-key")
	require.Equal(t, http.StatusCreated, res.StatusCode, string(got))
	assert.Empty(t, res.Header.Get("Idempotent-Replayed"))
}

func TestHugeQuantityIsRejected(t *testing.T) {
	f := newAPI(t)
	res, body := f.do(t, &f.admin, http.MethodPost, "/api/inventory", map[string]any{
		"supplierId": f.supplierID, "productId": f.productID, "quantity": "3000000000",
	})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
	assert.Equal(t, "quantity must be at most 2147483647", decodeAs[errorBody](t, body).Message)
}

func TestInvoiceFlow(t *testing.T) {
	f := newAPI(t)
	rec := f.stock(t, 10)
	_, body := f.do(t, &f.customer, http.MethodPost, "/api/orders", map[string]any{
		"orderProducts": []map[string]any{{"inventoryId": rec.ID, "quantity": 2}},
	})
	o := decodeAs[orders.Order](t, body)
	res, _ := f.do(t, &f.admin, http.MethodPatch, "/api/orders/"+o.ID, map[string]any{"status": "delivered"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	gen := map[string]any{"customerIds": []string{f.customer.SubjectID}}
	res, _ = f.do(t, &f.customer, http.MethodPost, "/api/invoices", gen)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, body = f.do(t, &f.admin, http.MethodPost, "/api/invoices", gen)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	result := decodeAs[invoicing.Result](t, body)
	require.Equal(t, 1, result.Generated)
	inv := result.Invoices[0]
	assert.Equal(t, "25.00", inv.Amount.StringFixed(2))

	res, body = f.do(t, &f.admin, http.MethodPost, "/api/invoices", gen)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, 0, decodeAs[invoicing.Result](t, body).Generated)

	res, body = f.do(t, &f.admin, http.MethodPost, "/api/invoices", map[string]any{"customerIds": []string{uuid.NewString()}})
	assert.Equal(t, http.StatusNotFound, res.StatusCode, string(body))

	res, _ = f.do(t, &f.admin, http.MethodPatch, "/api/invoices/"+inv.ID, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res, body = f.do(t, &f.admin, http.MethodPatch, "/api/invoices/"+inv.ID, map[string]any{"draft": false})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, invoicing.StatusPending, decodeAs[invoicing.Invoice](t, body).Status)

	res, _ = f.do(t, &f.admin, http.MethodPatch, "/api/invoices/"+inv.ID+"/paid", nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	pay := map[string]any{"paymentMethod": "bank", "transactionId": "NEFT-99812", "transactionDate": "2024-06-12"}
	res, body = f.do(t, &f.admin, http.MethodPatch, "/api/invoices/"+inv.ID+"/payment", pay)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	res, _ = f.do(t, &f.admin, http.MethodPatch, "/api/invoices/"+inv.ID+"/payment", pay)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res, body = f.do(t, &f.admin, http.MethodPatch, "/api/invoices/"+inv.ID+"/paid", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, invoicing.StatusPaid, decodeAs[invoicing.Invoice](t, body).Status)

	res, body = f.do(t, &f.customer, http.MethodGet, "/api/invoices?customerId="+f.customer.SubjectID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decodeAs[[]invoicing.Invoice](t, body), 1)
}
