package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/cartsync/internal/cart"
	"github.com/dukerupert/cartsync/internal/domain"
	"github.com/dukerupert/cartsync/internal/gateway"
	"github.com/dukerupert/cartsync/internal/gateway/gatewaytest"
	"github.com/dukerupert/cartsync/internal/guestcart"
	"github.com/dukerupert/cartsync/internal/session"
	"github.com/dukerupert/cartsync/internal/storage"
	"github.com/dukerupert/cartsync/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiHarness struct {
	srv     *gatewaytest.Server
	guest   *guestcart.Store
	signal  *session.Signal
	engine  *cart.Engine
	updater *cart.Updater
	mux     *http.ServeMux
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	ctx := context.Background()
	logger := discardLogger()

	h := &apiHarness{
		srv:    gatewaytest.New(),
		signal: session.NewSignal(nil),
	}
	t.Cleanup(h.srv.Close)
	h.srv.AddProduct(1, "Ethiopia Yirgacheffe", "18.50")
	h.srv.AddProduct(2, "Colombia Huila", "16.00")
	h.srv.AddCoupon("WELCOME10", 10)

	metrics := telemetry.NewCartMetrics("test", prometheus.NewRegistry())
	h.guest = guestcart.New(storage.NewMemoryStorage(), logger)
	client := gateway.New(gateway.Config{BaseURL: h.srv.URL, Timeout: 2 * time.Second}, h.signal.Token, metrics, logger)

	h.engine = cart.NewEngine(ctx, cart.NewStore(domain.NewGuestCart(nil)), h.guest, client, h.signal, logger, metrics, cart.Options{})
	h.engine.Start(ctx)
	h.updater = cart.NewUpdater(h.engine, cart.WithQuietPeriod(100*time.Millisecond), cart.WithLogger(logger))
	t.Cleanup(func() {
		h.updater.Close()
		h.engine.Close()
	})

	carts := NewCartHandler(h.engine, h.updater, logger)
	sessions := NewSessionHandler(h.signal, h.engine, h.engine.Wait, logger)

	h.mux = http.NewServeMux()
	h.mux.HandleFunc("GET /api/cart", carts.Get)
	h.mux.HandleFunc("POST /api/cart/items", carts.AddItem)
	h.mux.HandleFunc("PUT /api/cart/items/{id}", carts.SetQuantity)
	h.mux.HandleFunc("POST /api/cart/items/{id}/increment", carts.Increment)
	h.mux.HandleFunc("POST /api/cart/items/{id}/decrement", carts.Decrement)
	h.mux.HandleFunc("DELETE /api/cart/items/{id}", carts.RemoveItem)
	h.mux.HandleFunc("DELETE /api/cart", carts.Clear)
	h.mux.HandleFunc("POST /api/cart/coupon", carts.ApplyCoupon)
	h.mux.HandleFunc("GET /api/session", sessions.Current)
	h.mux.HandleFunc("POST /api/session/login", sessions.Login)
	h.mux.HandleFunc("POST /api/session/logout", sessions.Logout)
	h.mux.HandleFunc("GET /health", Health)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			r = bytes.NewBufferString(s)
		} else {
			raw, err := json.Marshal(body)
			require.NoError(t, err)
			r = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func decodeCart(t *testing.T, rec *httptest.ResponseRecorder) CartResponse {
	t.Helper()
	var resp CartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

type errorEnvelope struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Silent  bool              `json:"silent"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var resp errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (h *apiHarness) login(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/session/login", map[string]string{
		"id": "u-1", "email": "pat@example.com", "token": "tok-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return rec
}

// =============================================================================
// GUEST
// =============================================================================

func TestCartAPI_GuestAddAndGet(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"productId": 1, "quantity": 2, "displayName": "Yirgacheffe", "unitPrice": "18.50",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeCart(t, rec)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(1), got.Items[0].ProductID)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.True(t, got.Items[0].LineTotal.Equal(decimal.RequireFromString("37")))
	assert.Equal(t, 2, got.ItemCount)
	assert.Nil(t, got.Coupon)

	assert.Len(t, h.guest.Load(context.Background()), 1)
	assert.Empty(t, h.srv.Calls(), "guest carts never reach the cart API")
}

func TestCartAPI_AddRejectsBadInput(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"productId":`},
		{"unknown field", `{"productId":1,"sku":"x"}`},
		{"zero product", map[string]any{"productId": 0, "quantity": 1}},
		{"negative quantity", map[string]any{"productId": 1, "quantity": -1}},
		{"bad image url", map[string]any{"productId": 1, "imageUrl": "not a url"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/cart/items", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, domain.EINVALID, decodeError(t, rec).Error.Code)
		})
	}
	assert.Empty(t, h.engine.Snapshot().Items)
}

func TestCartAPI_NegativePriceIsAValidationError(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/cart/items", map[string]any{"productId": 1, "unitPrice": "-1"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "Validation failed", body.Error.Message)
	assert.Contains(t, body.Error.Fields, "UnitPrice")
}

func TestCartAPI_CouponRequiresLogin(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/cart/coupon", map[string]string{"code": "WELCOME10"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Please log in to apply a coupon", decodeError(t, rec).Error.Message)
	assert.Empty(t, h.srv.Calls())
}

func TestCartAPI_InvalidProductIDInPath(t *testing.T) {
	h := newAPIHarness(t)

	for _, path := range []string{"/api/cart/items/abc", "/api/cart/items/0"} {
		rec := h.do(t, http.MethodDelete, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestCartAPI_SetQuantity(t *testing.T) {
	h := newAPIHarness(t)
	h.do(t, http.MethodPost, "/api/cart/items", map[string]any{"productId": 1})

	rec := h.do(t, http.MethodPut, "/api/cart/items/1", map[string]int{"quantity": 5})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, 5, decodeCart(t, rec).Items[0].Quantity)

	rec = h.do(t, http.MethodPut, "/api/cart/items/1", map[string]int{"quantity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPut, "/api/cart/items/9", map[string]int{"quantity": 2})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCartAPI_DecrementStopsAtOne(t *testing.T) {
	h := newAPIHarness(t)
	h.do(t, http.MethodPost, "/api/cart/items", map[string]any{"productId": 1, "quantity": 1})

	rec := h.do(t, http.MethodPost, "/api/cart/items/1/decrement", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, decodeCart(t, rec).Items[0].Quantity)
}

func TestCartAPI_RemoveAndClear(t *testing.T) {
	h := newAPIHarness(t)
	h.do(t, http.MethodPost, "/api/cart/items", map[string]any{"productId": 1})
	h.do(t, http.MethodPost, "/api/cart/items", map[string]any{"productId": 2})

	rec := h.do(t, http.MethodDelete, "/api/cart/items/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeCart(t, rec)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(2), got.Items[0].ProductID)

	rec = h.do(t, http.MethodDelete, "/api/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeCart(t, rec).Items)
	assert.Empty(t, h.guest.Load(context.Background()))
}

// =============================================================================
// AUTHENTICATED
// =============================================================================

func TestSessionAPI_LoginMergesGuestCart(t *testing.T) {
	h := newAPIHarness(t)
	h.do(t, http.MethodPost, "/api/cart/items", map[string]any{"productId": 1, "quantity": 2})

	rec := h.login(t)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Authenticated)
	assert.Equal(t, "u-1", resp.UserID)
	require.Len(t, resp.Cart.Items, 1)
	assert.Equal(t, "Ethiopia Yirgacheffe", resp.Cart.Items[0].DisplayName)
	assert.True(t, resp.Cart.Total.Equal(decimal.RequireFromString("37")))
	assert.Empty(t, h.guest.Load(context.Background()))

	adds := h.srv.CallsFor("add")
	require.Len(t, adds, 1)
	assert.Equal(t, "tok-1", adds[0].Token)
}

func TestSessionAPI_LoginRequiresIDAndToken(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/session/login", map[string]string{"id": "u-1"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, h.signal.Current())
}

func TestSessionAPI_Logout(t *testing.T) {
	h := newAPIHarness(t)
	h.login(t)

	rec := h.do(t, http.MethodPost, "/api/session/logout", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Authenticated)
	assert.Nil(t, h.signal.Current())
}

func TestCartAPI_ApplyCoupon(t *testing.T) {
	h := newAPIHarness(t)
	h.login(t)
	h.do(t, http.MethodPost, "/api/cart/items", map[string]any{"productId": 2, "quantity": 1})

	rec := h.do(t, http.MethodPost, "/api/cart/coupon", map[string]string{"code": "WELCOME10"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeCart(t, rec)
	require.NotNil(t, got.Coupon)
	assert.Equal(t, "WELCOME10", *got.Coupon)
	assert.True(t, got.Discount.Equal(decimal.RequireFromString("1.60")))
	assert.True(t, got.Total.Equal(decimal.RequireFromString("14.40")))

	rec = h.do(t, http.MethodPost, "/api/cart/coupon", map[string]string{"code": "NOPE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid coupon code", decodeError(t, rec).Error.Message)
}

func TestCartAPI_AuthenticatedAddFailureSurfacesDetail(t *testing.T) {
	h := newAPIHarness(t)
	h.login(t)
	h.srv.FailNext("add", http.StatusConflict, `{"detail":"Only 2 left in stock"}`)

	rec := h.do(t, http.MethodPost, "/api/cart/items", map[string]any{"productId": 1, "quantity": 5})

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "Only 2 left in stock", body.Error.Message)
	assert.False(t, body.Error.Silent)
	assert.Empty(t, h.engine.Snapshot().Items)
	h.engine.Wait()
}

func TestCartAPI_DebouncedQuantityReachesServerOnce(t *testing.T) {
	h := newAPIHarness(t)
	h.login(t)
	h.do(t, http.MethodPost, "/api/cart/items", map[string]any{"productId": 1, "quantity": 1})
	h.engine.Wait()

	for range 4 {
		rec := h.do(t, http.MethodPost, "/api/cart/items/1/increment", nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	assert.Equal(t, 5, h.engine.Snapshot().Items[0].Quantity)

	assert.Eventually(t, func() bool {
		return len(h.srv.CallsFor("update")) == 1 && h.updater.Pending() == 0
	}, 2*time.Second, 10*time.Millisecond)

	h.updater.Close()
	h.engine.Wait()
	updates := h.srv.CallsFor("update")
	require.Len(t, updates, 1)
	assert.Equal(t, 5, updates[0].Quantity)
	assert.Equal(t, 5, h.serverQuantity(1))
}

func (h *apiHarness) serverQuantity(productID int64) int {
	for _, it := range h.srv.Cart().Items {
		if it.ProductID == productID {
			return it.Quantity
		}
	}
	return 0
}

func TestCartAPI_ClearCancelsPendingQuantity(t *testing.T) {
	h := newAPIHarness(t)
	h.login(t)
	h.do(t, http.MethodPost, "/api/cart/items", map[string]any{"productId": 1, "quantity": 1})
	h.engine.Wait()

	h.do(t, http.MethodPut, "/api/cart/items/1", map[string]int{"quantity": 3})
	rec := h.do(t, http.MethodDelete, "/api/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 0, h.updater.Pending())
	h.updater.Close()
	h.engine.Wait()
	assert.Empty(t, h.srv.CallsFor("update"))
	assert.Empty(t, h.engine.Snapshot().Items)
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
