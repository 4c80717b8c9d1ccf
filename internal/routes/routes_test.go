package routes

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/cartsync/internal/cart"
	"github.com/dukerupert/cartsync/internal/domain"
	"github.com/dukerupert/cartsync/internal/gateway"
	"github.com/dukerupert/cartsync/internal/gateway/gatewaytest"
	"github.com/dukerupert/cartsync/internal/guestcart"
	"github.com/dukerupert/cartsync/internal/handler/api"
	"github.com/dukerupert/cartsync/internal/middleware"
	"github.com/dukerupert/cartsync/internal/router"
	"github.com/dukerupert/cartsync/internal/session"
	"github.com/dukerupert/cartsync/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, limiter *middleware.RateLimiter) *router.Router {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := gatewaytest.New()
	t.Cleanup(srv.Close)
	signal := session.NewSignal(nil)
	client := gateway.New(gateway.Config{BaseURL: srv.URL, Timeout: time.Second}, signal.Token, nil, logger)
	guest := guestcart.New(storage.NewMemoryStorage(), logger)

	engine := cart.NewEngine(ctx, cart.NewStore(domain.NewGuestCart(nil)), guest, client, signal, logger, nil, cart.Options{})
	engine.Start(ctx)
	updater := cart.NewUpdater(engine)
	t.Cleanup(func() {
		updater.Close()
		engine.Close()
	})

	r := router.New(router.CORS([]string{"http://localhost:5173"}))
	RegisterAPIRoutes(r, APIDeps{
		CartHandler:    api.NewCartHandler(engine, updater, logger),
		SessionHandler: api.NewSessionHandler(signal, engine, engine.Wait, logger),
		RateLimiter:    limiter,
		MaxBodySize:    128,
	})
	RegisterOpsRoutes(r, OpsDeps{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "# metrics")
		}),
	})
	return r
}

func TestRegisterAPIRoutes(t *testing.T) {
	r := newTestRouter(t, nil)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/api/cart", "", http.StatusOK},
		{http.MethodPost, "/api/cart/items", `{"productId":7,"quantity":1}`, http.StatusOK},
		{http.MethodPut, "/api/cart/items/7", `{"quantity":3}`, http.StatusAccepted},
		{http.MethodPost, "/api/cart/items/7/increment", "", http.StatusAccepted},
		{http.MethodPost, "/api/cart/items/7/decrement", "", http.StatusAccepted},
		{http.MethodDelete, "/api/cart/items/7", "", http.StatusOK},
		{http.MethodDelete, "/api/cart", "", http.StatusOK},
		{http.MethodGet, "/api/session", "", http.StatusOK},
		{http.MethodPost, "/api/session/logout", "", http.StatusOK},
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPatch, "/api/cart", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRegisterAPIRoutes_Headers(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cart", nil))

	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRegisterAPIRoutes_Preflight(t *testing.T) {
	r := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/cart/items/7", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRegisterAPIRoutes_BodyLimit(t *testing.T) {
	r := newTestRouter(t, nil)

	body := `{"code":"` + strings.Repeat("x", 256) + `"}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cart/coupon", strings.NewReader(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRegisterAPIRoutes_RateLimitsMutationsOnly(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: 0.001,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	t.Cleanup(limiter.Stop)
	r := newTestRouter(t, limiter)

	post := func() int {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/logout", nil))
		return rec.Code
	}
	require.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cart", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
