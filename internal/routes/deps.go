package routes

import (
	"net/http"

	"github.com/dukerupert/cartsync/internal/handler/api"
	"github.com/dukerupert/cartsync/internal/middleware"
)

// APIDeps contains dependencies for the cart API routes
type APIDeps struct {
	// Cart (view, add, debounced quantity, remove, clear, coupon)
	CartHandler *api.CartHandler

	// Session (login, logout, current)
	SessionHandler *api.SessionHandler

	// RateLimiter throttles mutating requests per client IP. Optional.
	RateLimiter *middleware.RateLimiter

	// MaxBodySize caps request bodies. Zero uses middleware.DefaultMaxBodySize.
	MaxBodySize int64
}

// OpsDeps contains dependencies for operational routes
type OpsDeps struct {
	// Metrics serves the prometheus registry. Optional.
	Metrics http.Handler
}
