package routes

import (
	"github.com/dukerupert/cartsync/internal/handler/api"
	"github.com/dukerupert/cartsync/internal/middleware"
	"github.com/dukerupert/cartsync/internal/router"
)

// RegisterAPIRoutes registers the JSON cart and session API.
// Reads are not rate limited; mutations are.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	g := r.Group(middleware.APIHeaders)

	mutating := []router.Middleware{}
	if deps.MaxBodySize > 0 {
		mutating = append(mutating, middleware.MaxBodySize(deps.MaxBodySize))
	} else {
		mutating = append(mutating, middleware.MaxBodySize())
	}
	if deps.RateLimiter != nil {
		mutating = append(mutating, deps.RateLimiter.Middleware)
	}
	w := g.Group(mutating...)

	// Cart
	g.Get("/api/cart", deps.CartHandler.Get)
	w.Post("/api/cart/items", deps.CartHandler.AddItem)
	w.Put("/api/cart/items/{id}", deps.CartHandler.SetQuantity)
	w.Post("/api/cart/items/{id}/increment", deps.CartHandler.Increment)
	w.Post("/api/cart/items/{id}/decrement", deps.CartHandler.Decrement)
	w.Delete("/api/cart/items/{id}", deps.CartHandler.RemoveItem)
	w.Delete("/api/cart", deps.CartHandler.Clear)
	w.Post("/api/cart/coupon", deps.CartHandler.ApplyCoupon)

	// Session
	g.Get("/api/session", deps.SessionHandler.Current)
	w.Post("/api/session/login", deps.SessionHandler.Login)
	w.Post("/api/session/logout", deps.SessionHandler.Logout)

	// CORS preflight
	for _, pattern := range []string{
		"/api/cart",
		"/api/cart/items",
		"/api/cart/items/{id}",
		"/api/cart/items/{id}/increment",
		"/api/cart/items/{id}/decrement",
		"/api/cart/coupon",
		"/api/session",
		"/api/session/login",
		"/api/session/logout",
	} {
		r.Options(pattern)
	}
}

// RegisterOpsRoutes registers health and metrics endpoints.
func RegisterOpsRoutes(r *router.Router, deps OpsDeps) {
	r.Get("/health", api.Health)
	if deps.Metrics != nil {
		r.Handle("GET", "/metrics", deps.Metrics)
	}
}
