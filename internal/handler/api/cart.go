// Package api serves the local JSON API a UI uses to drive the cart.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/cartsync/internal/domain"
	"github.com/dukerupert/cartsync/internal/handler"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// CartEngine is the part of cart.Engine the handlers call.
type CartEngine interface {
	Snapshot() domain.CartAggregate
	AddLine(ctx context.Context, item domain.CartLineItem) error
	Remove(ctx context.Context, productID int64) error
	Clear(ctx context.Context) error
	ApplyCoupon(ctx context.Context, code string) error
}

// QuantityUpdater is the part of cart.Updater the handlers call.
type QuantityUpdater interface {
	Set(ctx context.Context, productID int64, quantity int) error
	Increment(ctx context.Context, productID int64) error
	Decrement(ctx context.Context, productID int64) error
	Cancel(productID int64)
	CancelAll()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// CartHandler serves the cart endpoints.
type CartHandler struct {
	engine  CartEngine
	updater QuantityUpdater
	logger  *slog.Logger
}

// NewCartHandler creates a cart handler.
func NewCartHandler(engine CartEngine, updater QuantityUpdater, logger *slog.Logger) *CartHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CartHandler{
		engine:  engine,
		updater: updater,
		logger:  logger,
	}
}

// =============================================================================
// RESPONSE SHAPE
// =============================================================================

type lineResponse struct {
	ProductID   int64           `json:"productId"`
	DisplayName string          `json:"displayName"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
	ImageURL    string          `json:"imageUrl,omitempty"`
}

// CartResponse is the JSON body returned by every cart endpoint.
type CartResponse struct {
	Items     []lineResponse  `json:"items"`
	ItemCount int             `json:"itemCount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
	Coupon    *string         `json:"coupon"`
}

// NewCartResponse renders c for the API.
func NewCartResponse(c domain.CartAggregate) CartResponse {
	resp := CartResponse{
		Items:     make([]lineResponse, 0, len(c.Items)),
		ItemCount: c.ItemCount(),
		Subtotal:  c.Subtotal,
		Discount:  c.Discount,
		Total:     c.Total,
		Coupon:    c.Coupon,
	}
	for _, it := range c.Items {
		resp.Items = append(resp.Items, lineResponse{
			ProductID:   it.ProductID,
			DisplayName: it.DisplayName,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			LineTotal:   it.LineTotal(),
			ImageURL:    it.ImageURL,
		})
	}
	return resp
}

func (h *CartHandler) writeCart(w http.ResponseWriter, status int) {
	handler.JSON(w, status, NewCartResponse(h.engine.Snapshot()))
}

// =============================================================================
// ENDPOINTS
// =============================================================================

// Get handles GET /api/cart
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.writeCart(w, http.StatusOK)
}

type addItemRequest struct {
	ProductID   int64            `json:"productId" validate:"gt=0"`
	Quantity    int              `json:"quantity" validate:"gte=0"`
	DisplayName string           `json:"displayName" validate:"max=200"`
	UnitPrice   *decimal.Decimal `json:"unitPrice"`
	ImageURL    string           `json:"imageUrl" validate:"omitempty,url"`
}

// AddItem handles POST /api/cart/items
//
// Display fields are optional hints for guest carts; the server's values
// replace them once a user is logged in.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		handler.ErrorResponse(w, r, domain.Invalid("cart.add", "Invalid item"))
		return
	}

	item := domain.CartLineItem{
		ProductID:   req.ProductID,
		Quantity:    req.Quantity,
		DisplayName: req.DisplayName,
		ImageURL:    req.ImageURL,
	}
	if req.UnitPrice != nil {
		item.UnitPrice = *req.UnitPrice
	}

	if err := h.engine.AddLine(r.Context(), item); err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}
	h.writeCart(w, http.StatusOK)
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// SetQuantity handles PUT /api/cart/items/{id}
//
// The change is shown at once and sent upstream after the quiet period, so
// the response is 202 with the optimistic cart. A quantity below one is
// rejected: removal has its own endpoint.
func (h *CartHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}

	var req setQuantityRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if req.Quantity < 1 {
		handler.ErrorResponse(w, r, domain.ErrInvalidQuantity)
		return
	}

	if err := h.updater.Set(r.Context(), productID, req.Quantity); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	h.writeCart(w, http.StatusAccepted)
}

// Increment handles POST /api/cart/items/{id}/increment
func (h *CartHandler) Increment(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, h.updater.Increment)
}

// Decrement handles POST /api/cart/items/{id}/decrement
//
// Decrementing a quantity of one leaves it at one.
func (h *CartHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, h.updater.Decrement)
}

func (h *CartHandler) step(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) error) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), productID); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	h.writeCart(w, http.StatusAccepted)
}

// RemoveItem handles DELETE /api/cart/items/{id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}

	h.updater.Cancel(productID)
	if err := h.engine.Remove(r.Context(), productID); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	h.writeCart(w, http.StatusOK)
}

// Clear handles DELETE /api/cart
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.updater.CancelAll()
	if err := h.engine.Clear(r.Context()); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	h.writeCart(w, http.StatusOK)
}

type couponRequest struct {
	Code string `json:"code"`
}

// ApplyCoupon handles POST /api/cart/coupon
func (h *CartHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	if err := h.engine.ApplyCoupon(r.Context(), req.Code); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	h.writeCart(w, http.StatusOK)
}

func (h *CartHandler) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		handler.ErrorResponse(w, r, domain.ErrInvalidProduct)
		return 0, false
	}
	return id, true
}
