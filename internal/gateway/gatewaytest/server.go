// Package gatewaytest provides an in-process cart API for tests.
package gatewaytest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/dukerupert/cartsync/internal/domain"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// Call is one request received by the fake server.
type Call struct {
	Op        string
	ProductID int64
	Quantity  int
	Code      string
	Token     string
	RequestID string
}

type failure struct {
	status int
	body   string
}

// Server is a fake cart API backed by echo. It keeps one cart, records every
// call and can be told to fail specific operations.
type Server struct {
	*httptest.Server

	// RequireAuth rejects requests without a bearer token with 401.
	RequireAuth bool

	mu       sync.Mutex
	hook     func(op string)
	items    []domain.ServerCartItem
	coupon   *string
	catalog  map[int64]domain.ServerCartItem
	coupons  map[string]decimal.Decimal
	calls    []Call
	failures map[string][]failure
}

// New starts a fake cart API. Callers must Close it.
func New() *Server {
	s := &Server{
		catalog:  make(map[int64]domain.ServerCartItem),
		coupons:  make(map[string]decimal.Decimal),
		failures: make(map[string][]failure),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/cart/", s.handle("get_cart", s.getCart))
	e.POST("/cart/add", s.handle("add", s.add))
	e.PUT("/cart/update", s.handle("update", s.update))
	e.DELETE("/cart/remove/:id", s.handle("remove", s.remove))
	e.DELETE("/cart/clear", s.handle("clear", s.clear))
	e.POST("/cart/apply-coupon", s.handle("apply_coupon", s.applyCoupon))

	s.Server = httptest.NewServer(e)
	return s
}

// SetHook installs fn to run before each request is handled, outside the
// server lock. Tests use it to hold a request in flight.
func (s *Server) SetHook(fn func(op string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

// AddProduct registers a product the server knows the name and price of.
// Unknown products are priced at 10.00.
func (s *Server) AddProduct(id int64, name string, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[id] = domain.ServerCartItem{ProductID: id, Name: name, UnitPrice: decimal.RequireFromString(price)}
}

// AddCoupon registers a coupon worth percent off the subtotal.
func (s *Server) AddCoupon(code string, percent int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[code] = decimal.NewFromInt(percent)
}

// Seed sets the server cart contents. Only product IDs and quantities are
// read; names and prices come from the catalog.
func (s *Server) Seed(items ...domain.CartLineItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	for _, it := range items {
		s.items = append(s.items, s.line(it.ProductID, it.Quantity))
	}
}

// FailNext makes the next call to op return status with body.
// Calls queue up; each one is consumed once.
func (s *Server) FailNext(op string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], failure{status: status, body: body})
}

// Calls returns every call received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsFor returns the calls received for op.
func (s *Server) CallsFor(op string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Ops returns the op names of every call, in order.
func (s *Server) Ops() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op
	}
	return out
}

// ResetCalls forgets recorded calls.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Cart returns the current server cart.
func (s *Server) Cart() domain.ServerCart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

type quantityBody struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type couponBody struct {
	Code string `json:"code"`
}

func (s *Server) handle(op string, fn func(echo.Context, *Call) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.mu.Lock()
		hook := s.hook
		s.mu.Unlock()
		if hook != nil {
			hook(op)
		}

		call := Call{
			Op:        op,
			Token:     strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer "),
			RequestID: c.Request().Header.Get("X-Request-ID"),
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		switch op {
		case "add", "update":
			var body quantityBody
			if err := c.Bind(&body); err != nil {
				return c.JSON(http.StatusUnprocessableEntity, map[string]any{
					"detail": []map[string]any{{"loc": []string{"body"}, "msg": "invalid body"}},
				})
			}
			call.ProductID, call.Quantity = body.ProductID, body.Quantity
		case "remove":
			call.ProductID, _ = strconv.ParseInt(c.Param("id"), 10, 64)
		case "apply_coupon":
			var body couponBody
			_ = c.Bind(&body)
			call.Code = body.Code
		}
		s.calls = append(s.calls, call)

		if s.RequireAuth && call.Token == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
		}
		if queued := s.failures[op]; len(queued) > 0 {
			f := queued[0]
			s.failures[op] = queued[1:]
			return c.Blob(f.status, echo.MIMEApplicationJSON, []byte(f.body))
		}

		return fn(c, &call)
	}
}

func (s *Server) getCart(c echo.Context, _ *Call) error {
	return c.JSON(http.StatusOK, s.snapshot())
}

func (s *Server) add(c echo.Context, call *Call) error {
	if call.Quantity < 1 {
		return validationFailure(c, "quantity", "ensure this value is greater than or equal to 1")
	}
	if idx := s.find(call.ProductID); idx >= 0 {
		s.items[idx] = s.line(call.ProductID, s.items[idx].Quantity+call.Quantity)
	} else {
		s.items = append(s.items, s.line(call.ProductID, call.Quantity))
	}
	return c.JSON(http.StatusOK, s.snapshot())
}

func (s *Server) update(c echo.Context, call *Call) error {
	if call.Quantity < 1 {
		return validationFailure(c, "quantity", "ensure this value is greater than or equal to 1")
	}
	idx := s.find(call.ProductID)
	if idx < 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "Item not in cart"})
	}
	s.items[idx] = s.line(call.ProductID, call.Quantity)
	return c.JSON(http.StatusOK, s.snapshot())
}

func (s *Server) remove(c echo.Context, call *Call) error {
	idx := s.find(call.ProductID)
	if idx < 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "Item not in cart"})
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	return c.JSON(http.StatusOK, s.snapshot())
}

func (s *Server) clear(c echo.Context, _ *Call) error {
	s.items = nil
	s.coupon = nil
	return c.JSON(http.StatusOK, s.snapshot())
}

func (s *Server) applyCoupon(c echo.Context, call *Call) error {
	if _, ok := s.coupons[call.Code]; !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "Invalid coupon code"})
	}
	code := call.Code
	s.coupon = &code
	return c.JSON(http.StatusOK, s.snapshot())
}

func validationFailure(c echo.Context, field, msg string) error {
	return c.JSON(http.StatusUnprocessableEntity, map[string]any{
		"detail": []map[string]any{{"loc": []string{"body", field}, "msg": msg, "type": "value_error"}},
	})
}

func (s *Server) find(id int64) int {
	for i, it := range s.items {
		if it.ProductID == id {
			return i
		}
	}
	return -1
}

func (s *Server) line(id int64, qty int) domain.ServerCartItem {
	item, ok := s.catalog[id]
	if !ok {
		item = domain.ServerCartItem{
			ProductID: id,
			Name:      fmt.Sprintf("Product %d", id),
			UnitPrice: decimal.RequireFromString("10.00"),
		}
	}
	item.Quantity = qty
	item.LineTotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(qty)))
	return item
}

func (s *Server) snapshot() domain.ServerCart {
	sc := domain.ServerCart{Items: make([]domain.ServerCartItem, len(s.items))}
	copy(sc.Items, s.items)

	for _, it := range s.items {
		sc.Subtotal = sc.Subtotal.Add(it.LineTotal)
	}
	if s.coupon != nil {
		pct := s.coupons[*s.coupon]
		sc.Discount = sc.Subtotal.Mul(pct).Div(decimal.NewFromInt(100)).Round(2)
		code := *s.coupon
		sc.Coupon = &code
	}
	sc.Total = sc.Subtotal.Sub(sc.Discount)
	return sc
}
