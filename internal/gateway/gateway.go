// Package gateway is a thin typed client for the cart REST API.
//
// Each method maps to one endpoint and returns the server cart mapped onto a
// domain.CartAggregate. There is no business logic and no retrying here.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/cartsync/internal/domain"
	"github.com/dukerupert/cartsync/internal/telemetry"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request ID to the cart API.
	RequestIDHeader = "X-Request-ID"

	maxBodyBytes = 1 << 20
)

// TokenSource returns the bearer token for the current session, or "".
type TokenSource func() string

// Config holds gateway configuration.
type Config struct {
	// BaseURL is the cart API root, without trailing slash.
	BaseURL string

	// Timeout bounds each request. Zero means 10 seconds.
	Timeout time.Duration

	// HTTPClient overrides the client used for requests.
	HTTPClient *http.Client
}

// Client calls the cart REST API.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	token   TokenSource
	metrics *telemetry.CartMetrics
	logger  *slog.Logger
}

// New creates a cart API client.
func New(cfg Config, token TokenSource, metrics *telemetry.CartMetrics, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Transport: &telemetry.HTTPTransport{}}
	}
	if token == nil {
		token = func() string { return "" }
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		token:   token,
		metrics: metrics,
		logger:  logger,
	}
}

type quantityRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type couponRequest struct {
	Code string `json:"code"`
}

// GetCart fetches the authoritative server cart.
func (c *Client) GetCart(ctx context.Context) (*domain.CartAggregate, error) {
	return c.do(ctx, "get_cart", http.MethodGet, "/cart/", nil)
}

// AddToCart adds quantity of productID to the server cart.
func (c *Client) AddToCart(ctx context.Context, productID int64, quantity int) (*domain.CartAggregate, error) {
	return c.do(ctx, "add", http.MethodPost, "/cart/add", quantityRequest{ProductID: productID, Quantity: quantity})
}

// UpdateQuantity sets the absolute quantity of productID.
func (c *Client) UpdateQuantity(ctx context.Context, productID int64, quantity int) (*domain.CartAggregate, error) {
	return c.do(ctx, "update", http.MethodPut, "/cart/update", quantityRequest{ProductID: productID, Quantity: quantity})
}

// RemoveItem removes productID from the server cart.
func (c *Client) RemoveItem(ctx context.Context, productID int64) (*domain.CartAggregate, error) {
	return c.do(ctx, "remove", http.MethodDelete, "/cart/remove/"+strconv.FormatInt(productID, 10), nil)
}

// ClearCart empties the server cart.
func (c *Client) ClearCart(ctx context.Context) (*domain.CartAggregate, error) {
	return c.do(ctx, "clear", http.MethodDelete, "/cart/clear", nil)
}

// ApplyCoupon asks the server to apply code. Rejections carry the server's
// reason in the returned error.
func (c *Client) ApplyCoupon(ctx context.Context, code string) (*domain.CartAggregate, error) {
	return c.do(ctx, "apply_coupon", http.MethodPost, "/cart/apply-coupon", couponRequest{Code: code})
}

func (c *Client) do(ctx context.Context, op, method, path string, body any) (*domain.CartAggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, domain.Internal(err, "cart_api."+op, "failed to encode request")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, domain.Internal(err, "cart_api."+op, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	requestID := domain.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	req.Header.Set(RequestIDHeader, requestID)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveGateway(op, 0, err, started)
		c.logger.Warn("cart api request failed", "op", op, "request_id", requestID, "error", err)
		failure := transportFailure(op, err)
		telemetry.CaptureErrorFromContext(ctx, failure, map[string]interface{}{"op": op, "request_id": requestID})
		return nil, failure
	}
	defer resp.Body.Close()
	c.metrics.ObserveGateway(op, resp.StatusCode, nil, started)

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportFailure(op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := extractDetail(payload)
		c.logger.Debug("cart api rejected request",
			"op", op,
			"status", resp.StatusCode,
			"detail", detail,
			"request_id", requestID,
		)
		failure := newFailure(op, resp.StatusCode, detail)
		if resp.StatusCode >= 500 {
			telemetry.CaptureErrorFromContext(ctx, failure, map[string]interface{}{"op": op, "status": resp.StatusCode, "request_id": requestID})
		}
		return nil, failure
	}

	var sc domain.ServerCart
	if err := json.Unmarshal(payload, &sc); err != nil {
		c.logger.Warn("cart api returned an unreadable cart", "op", op, "request_id", requestID, "error", err)
		return nil, transportFailure(op, fmt.Errorf("failed to decode cart: %w", err))
	}

	cart := domain.FromServer(sc)
	return &cart, nil
}
