// Package cart keeps the in-memory cart consistent with local guest storage
// and the remote cart API.
//
// A session with no user is a guest cart: every change is applied in memory
// and saved locally, and nothing touches the network. With a user the server
// owns the cart: changes are applied optimistically, sent to the API, then
// replaced by the server's answer or rolled back, and always followed by a
// background refetch. The guest cart is pushed to the server once when a
// user logs in.
package cart

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dukerupert/cartsync/internal/domain"
	"github.com/dukerupert/cartsync/internal/session"
	"github.com/dukerupert/cartsync/internal/telemetry"
)

// Gateway is the remote cart API.
type Gateway interface {
	GetCart(ctx context.Context) (*domain.CartAggregate, error)
	AddToCart(ctx context.Context, productID int64, quantity int) (*domain.CartAggregate, error)
	UpdateQuantity(ctx context.Context, productID int64, quantity int) (*domain.CartAggregate, error)
	RemoveItem(ctx context.Context, productID int64) (*domain.CartAggregate, error)
	ClearCart(ctx context.Context) (*domain.CartAggregate, error)
	ApplyCoupon(ctx context.Context, code string) (*domain.CartAggregate, error)
}

// GuestStorage persists the guest cart. Implementations fail open.
type GuestStorage interface {
	Load(ctx context.Context) []domain.CartLineItem
	Save(ctx context.Context, items []domain.CartLineItem)
	Clear(ctx context.Context)
}

// Session is the observable authentication state.
type Session interface {
	Current() *session.User
	Subscribe(fn session.Listener) (unsubscribe func())
}

// Options tunes engine behaviour.
type Options struct {
	// Catalog enriches lines added in guest mode with name, price and image.
	Catalog Catalog

	// ClearOnLogout empties the in-memory cart and the guest cart when the
	// session ends. By default the last known cart stays in place.
	ClearOnLogout bool

	// OnMerge receives the outcome of every merge-on-login.
	OnMerge func(MergeReport)
}

// Engine is the single writer of the cart state besides the Updater.
type Engine struct {
	store   *Store
	guest   GuestStorage
	gateway Gateway
	session Session
	logger  *slog.Logger
	metrics *telemetry.CartMetrics
	opts    Options

	// guestMu serializes guest mutations with their save so storage never
	// holds an older cart than memory.
	guestMu sync.Mutex

	// mergeMu serializes merges so a quick logout/login cannot push the same
	// guest items twice.
	mergeMu sync.Mutex

	mu          sync.Mutex
	started     bool
	closed      bool
	unsubscribe func()
	bg          sync.WaitGroup
}

// NewEngine creates an engine and hydrates store from guest storage when no
// user is logged in.
func NewEngine(
	ctx context.Context,
	store *Store,
	guest GuestStorage,
	gateway Gateway,
	sess Session,
	logger *slog.Logger,
	metrics *telemetry.CartMetrics,
	opts Options,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = telemetry.NewNopCartMetrics()
	}
	e := &Engine{
		store:   store,
		guest:   guest,
		gateway: gateway,
		session: sess,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
	}

	if sess.Current() == nil {
		store.Replace(domain.NewGuestCart(guest.Load(ctx)))
	}
	metrics.CartLines.Set(float64(len(store.Snapshot().Items)))
	store.Subscribe(func(c domain.CartAggregate) {
		metrics.CartLines.Set(float64(len(c.Items)))
	})

	return e
}

// Store returns the state container the engine writes to.
func (e *Engine) Store() *Store {
	return e.store
}

// Snapshot returns a copy of the current cart.
func (e *Engine) Snapshot() domain.CartAggregate {
	return e.store.Snapshot()
}

// Start registers the session subscription. If a user is already logged in
// the server cart is fetched in the background. Calling Start twice is a
// no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started || e.closed {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.unsubscribe = e.session.Subscribe(e.onSessionChange)
	e.mu.Unlock()

	if u := e.session.Current(); u != nil {
		e.scheduleResync(ctx, u.ID)
	}
}

// Close removes the session subscription and waits for background work.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	e.mu.Unlock()

	e.bg.Wait()
}

// Wait blocks until in-flight background refetches and merges finish.
func (e *Engine) Wait() {
	e.bg.Wait()
}

// Add adds quantity of productID. A zero quantity means one.
func (e *Engine) Add(ctx context.Context, productID int64, quantity int) error {
	line := domain.CartLineItem{ProductID: productID, Quantity: quantity}
	if e.opts.Catalog != nil {
		if known, ok := e.opts.Catalog.Lookup(productID); ok {
			line.DisplayName = known.DisplayName
			line.UnitPrice = known.UnitPrice
			line.ImageURL = known.ImageURL
		}
	}
	return e.AddLine(ctx, line)
}

// AddLine adds item, using its display fields when the product is not in the
// cart yet. A zero quantity means one.
func (e *Engine) AddLine(ctx context.Context, item domain.CartLineItem) error {
	const op = "add"
	if item.Quantity == 0 {
		item.Quantity = 1
	}
	if item.ProductID <= 0 {
		return e.reject(op, domain.ErrInvalidProduct)
	}
	if item.Quantity < 0 {
		return e.reject(op, domain.ErrInvalidQuantity)
	}
	if err := domain.ValidateLineItem(item); err != nil {
		return e.reject(op, err)
	}

	m := e.mode()
	err := m.add(ctx, item)
	e.metrics.ObserveOperation(op, m.name(), err)
	return err
}

// UpdateQuantity sets the absolute quantity of productID. Quantities below
// one are rejected; reaching zero is a Remove.
func (e *Engine) UpdateQuantity(ctx context.Context, productID int64, quantity int) error {
	const op = "update_quantity"
	if productID <= 0 {
		return e.reject(op, domain.ErrInvalidProduct)
	}
	if quantity < 1 {
		return e.reject(op, domain.ErrInvalidQuantity)
	}

	m := e.mode()
	err := m.updateQuantity(ctx, productID, quantity, nil)
	e.metrics.ObserveOperation(op, m.name(), err)
	return err
}

// Increment raises the quantity of productID by one.
func (e *Engine) Increment(ctx context.Context, productID int64) error {
	return e.step(ctx, productID, 1)
}

// Decrement lowers the quantity of productID by one, never below one.
func (e *Engine) Decrement(ctx context.Context, productID int64) error {
	return e.step(ctx, productID, -1)
}

func (e *Engine) step(ctx context.Context, productID int64, delta int) error {
	current := e.store.Snapshot()
	idx := current.Find(productID)
	if idx < 0 {
		return e.reject("update_quantity", domain.ErrCartItemNotFound)
	}
	return e.UpdateQuantity(ctx, productID, max(1, current.Items[idx].Quantity+delta))
}

// Remove deletes the line for productID.
func (e *Engine) Remove(ctx context.Context, productID int64) error {
	const op = "remove"
	if productID <= 0 {
		return e.reject(op, domain.ErrInvalidProduct)
	}

	m := e.mode()
	err := m.remove(ctx, productID)
	e.metrics.ObserveOperation(op, m.name(), err)
	return err
}

// Clear empties the cart.
func (e *Engine) Clear(ctx context.Context) error {
	const op = "clear"
	m := e.mode()
	err := m.clear(ctx)
	e.metrics.ObserveOperation(op, m.name(), err)
	return err
}

// ApplyCoupon asks the server to apply code. Guests get ErrLoginRequired
// without any network call.
func (e *Engine) ApplyCoupon(ctx context.Context, code string) error {
	const op = "apply_coupon"
	if code == "" {
		return e.reject(op, domain.ErrCouponRequired)
	}

	m := e.mode()
	err := m.applyCoupon(ctx, code)
	e.metrics.ObserveOperation(op, m.name(), err)
	return err
}

func (e *Engine) reject(op string, err error) error {
	e.metrics.ObserveOperation(op, "rejected", err)
	return err
}

// =============================================================================
// SESSION TRANSITIONS
// =============================================================================

func (e *Engine) onSessionChange(prev, next *session.User) {
	switch {
	case prev == nil && next != nil:
		e.spawn(func() { e.merge(context.Background(), *next) })

	case prev != nil && next == nil:
		e.logger.Info("session ended", "user_id", prev.ID, "clear_cart", e.opts.ClearOnLogout)
		if e.opts.ClearOnLogout {
			e.guestMu.Lock()
			e.store.Replace(domain.NewGuestCart(nil))
			e.guest.Clear(context.Background())
			e.guestMu.Unlock()
		}

	case prev != nil && next != nil:
		// A different user without an intermediate logout: adopt their cart.
		e.logger.Info("session switched user", "from", prev.ID, "to", next.ID)
		e.scheduleResync(context.Background(), next.ID)
	}
}

// stillUser reports whether userID is still the logged-in user.
func (e *Engine) stillUser(userID string) bool {
	u := e.session.Current()
	return u != nil && u.ID == userID
}

// replaceFor replaces the cart with c only while userID is still logged in.
// It holds guestMu so a concurrent logout either sees the write and clears
// it, or has already ended the session and the write is dropped.
func (e *Engine) replaceFor(userID string, c domain.CartAggregate) bool {
	e.guestMu.Lock()
	defer e.guestMu.Unlock()
	if !e.stillUser(userID) {
		return false
	}
	e.store.Replace(c)
	return true
}

// spawn runs fn in the background unless the engine is closed.
func (e *Engine) spawn(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.bg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.bg.Done()
		fn()
	}()
}

// scheduleResync refetches the server cart in the background and replaces the
// in-memory cart with it. The last refetch to finish wins. A result arriving
// after the user changed is discarded.
func (e *Engine) scheduleResync(ctx context.Context, userID string) {
	ctx = context.WithoutCancel(ctx)
	e.spawn(func() {
		server, err := e.gateway.GetCart(ctx)
		if err != nil {
			e.metrics.Resyncs.WithLabelValues("error").Inc()
			e.logger.Warn("background cart refetch failed", "user_id", userID, "error", err)
			return
		}
		if !e.replaceFor(userID, *server) {
			e.metrics.Resyncs.WithLabelValues("discarded").Inc()
			return
		}
		e.metrics.Resyncs.WithLabelValues("ok").Inc()
	})
}

// =============================================================================
// USER-FACING FAILURES
// =============================================================================

var fallbackMessages = map[string]string{
	"add":             "Failed to add item to cart",
	"update_quantity": "Failed to update quantity",
	"remove":          "Failed to remove item from cart",
	"clear":           "Failed to clear cart",
	"apply_coupon":    "Failed to apply coupon",
}

// userFacing wraps a gateway failure in a domain error whose message is the
// server's detail, or a generic message for op.
func userFacing(op string, err error) error {
	code := domain.ErrorCode(err)
	if code == domain.EINTERNAL {
		code = domain.EUNAVAILABLE
	}
	wrapped := &domain.Error{
		Code:    code,
		Op:      "cart." + op,
		Message: domain.MessageOr(err, fallbackMessages[op]),
		Err:     err,
	}
	if op == "update_quantity" {
		return &silentError{err: wrapped}
	}
	return wrapped
}

// silentError marks a failure the user should not be notified about.
type silentError struct {
	err error
}

func (e *silentError) Error() string { return e.err.Error() }
func (e *silentError) Unwrap() error { return e.err }

// IsSilent reports whether err is a failure that was rolled back without a
// user-facing notification.
func IsSilent(err error) bool {
	var s *silentError
	return errors.As(err, &s)
}
