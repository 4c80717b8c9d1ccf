package cart

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/cartsync/internal/domain"
)

// DefaultQuietPeriod is how long the Updater waits after the last change to a
// product before sending it.
const DefaultQuietPeriod = 500 * time.Millisecond

// ErrUpdaterClosed is returned for intents received after Close.
var ErrUpdaterClosed = &domain.Error{Code: domain.EUNAVAILABLE, Message: "Cart is shutting down"}

// Timer is a pending call that can be stopped.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// UpdaterOption configures an Updater.
type UpdaterOption func(*Updater)

// WithQuietPeriod sets the debounce window.
func WithQuietPeriod(d time.Duration) UpdaterOption {
	return func(u *Updater) {
		if d > 0 {
			u.quiet = d
		}
	}
}

// WithAfterFunc replaces the timer source.
func WithAfterFunc(fn AfterFunc) UpdaterOption {
	return func(u *Updater) { u.after = fn }
}

// WithLogger sets the logger used for failed flushes.
func WithLogger(logger *slog.Logger) UpdaterOption {
	return func(u *Updater) { u.logger = logger }
}

// Updater coalesces rapid quantity changes per product into one engine
// update. Every change is shown in memory at once; the server only sees the
// last quantity once the product has been quiet for the quiet period.
type Updater struct {
	engine *Engine
	quiet  time.Duration
	after  AfterFunc
	logger *slog.Logger

	mu      sync.Mutex
	pending map[int64]*pendingUpdate
	closed  bool
	seq     uint64
	flushes sync.WaitGroup
}

type pendingUpdate struct {
	quantity int
	seq      uint64
	timer    Timer
	// rollback is the cart before the first change of the burst.
	rollback domain.CartAggregate
}

// NewUpdater creates an Updater writing through engine.
func NewUpdater(engine *Engine, opts ...UpdaterOption) *Updater {
	u := &Updater{
		engine:  engine,
		quiet:   DefaultQuietPeriod,
		after:   realAfterFunc,
		logger:  engine.logger,
		pending: make(map[int64]*pendingUpdate),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Set requests quantity for productID. Quantities below one are raised to one.
func (u *Updater) Set(ctx context.Context, productID int64, quantity int) error {
	u.engine.metrics.DebounceIntents.WithLabelValues("set").Inc()
	return u.change(ctx, productID, func(int) int { return quantity })
}

// Increment requests one more of productID than is currently shown.
func (u *Updater) Increment(ctx context.Context, productID int64) error {
	u.engine.metrics.DebounceIntents.WithLabelValues("increment").Inc()
	return u.change(ctx, productID, func(cur int) int { return cur + 1 })
}

// Decrement requests one less of productID than is currently shown, never
// less than one.
func (u *Updater) Decrement(ctx context.Context, productID int64) error {
	u.engine.metrics.DebounceIntents.WithLabelValues("decrement").Inc()
	return u.change(ctx, productID, func(cur int) int { return cur - 1 })
}

func (u *Updater) change(ctx context.Context, productID int64, next func(current int) int) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return ErrUpdaterClosed
	}

	before := u.engine.store.Snapshot()
	idx := before.Find(productID)
	if idx < 0 {
		return domain.ErrCartItemNotFound
	}
	quantity := max(1, next(before.Items[idx].Quantity))

	u.engine.showQuantity(ctx, productID, quantity)

	p, ok := u.pending[productID]
	if ok {
		p.timer.Stop()
	} else {
		p = &pendingUpdate{rollback: before}
		u.pending[productID] = p
	}
	u.seq++
	p.seq = u.seq
	p.quantity = quantity

	seq := p.seq
	flushCtx := context.WithoutCancel(ctx)
	p.timer = u.after(u.quiet, func() { u.fire(flushCtx, productID, seq) })
	return nil
}

// fire sends the pending quantity for productID if seq is still current.
func (u *Updater) fire(ctx context.Context, productID int64, seq uint64) {
	u.mu.Lock()
	p, ok := u.pending[productID]
	if !ok || p.seq != seq || u.closed {
		u.mu.Unlock()
		return
	}
	delete(u.pending, productID)
	u.flushes.Add(1)
	u.mu.Unlock()
	defer u.flushes.Done()

	err := u.engine.flushQuantity(ctx, productID, p.quantity, &p.rollback)
	if err != nil {
		u.engine.metrics.DebounceFlushes.WithLabelValues("error").Inc()
		u.logger.Warn("debounced quantity update failed",
			"product_id", productID,
			"quantity", p.quantity,
			"error", err,
		)
		return
	}
	u.engine.metrics.DebounceFlushes.WithLabelValues("ok").Inc()
}

// Cancel drops the pending update for productID without sending it.
// The quantity already shown in memory is left as is.
func (u *Updater) Cancel(productID int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if p, ok := u.pending[productID]; ok {
		p.timer.Stop()
		delete(u.pending, productID)
		u.engine.metrics.DebounceFlushes.WithLabelValues("canceled").Inc()
	}
}

// CancelAll drops every pending update. Clearing the cart calls it so no
// late flush can restore a pre-clear snapshot.
func (u *Updater) CancelAll() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for id, p := range u.pending {
		p.timer.Stop()
		delete(u.pending, id)
		u.engine.metrics.DebounceFlushes.WithLabelValues("canceled").Inc()
	}
}

// Pending returns the number of products with an unsent update.
func (u *Updater) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending)
}

// Close stops every pending timer without sending, rejects further intents
// and waits for flushes already under way.
func (u *Updater) Close() {
	u.mu.Lock()
	u.closed = true
	for id, p := range u.pending {
		p.timer.Stop()
		delete(u.pending, id)
	}
	u.mu.Unlock()

	u.flushes.Wait()
}

// showQuantity applies quantity to memory at once. Guest carts are saved
// immediately too, so a reload mid-burst keeps the latest value.
func (e *Engine) showQuantity(ctx context.Context, productID int64, quantity int) {
	if e.session.Current() == nil {
		guestMode{e: e}.mutate(ctx, func(c *domain.CartAggregate) { setQuantity(c, productID, quantity) })
		return
	}
	e.store.Update(func(c *domain.CartAggregate) { setQuantity(c, productID, quantity) })
}

// flushQuantity is UpdateQuantity with an explicit rollback target.
func (e *Engine) flushQuantity(ctx context.Context, productID int64, quantity int, rollback *domain.CartAggregate) error {
	const op = "update_quantity"
	m := e.mode()
	err := m.updateQuantity(ctx, productID, quantity, rollback)
	e.metrics.ObserveOperation(op, m.name(), err)
	return err
}
