package cart

import (
	"context"
	"slices"

	"github.com/dukerupert/cartsync/internal/domain"
	"github.com/dukerupert/cartsync/internal/session"
)

// mode is the set of cart operations as they behave for one kind of session.
// Every public engine operation resolves its mode first, per call.
type mode interface {
	name() string
	add(ctx context.Context, item domain.CartLineItem) error
	// updateQuantity sets quantity. A non-nil rollback replaces the
	// pre-operation snapshot as the restore target.
	updateQuantity(ctx context.Context, productID int64, quantity int, rollback *domain.CartAggregate) error
	remove(ctx context.Context, productID int64) error
	clear(ctx context.Context) error
	applyCoupon(ctx context.Context, code string) error
}

func (e *Engine) mode() mode {
	if u := e.session.Current(); u != nil {
		return authMode{e: e, user: *u}
	}
	return guestMode{e: e}
}

// =============================================================================
// IN-MEMORY MUTATIONS (shared by both modes)
// =============================================================================

func addLine(c *domain.CartAggregate, item domain.CartLineItem) {
	if idx := c.Find(item.ProductID); idx >= 0 {
		c.Items[idx].Quantity += item.Quantity
		return
	}
	c.Items = append(c.Items, item)
}

func setQuantity(c *domain.CartAggregate, productID int64, quantity int) {
	if idx := c.Find(productID); idx >= 0 {
		c.Items[idx].Quantity = max(1, quantity)
	}
}

func removeLine(c *domain.CartAggregate, productID int64) {
	c.Items = slices.DeleteFunc(c.Items, func(i domain.CartLineItem) bool {
		return i.ProductID == productID
	})
}

func clearLines(c *domain.CartAggregate) {
	*c = domain.NewGuestCart(nil)
}

// =============================================================================
// GUEST
// =============================================================================

// guestMode keeps the cart in memory and in guest storage only.
type guestMode struct {
	e *Engine
}

func (guestMode) name() string { return "guest" }

// mutate applies fn and saves the result while holding the guest lock.
func (g guestMode) mutate(ctx context.Context, fn func(*domain.CartAggregate)) {
	g.e.guestMu.Lock()
	defer g.e.guestMu.Unlock()
	next := g.e.store.Update(fn)
	g.e.guest.Save(ctx, next.Items)
}

func (g guestMode) add(ctx context.Context, item domain.CartLineItem) error {
	g.mutate(ctx, func(c *domain.CartAggregate) { addLine(c, item) })
	return nil
}

func (g guestMode) updateQuantity(ctx context.Context, productID int64, quantity int, _ *domain.CartAggregate) error {
	if g.e.store.Snapshot().Find(productID) < 0 {
		return domain.ErrCartItemNotFound
	}
	g.mutate(ctx, func(c *domain.CartAggregate) { setQuantity(c, productID, quantity) })
	return nil
}

func (g guestMode) remove(ctx context.Context, productID int64) error {
	g.mutate(ctx, func(c *domain.CartAggregate) { removeLine(c, productID) })
	return nil
}

func (g guestMode) clear(ctx context.Context) error {
	g.e.guestMu.Lock()
	defer g.e.guestMu.Unlock()
	g.e.store.Update(clearLines)
	g.e.guest.Clear(ctx)
	return nil
}

func (guestMode) applyCoupon(context.Context, string) error {
	return domain.ErrLoginRequired
}

// =============================================================================
// AUTHENTICATED
// =============================================================================

// authMode treats the server as the owner of the cart.
type authMode struct {
	e    *Engine
	user session.User
}

func (authMode) name() string { return "authenticated" }

type remoteCall func(ctx context.Context) (*domain.CartAggregate, error)

// optimistic applies change to memory, calls remote and then either replaces
// the cart with the server's answer or restores the snapshot taken before
// change. A background refetch follows either way. If the session ended or
// switched users while remote was in flight, memory is left alone.
func (a authMode) optimistic(ctx context.Context, op string, rollback *domain.CartAggregate, change func(*domain.CartAggregate), remote remoteCall) error {
	e := a.e
	snapshot := e.store.Snapshot()
	if rollback != nil {
		snapshot = rollback.Clone()
	}

	e.store.Update(change)
	server, err := remote(ctx)
	defer e.scheduleResync(ctx, a.user.ID)

	if err != nil {
		if e.replaceFor(a.user.ID, snapshot) {
			e.metrics.Rollbacks.WithLabelValues(op).Inc()
			e.logger.Warn("cart change rolled back",
				"op", op,
				"user_id", a.user.ID,
				"error", err,
			)
		} else {
			e.logger.Info("cart change failed after session changed", "op", op, "user_id", a.user.ID, "error", err)
		}
		return userFacing(op, err)
	}

	if !e.replaceFor(a.user.ID, *server) {
		e.logger.Info("server cart discarded after session changed", "op", op, "user_id", a.user.ID)
	}
	return nil
}

func (a authMode) add(ctx context.Context, item domain.CartLineItem) error {
	return a.optimistic(ctx, "add", nil,
		func(c *domain.CartAggregate) { addLine(c, item) },
		func(ctx context.Context) (*domain.CartAggregate, error) {
			return a.e.gateway.AddToCart(ctx, item.ProductID, item.Quantity)
		},
	)
}

func (a authMode) updateQuantity(ctx context.Context, productID int64, quantity int, rollback *domain.CartAggregate) error {
	return a.optimistic(ctx, "update_quantity", rollback,
		func(c *domain.CartAggregate) { setQuantity(c, productID, quantity) },
		func(ctx context.Context) (*domain.CartAggregate, error) {
			return a.e.gateway.UpdateQuantity(ctx, productID, quantity)
		},
	)
}

func (a authMode) remove(ctx context.Context, productID int64) error {
	return a.optimistic(ctx, "remove", nil,
		func(c *domain.CartAggregate) { removeLine(c, productID) },
		func(ctx context.Context) (*domain.CartAggregate, error) {
			return a.e.gateway.RemoveItem(ctx, productID)
		},
	)
}

func (a authMode) clear(ctx context.Context) error {
	return a.optimistic(ctx, "clear", nil,
		clearLines,
		func(ctx context.Context) (*domain.CartAggregate, error) {
			return a.e.gateway.ClearCart(ctx)
		},
	)
}

// applyCoupon has no optimistic step: discounts are computed by the server.
func (a authMode) applyCoupon(ctx context.Context, code string) error {
	e := a.e
	server, err := e.gateway.ApplyCoupon(ctx, code)
	if err != nil {
		e.logger.Info("coupon rejected", "user_id", a.user.ID, "error", err)
		return userFacing("apply_coupon", err)
	}
	if !e.replaceFor(a.user.ID, *server) {
		e.logger.Info("server cart discarded after session changed", "op", "apply_coupon", "user_id", a.user.ID)
	}
	return nil
}
