package cart

import (
	"context"
	"fmt"

	"github.com/dukerupert/cartsync/internal/domain"
	"github.com/dukerupert/cartsync/internal/session"
)

// MergeReport describes one merge of the guest cart into a user's server cart.
type MergeReport struct {
	UserID    string
	Attempted []int64
	Restored  []int64
	Failed    []int64

	// Err is set when the server cart could not be fetched afterwards. The
	// guest lines that failed to push are kept in guest storage in that case.
	Err error
}

// Complete reports whether every guest line reached the server and the
// merged cart was fetched.
func (r MergeReport) Complete() bool {
	return r.Err == nil && len(r.Failed) == 0
}

// Summary is a short human-readable outcome, e.g. "3 of 4 items restored".
func (r MergeReport) Summary() string {
	if len(r.Attempted) == 0 {
		return "no guest items to restore"
	}
	return fmt.Sprintf("%d of %d items restored", len(r.Restored), len(r.Attempted))
}

// merge pushes the guest cart to the server one line at a time, in order,
// then adopts the server cart and clears guest storage. A failed line is
// logged and skipped.
func (e *Engine) merge(ctx context.Context, user session.User) {
	e.mergeMu.Lock()
	defer e.mergeMu.Unlock()

	logger := e.logger.With("user_id", user.ID)
	items := e.guest.Load(ctx)
	report := MergeReport{UserID: user.ID}

	var failed []domain.CartLineItem
	for _, item := range items {
		report.Attempted = append(report.Attempted, item.ProductID)
		if _, err := e.gateway.AddToCart(ctx, item.ProductID, item.Quantity); err != nil {
			logger.Warn("guest cart item could not be merged",
				"product_id", item.ProductID,
				"quantity", item.Quantity,
				"error", err,
			)
			report.Failed = append(report.Failed, item.ProductID)
			failed = append(failed, item)
			e.metrics.MergeItems.WithLabelValues("failed").Inc()
			continue
		}
		report.Restored = append(report.Restored, item.ProductID)
		e.metrics.MergeItems.WithLabelValues("restored").Inc()
	}

	server, err := e.gateway.GetCart(ctx)
	if err != nil {
		report.Err = err
		logger.Error("failed to fetch cart after merge", "error", err, "summary", report.Summary())
		if len(report.Restored) > 0 {
			// Lines already on the server must not be pushed again next login.
			if len(failed) > 0 {
				e.guest.Save(ctx, failed)
			} else {
				e.guest.Clear(ctx)
			}
		}
		e.metrics.Merges.WithLabelValues("fetch_failed").Inc()
		e.report(report)
		return
	}

	e.replaceFor(user.ID, *server)
	e.guest.Clear(ctx)

	outcome := "complete"
	if len(report.Failed) > 0 {
		outcome = "partial"
	}
	e.metrics.Merges.WithLabelValues(outcome).Inc()
	logger.Info("guest cart merged",
		"summary", report.Summary(),
		"failed", report.Failed,
	)
	e.report(report)
}

func (e *Engine) report(r MergeReport) {
	if e.opts.OnMerge != nil {
		e.opts.OnMerge(r)
	}
}
