// Package guestcart persists the cart of a session with no authenticated user.
//
// The cart lives under one fixed key as a versioned JSON envelope. Every
// operation fails open: read problems yield an empty cart and write problems
// are logged and swallowed, so storage can never block the shopper.
package guestcart

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dukerupert/cartsync/internal/domain"
	"github.com/dukerupert/cartsync/internal/storage"
)

const (
	// Key is the storage key holding the guest cart.
	Key = "cart/guest-cart.json"

	// Version is the envelope version written by Save.
	Version = 1

	contentType = "application/json"
)

// envelope is the on-disk format. Version 0 is the legacy bare JSON array.
type envelope struct {
	Version int                   `json:"version"`
	Items   []domain.CartLineItem `json:"items"`
}

// Store is the local persistence adapter for the guest cart.
type Store struct {
	backend storage.Storage
	logger  *slog.Logger
}

// New creates a guest cart store on top of a storage backend.
func New(backend storage.Storage, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, logger: logger}
}

// Load returns the persisted guest cart, or an empty slice when nothing usable
// is stored. It never returns an error.
func (s *Store) Load(ctx context.Context) []domain.CartLineItem {
	rc, err := s.backend.Get(ctx, Key)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.logger.Warn("failed to read guest cart", "error", err)
		}
		return []domain.CartLineItem{}
	}
	defer rc.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(rc).Decode(&raw); err != nil {
		s.logger.Warn("guest cart is not valid JSON, ignoring", "error", err)
		return []domain.CartLineItem{}
	}

	items, err := decode(raw)
	if err != nil {
		s.logger.Warn("guest cart could not be decoded, ignoring", "error", err)
		return []domain.CartLineItem{}
	}

	return s.sanitize(items)
}

// Save replaces the persisted guest cart. Errors are logged, not returned.
func (s *Store) Save(ctx context.Context, items []domain.CartLineItem) {
	if items == nil {
		items = []domain.CartLineItem{}
	}
	b, err := json.Marshal(envelope{Version: Version, Items: items})
	if err != nil {
		s.logger.Error("failed to encode guest cart", "error", err)
		return
	}
	if err := s.backend.Put(ctx, Key, bytes.NewReader(b), contentType); err != nil {
		s.logger.Error("failed to save guest cart", "error", err, "items", len(items))
	}
}

// Clear removes the persisted guest cart. Errors are logged, not returned.
func (s *Store) Clear(ctx context.Context) {
	if err := s.backend.Delete(ctx, Key); err != nil {
		s.logger.Error("failed to clear guest cart", "error", err)
	}
}

// Exists reports whether a guest cart is currently persisted.
func (s *Store) Exists(ctx context.Context) bool {
	ok, err := s.backend.Exists(ctx, Key)
	if err != nil {
		s.logger.Warn("failed to check guest cart", "error", err)
		return false
	}
	return ok
}

func decode(raw json.RawMessage) ([]domain.CartLineItem, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []domain.CartLineItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	if env.Version > Version {
		return nil, domain.Errorf(domain.EINVALID, "guestcart.load", "unsupported guest cart version %d", env.Version)
	}
	return env.Items, nil
}

// sanitize drops invalid lines and merges duplicate product IDs so the
// in-memory cart invariants hold no matter what was on disk.
func (s *Store) sanitize(items []domain.CartLineItem) []domain.CartLineItem {
	out := make([]domain.CartLineItem, 0, len(items))
	for _, item := range items {
		if err := domain.ValidateLineItem(item); err != nil {
			s.logger.Warn("dropping invalid guest cart line", "product_id", item.ProductID, "error", err)
			continue
		}
		merged := false
		for i := range out {
			if out[i].ProductID == item.ProductID {
				out[i].Quantity += item.Quantity
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, item)
		}
	}
	return out
}
