package storage

import (
	"context"
	"io"

	"github.com/dukerupert/cartsync/internal"
)

// Storage defines the interface for small keyed blob storage.
// Implementations can use the local filesystem, memory, R2 or Postgres.
type Storage interface {
	// Put stores content under key, replacing any previous value.
	// The key should be a stable identifier (e.g., "cart/guest-cart.json").
	Put(ctx context.Context, key string, content io.Reader, contentType string) error

	// Get retrieves the content stored under key.
	// Returns an io.ReadCloser that must be closed by the caller.
	// Returns a not_found StorageError when the key is absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the value stored under key.
	// Returns nil if the key doesn't exist (idempotent).
	Delete(ctx context.Context, key string) error

	// Exists checks if a value is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}

// NewStorage creates a Storage implementation based on configuration.
func NewStorage(ctx context.Context, cfg internal.StorageConfig) (Storage, error) {
	switch cfg.Provider {
	case "local", "":
		return NewLocalStorage(cfg.LocalPath)
	case "memory":
		return NewMemoryStorage(), nil
	case "r2":
		return NewR2Storage(ctx, R2Config{
			AccountID:   cfg.R2AccountID,
			AccessKeyID: cfg.R2AccessKeyID,
			SecretKey:   cfg.R2SecretKey,
			BucketName:  cfg.R2BucketName,
		})
	case "postgres":
		return NewPostgresStorage(ctx, cfg.DatabaseURL)
	default:
		return nil, ErrUnknownProvider(cfg.Provider)
	}
}
