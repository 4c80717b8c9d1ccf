package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorage implements Storage using the local filesystem.
// Each key maps to one file below basePath.
type LocalStorage struct {
	basePath string // Root directory for stored values (e.g., "./data")
}

// NewLocalStorage creates a new local filesystem storage implementation.
//
// basePath is the directory where values will be stored (created if it doesn't exist).
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	// Ensure base path exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Put writes to a temporary file and renames it over the target so a crash
// mid-write never leaves a truncated value behind.
func (s *LocalStorage) Put(ctx context.Context, key string, content io.Reader, contentType string) error {
	if key == "" {
		return ErrEmptyKey
	}
	fullPath := filepath.Join(s.basePath, key)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return wrapStorageError(err, "failed to create directory")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*")
	if err != nil {
		return wrapStorageError(err, "failed to create file")
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return wrapStorageError(err, "failed to write file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return wrapStorageError(err, "failed to close file")
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return wrapStorageError(err, "failed to replace file")
	}

	return nil
}

// Get retrieves a value from the local filesystem.
func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	fullPath := filepath.Join(s.basePath, key)

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound(key)
		}
		return nil, wrapStorageError(err, "failed to open file")
	}

	return file, nil
}

// Delete removes a value from the local filesystem.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	fullPath := filepath.Join(s.basePath, key)

	err := os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return wrapStorageError(err, "failed to delete file")
	}

	return nil
}

// Exists checks if a value exists in the local filesystem.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	fullPath := filepath.Join(s.basePath, key)

	_, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, wrapStorageError(err, "failed to check file existence")
	}

	return true, nil
}
