package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// MemoryStorage keeps values in process memory. Intended for tests and for
// deployments that accept losing the guest cart on restart.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: map[string][]byte{}}
}

func (s *MemoryStorage) Put(_ context.Context, key string, content io.Reader, _ string) error {
	if key == "" {
		return ErrEmptyKey
	}
	b, err := io.ReadAll(content)
	if err != nil {
		return wrapStorageError(err, "failed to read content")
	}

	s.mu.Lock()
	s.values[key] = b
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	b, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound(key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	_, ok := s.values[key]
	s.mu.RUnlock()
	return ok, nil
}
