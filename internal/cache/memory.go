package cache

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store with an optional byte quota.
type MemoryStore struct {
	mu         sync.RWMutex
	items      map[string][]byte
	quotaBytes int
	usedBytes  int
}

// NewMemoryStore creates a MemoryStore. A quotaBytes of 0 disables the quota.
func NewMemoryStore(quotaBytes int) *MemoryStore {
	return &MemoryStore{
		items:      make(map[string][]byte),
		quotaBytes: quotaBytes,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.usedBytes - len(s.items[key]) + len(value)
	if s.quotaBytes > 0 && used > s.quotaBytes {
		return ErrQuotaExceeded
	}

	v := make([]byte, len(value))
	copy(v, value)
	s.items[key] = v
	s.usedBytes = used
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usedBytes -= len(s.items[key])
	delete(s.items, key)
	return nil
}

// UsedBytes returns the total size of stored values.
func (s *MemoryStore) UsedBytes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usedBytes
}
