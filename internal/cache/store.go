// Package cache persists the last good fire-risk dataset and the resolved
// observer location so a restart can serve data before the first fetch.
package cache

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by a Store when the key has no value.
	ErrNotFound = errors.New("cache: key not found")

	// ErrQuotaExceeded is returned when the backing store refuses a write
	// for lack of space.
	ErrQuotaExceeded = errors.New("cache: storage quota exceeded")

	// ErrEntryTooLarge is returned when a serialized entry is over the size
	// ceiling. The write is skipped and the previous entry kept.
	ErrEntryTooLarge = errors.New("cache: entry exceeds size ceiling")
)

// Store is a byte-oriented key/value store.
type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set returns ErrQuotaExceeded when the store is full.
	Set(ctx context.Context, key string, value []byte) error

	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error
}
