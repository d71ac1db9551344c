package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	// LocationKey is the store key of the observer location entry.
	LocationKey = "firewatch:observer:v1"

	// DefaultLocationTTL is how long a resolved observer location is reused.
	DefaultLocationTTL = 7 * 24 * time.Hour
)

// LocationEntry is the persisted observer location.
type LocationEntry struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	City      string    `json:"city,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationCache keeps the observer location under its own key so dataset
// cache failures never affect it.
type LocationCache struct {
	store  Store
	key    string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewLocationCache creates a LocationCache. A non-positive ttl selects
// DefaultLocationTTL.
func NewLocationCache(store Store, ttl time.Duration, logger zerolog.Logger) *LocationCache {
	if ttl <= 0 {
		ttl = DefaultLocationTTL
	}
	return &LocationCache{store: store, key: LocationKey, ttl: ttl, logger: logger}
}

// Read returns the cached location, or nil when absent, unreadable or older
// than the TTL.
func (c *LocationCache) Read(ctx context.Context, now time.Time) (*LocationEntry, error) {
	data, err := c.store.Get(ctx, c.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read location cache: %w", err)
	}

	var entry LocationEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn().Err(err).Msg("discarding unreadable location cache entry")
		return nil, nil
	}
	if now.Sub(entry.Timestamp) > c.ttl {
		return nil, nil
	}
	return &entry, nil
}

// Write stores the location.
func (c *LocationCache) Write(ctx context.Context, entry LocationEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode location cache: %w", err)
	}
	if err := c.store.Set(ctx, c.key, data); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			_ = c.store.Delete(ctx, c.key)
		}
		return fmt.Errorf("write location cache: %w", err)
	}
	return nil
}
