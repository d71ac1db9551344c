package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/firewatch/firewatch/internal/firerisk"
)

const (
	// DatasetKey is the store key of the dataset entry.
	DatasetKey = "firewatch:dataset:v1"

	// SchemaVersion is bumped whenever the Entry layout changes. Entries with
	// another version are treated as absent.
	SchemaVersion = 1

	// DefaultMaxEntryBytes is the serialized size ceiling of a dataset entry.
	DefaultMaxEntryBytes = 4 << 20

	// DefaultStaleThreshold is the age after which cached data is flagged as
	// possibly out of date.
	DefaultStaleThreshold = 2 * time.Hour
)

// Entry is the persisted dataset snapshot.
type Entry struct {
	Version        int                      `json:"v"`
	Scale          string                   `json:"scale,omitempty"`
	Records        []firerisk.CompactRecord `json:"records"`
	CachedAt       time.Time                `json:"cachedAt"`
	BatchTimestamp string                   `json:"batchTimestamp,omitempty"`
	ModelInfo      *firerisk.ModelInfo      `json:"modelInfo,omitempty"`
}

// Dataset expands the persisted records.
func (e *Entry) Dataset() []firerisk.Record {
	return firerisk.ExpandAll(e.Records)
}

// Age returns how long ago the entry was written.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CachedAt)
}

// IsStale reports whether the entry is older than threshold. A non-positive
// threshold selects DefaultStaleThreshold. Staleness never evicts the entry.
func IsStale(e *Entry, now time.Time, threshold time.Duration) bool {
	if e == nil {
		return false
	}
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	return e.Age(now) > threshold
}

// DatasetCacheConfig holds configuration for the DatasetCache.
type DatasetCacheConfig struct {
	Store Store

	// Key defaults to DatasetKey.
	Key string

	// MaxEntryBytes defaults to DefaultMaxEntryBytes.
	MaxEntryBytes int

	// Scale is the risk scale records were validated against. Entries written
	// under another scale read as absent, and records outside its range are
	// dropped on read. The zero value disables both checks.
	Scale firerisk.RiskScale

	Logger zerolog.Logger
}

// DatasetCache reads and writes the dataset Entry.
type DatasetCache struct {
	store    Store
	key      string
	maxBytes int
	scale    firerisk.RiskScale
	logger   zerolog.Logger
}

// NewDatasetCache creates a DatasetCache.
func NewDatasetCache(cfg DatasetCacheConfig) *DatasetCache {
	key := cfg.Key
	if key == "" {
		key = DatasetKey
	}
	maxBytes := cfg.MaxEntryBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxEntryBytes
	}
	return &DatasetCache{
		store:    cfg.Store,
		key:      key,
		maxBytes: maxBytes,
		scale:    cfg.Scale,
		logger:   cfg.Logger,
	}
}

// Read returns the cached entry, or nil when there is none. Corrupt entries,
// entries of another schema version and entries of another risk scale read as
// absent.
func (c *DatasetCache) Read(ctx context.Context) (*Entry, error) {
	data, err := c.store.Get(ctx, c.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dataset cache: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn().Err(err).Str("key", c.key).Msg("discarding unreadable dataset cache entry")
		return nil, nil
	}
	if entry.Version != SchemaVersion {
		c.logger.Info().
			Int("version", entry.Version).
			Int("want", SchemaVersion).
			Msg("ignoring dataset cache entry with another schema version")
		return nil, nil
	}
	if c.scale.Name == "" {
		return &entry, nil
	}
	if entry.Scale != c.scale.Name {
		c.logger.Info().
			Str("scale", entry.Scale).
			Str("want", c.scale.Name).
			Msg("ignoring dataset cache entry written under another risk scale")
		return nil, nil
	}

	kept := entry.Records[:0]
	for _, r := range entry.Records {
		if c.scale.InRange(r.RiskLevel) {
			kept = append(kept, r)
		}
	}
	if dropped := len(entry.Records) - len(kept); dropped > 0 {
		c.logger.Warn().
			Int("dropped", dropped).
			Str("scale", c.scale.Name).
			Msg("dropping cached records outside the risk range")
	}
	entry.Records = kept
	if len(kept) == 0 {
		return nil, nil
	}
	return &entry, nil
}

// Write persists the batch. Oversized entries are skipped with
// ErrEntryTooLarge and the old entry is kept. A quota failure from the store
// deletes the entry and returns ErrQuotaExceeded.
func (c *DatasetCache) Write(ctx context.Context, batch *firerisk.Batch, now time.Time) error {
	entry := Entry{
		Version:        SchemaVersion,
		Scale:          c.scale.Name,
		Records:        firerisk.CompactAll(batch.Records),
		CachedAt:       now.UTC(),
		BatchTimestamp: batch.BatchTimestamp,
		ModelInfo:      batch.ModelInfo,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode dataset cache: %w", err)
	}

	if len(data) > c.maxBytes {
		c.logger.Warn().
			Int("bytes", len(data)).
			Int("max_bytes", c.maxBytes).
			Int("records", len(entry.Records)).
			Msg("dataset cache entry too large, keeping previous entry")
		return fmt.Errorf("%w: %d bytes > %d", ErrEntryTooLarge, len(data), c.maxBytes)
	}

	if err := c.store.Set(ctx, c.key, data); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			c.logger.Warn().Err(err).Msg("cache quota exceeded, clearing dataset entry")
			if delErr := c.store.Delete(ctx, c.key); delErr != nil {
				c.logger.Error().Err(delErr).Msg("failed to clear dataset cache entry")
			}
		}
		return fmt.Errorf("write dataset cache: %w", err)
	}

	c.logger.Debug().
		Int("bytes", len(data)).
		Int("records", len(entry.Records)).
		Msg("dataset cache written")
	return nil
}

// Age returns the age of the cached entry; ok is false when there is none.
func (c *DatasetCache) Age(ctx context.Context, now time.Time) (age time.Duration, ok bool) {
	entry, err := c.Read(ctx)
	if err != nil || entry == nil {
		return 0, false
	}
	return entry.Age(now), true
}
