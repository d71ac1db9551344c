package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/firewatch/firewatch/internal/cache"
)

// DefaultTimeout bounds a single position lookup.
const DefaultTimeout = 10 * time.Second

// Observer is the resolved observer location.
type Observer struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	City       string    `json:"city,omitempty"`
	ResolvedAt time.Time `json:"resolvedAt"`
	Source     string    `json:"source"`
}

// Observer sources.
const (
	SourceCache    = "cache"
	SourceProvider = "provider"
)

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	Provider PositionProvider

	// Geocoder is optional; without it observers have no city.
	Geocoder ReverseGeocoder

	// Cache is optional.
	Cache *cache.LocationCache

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration

	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// Resolver obtains the observer location once, preferring a fresh cached value.
type Resolver struct {
	provider PositionProvider
	geocoder ReverseGeocoder
	cache    *cache.LocationCache
	timeout  time.Duration
	clock    clockwork.Clock
	logger   zerolog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	provider := cfg.Provider
	if provider == nil {
		provider = DisabledProvider()
	}
	return &Resolver{
		provider: provider,
		geocoder: cfg.Geocoder,
		cache:    cfg.Cache,
		timeout:  timeout,
		clock:    clock,
		logger:   cfg.Logger,
	}
}

// Resolve returns the cached observer when it is younger than the cache TTL,
// otherwise asks the provider. Errors are ErrPermissionDenied,
// ErrPositionUnavailable or ErrTimeout.
func (r *Resolver) Resolve(ctx context.Context) (Observer, error) {
	if obs, ok := r.cached(ctx); ok {
		return obs, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		pos Position
		err error
	}
	done := make(chan result, 1)
	go func() {
		pos, err := r.provider.CurrentPosition(lookupCtx, Options{
			EnableHighAccuracy: false,
			Timeout:            r.timeout,
			MaximumAge:         0,
		})
		done <- result{pos: pos, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-lookupCtx.Done():
		return Observer{}, ErrTimeout
	}
	if res.err != nil {
		return Observer{}, classify(res.err)
	}

	obs := Observer{
		Lat:        res.pos.Lat,
		Lon:        res.pos.Lon,
		City:       res.pos.City,
		ResolvedAt: r.clock.Now(),
		Source:     SourceProvider,
	}
	r.store(ctx, obs)

	r.logger.Info().
		Float64("lat", obs.Lat).
		Float64("lon", obs.Lon).
		Msg("observer location resolved")

	return obs, nil
}

// ResolveCity looks up the city label for obs. A failed lookup leaves the
// observer identified by coordinates only and returns the error.
func (r *Resolver) ResolveCity(ctx context.Context, obs Observer) (string, error) {
	if obs.City != "" {
		return obs.City, nil
	}
	if r.geocoder == nil {
		return "", nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	city, err := r.geocoder.ReverseGeocode(lookupCtx, obs.Lat, obs.Lon)
	if err != nil {
		r.logger.Debug().Err(err).Msg("reverse geocode failed")
		return "", fmt.Errorf("resolve city: %w", err)
	}
	if city != "" {
		obs.City = city
		r.store(ctx, obs)
	}
	return city, nil
}

func (r *Resolver) cached(ctx context.Context) (Observer, bool) {
	if r.cache == nil {
		return Observer{}, false
	}
	entry, err := r.cache.Read(ctx, r.clock.Now())
	if err != nil {
		r.logger.Warn().Err(err).Msg("read observer cache")
		return Observer{}, false
	}
	if entry == nil {
		return Observer{}, false
	}
	return Observer{
		Lat:        entry.Lat,
		Lon:        entry.Lon,
		City:       entry.City,
		ResolvedAt: entry.Timestamp,
		Source:     SourceCache,
	}, true
}

func (r *Resolver) store(ctx context.Context, obs Observer) {
	if r.cache == nil {
		return
	}
	err := r.cache.Write(ctx, cache.LocationEntry{
		Lat:       obs.Lat,
		Lon:       obs.Lon,
		City:      obs.City,
		Timestamp: obs.ResolvedAt,
	})
	if err != nil {
		r.logger.Warn().Err(err).Msg("write observer cache")
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrPositionUnavailable), errors.Is(err, ErrTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return fmt.Errorf("%w: %s", ErrPositionUnavailable, err.Error())
	}
}
