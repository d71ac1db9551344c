// Package app assembles the sync controller and its collaborators from Config.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/firewatch/firewatch/internal/auth"
	"github.com/firewatch/firewatch/internal/cache"
	"github.com/firewatch/firewatch/internal/config"
	"github.com/firewatch/firewatch/internal/database"
	"github.com/firewatch/firewatch/internal/datasync"
	"github.com/firewatch/firewatch/internal/firerisk"
	"github.com/firewatch/firewatch/internal/firerisk/predictapi"
	"github.com/firewatch/firewatch/internal/location"
	"github.com/firewatch/firewatch/internal/provider/resilience"
	"github.com/firewatch/firewatch/internal/schedule"
)

// devSigningKey is only accepted outside production.
const devSigningKey = "local-dev-signing-key-change-in-production"

// ErrSigningKeyRequired is returned in production without JWT_SIGNING_KEY.
var ErrSigningKeyRequired = errors.New("JWT_SIGNING_KEY is required in production")

// Options controls what Build wires.
type Options struct {
	Config *config.Config
	Logger zerolog.Logger
	Meter  metric.Meter

	// Scheduled attaches the aligned refresh scheduler. The worker leaves it
	// off and runs cycles from Pub/Sub jobs instead.
	Scheduled bool

	// Store overrides the configured cache backend.
	Store cache.Store

	// Fetcher overrides the prediction API client.
	Fetcher datasync.Fetcher

	Clock clockwork.Clock
}

// App holds the assembled components.
type App struct {
	Controller *datasync.Controller
	Registry   *resilience.Registry
	Tokens     *auth.TokenService
	Store      cache.Store

	closers []func()
}

// Build wires cache, fetcher, validator, scheduler and observer resolution
// into a sync controller. The controller is not started.
func Build(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	logger := opts.Logger
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	a := &App{Registry: resilience.NewRegistry()}

	tokens, err := newTokenService(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Tokens = tokens

	store := opts.Store
	if store == nil {
		store, err = a.openStore(ctx, cfg, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Store = store

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = predictapi.NewClient(predictapi.ClientConfig{
			BaseURL:  cfg.APIBaseURL,
			Timeout:  cfg.FetchTimeout,
			Registry: a.Registry,
			Logger:   logger,
		})
	}

	validator := firerisk.NewValidator(firerisk.ValidatorConfig{
		Scale:  cfg.RiskScale,
		Logger: logger,
	})

	ctrlCfg := datasync.Config{
		Fetcher:   fetcher,
		Validator: validator,
		Cache: cache.NewDatasetCache(cache.DatasetCacheConfig{
			Store:  store,
			Scale:  cfg.RiskScale,
			Logger: logger,
		}),
		Index:          firerisk.NewIndex(nil, cfg.RiskScale),
		NearestK:       datasync.DefaultNearestK,
		StaleThreshold: cfg.StaleThreshold,
		CycleTimeout:   cfg.FetchTimeout * 2,
		Clock:          clock,
		Meter:          opts.Meter,
		Logger:         logger.With().Str("component", "datasync").Logger(),
		OnNewData: func(state datasync.State) {
			logger.Info().
				Str("batch_timestamp", state.LastUpdated).
				Int("records", len(state.Data)).
				Msg("new fire-risk batch published")
		},
	}

	if opts.Scheduled {
		ctrlCfg.Scheduler = schedule.New(schedule.Config{
			Cadence:  cfg.Cadence,
			Location: cfg.Timezone,
			Clock:    clock,
			Logger:   logger.With().Str("component", "scheduler").Logger(),
		})
	}

	resolver, err := newResolver(cfg, store, a.Registry, clock, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if resolver != nil {
		ctrlCfg.Resolver = resolver
	}

	ctrl, err := datasync.New(ctrlCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Controller = ctrl
	return a, nil
}

// Close stops the controller and releases backend connections.
func (a *App) Close() {
	if a.Controller != nil {
		a.Controller.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Store, error) {
	switch cfg.CacheBackend {
	case config.CacheRedis:
		client, err := cache.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis cache connected")
		return cache.NewRedisStore(client), nil

	case config.CachePostgres:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		store := cache.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		logger.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("postgres cache connected")
		return store, nil

	default:
		return cache.NewMemoryStore(cfg.CacheQuotaBytes), nil
	}
}

// newResolver returns nil when observer resolution is disabled.
func newResolver(cfg *config.Config, store cache.Store, registry *resilience.Registry, clock clockwork.Clock, logger zerolog.Logger) (*location.Resolver, error) {
	var provider location.PositionProvider
	switch cfg.ObserverMode {
	case config.ObserverStatic:
		provider = location.NewStaticProvider(cfg.ObserverLat, cfg.ObserverLon, clock)
	case config.ObserverIP:
		provider = location.NewIPProvider(location.IPProviderConfig{
			URL:      cfg.IPLookupURL,
			Registry: registry,
			Clock:    clock,
		})
	default:
		return nil, nil
	}

	geocoder, err := location.NewCachedGeocoder(location.NewNominatimGeocoder(location.NominatimConfig{
		BaseURL:  cfg.GeocoderURL,
		Language: cfg.GeocoderLanguage,
		Registry: registry,
	}), cfg.GeocoderCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create geocoder cache: %w", err)
	}

	return location.NewResolver(location.ResolverConfig{
		Provider: provider,
		Geocoder: geocoder,
		Cache:    cache.NewLocationCache(store, 0, logger),
		Clock:    clock,
		Logger:   logger.With().Str("component", "location").Logger(),
	}), nil
}

func newTokenService(cfg *config.Config, logger zerolog.Logger) (*auth.TokenService, error) {
	key := cfg.JWTSigningKey
	if key == "" {
		if cfg.IsProduction() {
			return nil, ErrSigningKeyRequired
		}
		key = devSigningKey
		logger.Warn().Msg("using default JWT signing key - not secure for production")
	}
	return auth.NewTokenService(auth.TokenConfig{SigningKey: key}), nil
}
