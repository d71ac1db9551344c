// Package datasync drives the fire-risk refresh cycle: fetch, validate, cache
// and publish, with graceful degradation to cached or bundled data.
package datasync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/firewatch/firewatch/internal/cache"
	"github.com/firewatch/firewatch/internal/firerisk"
	"github.com/firewatch/firewatch/internal/location"
)

var (
	// ErrCycleInFlight is returned when a refresh is requested while one runs.
	ErrCycleInFlight = errors.New("datasync: refresh cycle already in flight")

	// ErrStopped is returned once the controller has been stopped.
	ErrStopped = errors.New("datasync: controller stopped")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("datasync: controller already started")
)

const (
	DefaultNearestK        = 2
	DefaultNotificationTTL = 5 * time.Second
	DefaultCycleTimeout    = time.Minute
)

// Fetcher retrieves a raw batch from upstream.
type Fetcher interface {
	Fetch(ctx context.Context) (*firerisk.RawBatch, error)
}

// DatasetCache persists the last good batch.
type DatasetCache interface {
	Read(ctx context.Context) (*cache.Entry, error)
	Write(ctx context.Context, batch *firerisk.Batch, now time.Time) error
}

// Scheduler triggers cycles on aligned boundaries.
type Scheduler interface {
	Start(fn func())
	Cancel()
}

// ObserverResolver resolves the observer location and its city label.
type ObserverResolver interface {
	Resolve(ctx context.Context) (location.Observer, error)
	ResolveCity(ctx context.Context, obs location.Observer) (string, error)
}

// Config holds configuration for the Controller.
type Config struct {
	Fetcher Fetcher

	// Validator defaults to one using the probability scale.
	Validator *firerisk.Validator

	// Cache, Scheduler and Resolver are optional.
	Cache     DatasetCache
	Scheduler Scheduler
	Resolver  ObserverResolver

	// Index defaults to the built-in station catalog.
	Index *firerisk.Index

	// NearestK is how many records are reported near the observer.
	NearestK int

	// StaleThreshold defaults to cache.DefaultStaleThreshold.
	StaleThreshold time.Duration

	// NotificationTTL is how long a new-data notification stays published.
	NotificationTTL time.Duration

	// CycleTimeout bounds a single fetch and validate cycle.
	CycleTimeout time.Duration

	// OnNewData is called with the published state whenever a batch with a
	// new timestamp replaces an older one.
	OnNewData func(State)

	Clock  clockwork.Clock
	Meter  metric.Meter
	Logger zerolog.Logger
}

// Controller owns the published State. All methods are safe for concurrent use.
type Controller struct {
	fetcher   Fetcher
	validator *firerisk.Validator
	cache     DatasetCache
	scheduler Scheduler
	resolver  ObserverResolver
	index     *firerisk.Index
	clock     clockwork.Clock
	logger    zerolog.Logger
	metrics   *syncMetrics

	nearestK        int
	staleThreshold  time.Duration
	notificationTTL time.Duration
	cycleTimeout    time.Duration
	onNewData       func(State)

	inFlight atomic.Bool

	mu    sync.RWMutex
	state State

	// live is the last dataset produced by a successful cycle in this process.
	live          []firerisk.Record
	liveTimestamp string
	liveModelInfo *firerisk.ModelInfo
	liveAt        time.Time

	// lastTimestamp is the batch timestamp of the last real (cached or live)
	// dataset published; fallback data never sets it.
	lastTimestamp string

	generation  uint64
	started     bool
	stopped     bool
	ctx         context.Context
	cancel      context.CancelFunc
	subscribers map[uint64]chan State
	nextSubID   uint64

	notificationTimer clockwork.Timer
	nextNotification  uint64
}

// New creates a Controller in the Idle state.
func New(cfg Config) (*Controller, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("datasync: fetcher is required")
	}

	validator := cfg.Validator
	if validator == nil {
		validator = firerisk.NewValidator(firerisk.ValidatorConfig{Logger: cfg.Logger})
	}
	index := cfg.Index
	if index == nil {
		index = firerisk.NewIndex(nil, validator.Scale())
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	metrics, err := newSyncMetrics(cfg.Meter)
	if err != nil {
		return nil, fmt.Errorf("create sync metrics: %w", err)
	}

	c := &Controller{
		fetcher:         cfg.Fetcher,
		validator:       validator,
		cache:           cfg.Cache,
		scheduler:       cfg.Scheduler,
		resolver:        cfg.Resolver,
		index:           index,
		clock:           clock,
		logger:          cfg.Logger,
		metrics:         metrics,
		nearestK:        cfg.NearestK,
		staleThreshold:  cfg.StaleThreshold,
		notificationTTL: cfg.NotificationTTL,
		cycleTimeout:    cfg.CycleTimeout,
		onNewData:       cfg.OnNewData,
		state:           State{Status: StatusIdle},
		subscribers:     make(map[uint64]chan State),
	}
	if c.nearestK <= 0 {
		c.nearestK = DefaultNearestK
	}
	if c.staleThreshold <= 0 {
		c.staleThreshold = cache.DefaultStaleThreshold
	}
	if c.notificationTTL <= 0 {
		c.notificationTTL = DefaultNotificationTTL
	}
	if c.cycleTimeout <= 0 {
		c.cycleTimeout = DefaultCycleTimeout
	}
	return c, nil
}

// Start publishes the cached dataset, if any, then launches the first cycle,
// the observer lookup and the scheduler. It returns without waiting for the
// first cycle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	runCtx := c.ctx
	gen := c.generation
	c.mu.Unlock()

	entry := c.readCache(runCtx)

	c.mu.Lock()
	if c.stopped || gen != c.generation {
		c.mu.Unlock()
		return ErrStopped
	}
	if entry != nil && len(entry.Records) > 0 {
		c.applyCacheLocked(entry)
		c.lastTimestamp = entry.BatchTimestamp
		c.logger.Info().
			Int("records", len(entry.Records)).
			Str("batch_timestamp", entry.BatchTimestamp).
			Bool("stale", c.state.Stale).
			Msg("serving cached fire-risk data")
	}
	c.state.Status = StatusLoading
	c.state.Loading = true
	c.publishLocked()
	// Armed under the lock so a concurrent Stop always cancels it.
	if c.scheduler != nil {
		c.scheduler.Start(c.trigger)
	}
	c.mu.Unlock()

	if c.resolver != nil {
		go c.resolveObserver(runCtx, gen)
	}

	if c.inFlight.CompareAndSwap(false, true) {
		go func() {
			_ = c.cycle(runCtx, gen)
		}()
	}
	return nil
}

// Stop cancels the scheduler and any in-flight cycle. Results of a cycle that
// was running are discarded.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.generation++
	if c.cancel != nil {
		c.cancel()
	}
	if c.notificationTimer != nil {
		c.notificationTimer.Stop()
		c.notificationTimer = nil
	}
	c.mu.Unlock()

	if c.scheduler != nil {
		c.scheduler.Cancel()
	}
}

// Refetch starts a cycle in the background. It returns ErrCycleInFlight when
// a cycle is already running.
func (c *Controller) Refetch() error {
	c.mu.RLock()
	stopped, ctx, gen := c.stopped, c.ctx, c.generation
	c.mu.RUnlock()

	if stopped {
		return ErrStopped
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return ErrCycleInFlight
	}

	go func() {
		_ = c.cycle(ctx, gen)
	}()
	return nil
}

// RunCycle runs one cycle synchronously and returns its failure, if any.
// A failed cycle still publishes degraded data.
func (c *Controller) RunCycle(ctx context.Context) error {
	c.mu.RLock()
	stopped, gen := c.stopped, c.generation
	c.mu.RUnlock()

	if stopped {
		return ErrStopped
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return ErrCycleInFlight
	}
	return c.cycle(ctx, gen)
}

// InFlight reports whether a cycle is running.
func (c *Controller) InFlight() bool {
	return c.inFlight.Load()
}

// Check fetches and validates a batch without publishing or caching it. It
// holds the in-flight guard, so it returns ErrCycleInFlight while a cycle runs.
func (c *Controller) Check(ctx context.Context) (*firerisk.ValidationReport, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrCycleInFlight
	}
	defer c.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, c.cycleTimeout)
	defer cancel()

	batch, err := c.fetchAndValidate(ctx)
	if err != nil {
		return nil, err
	}
	return &batch.Report, nil
}

func (c *Controller) trigger() {
	err := c.Refetch()
	switch {
	case errors.Is(err, ErrCycleInFlight):
		c.logger.Debug().Msg("scheduled refresh skipped, cycle in flight")
	case err != nil:
		c.logger.Debug().Err(err).Msg("scheduled refresh skipped")
	}
}

// cycle runs fetch, validate, cache and publish. The caller must hold the
// in-flight guard.
func (c *Controller) cycle(ctx context.Context, gen uint64) error {
	defer c.inFlight.Store(false)

	start := c.clock.Now()

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return ErrStopped
	}
	c.state.Status = StatusLoading
	c.state.Loading = true
	c.publishLocked()
	c.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, c.cycleTimeout)
	defer cancel()

	batch, apiErr := c.fetchAndValidate(cctx)
	if apiErr != nil {
		return c.degrade(cctx, gen, apiErr, start)
	}

	if c.discarded(gen) {
		c.metrics.recordCycle("discarded", "", c.clock.Since(start))
		return ErrStopped
	}

	if c.cache != nil {
		if err := c.cache.Write(cctx, batch, c.clock.Now()); err != nil {
			c.logger.Warn().Err(err).Msg("fire-risk cache not updated")
		}
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.metrics.recordCycle("discarded", "", c.clock.Since(start))
		return ErrStopped
	}
	notified := c.applyLiveLocked(batch)
	snapshot := c.state
	c.mu.Unlock()

	c.metrics.recordCycle("ready", "", c.clock.Since(start))
	c.logger.Info().
		Int("records", len(batch.Records)).
		Int("rejected", batch.Report.Invalid).
		Str("batch_timestamp", batch.BatchTimestamp).
		Bool("new_data", notified).
		Msg("fire-risk data refreshed")

	if notified {
		c.metrics.recordNotification()
		if c.onNewData != nil {
			c.onNewData(snapshot)
		}
	}
	return nil
}

func (c *Controller) fetchAndValidate(ctx context.Context) (*firerisk.Batch, *firerisk.APIError) {
	raw, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return nil, firerisk.AsAPIError(err)
	}

	batch, err := c.validator.Validate(raw)
	if err != nil {
		return nil, firerisk.AsAPIError(err)
	}
	c.metrics.recordRecords(batch.Report.Valid, batch.Report.Invalid)
	return batch, nil
}

// degrade publishes the best available non-live data after a failed cycle:
// previous live data, then the cache, then the bundled fallback.
func (c *Controller) degrade(ctx context.Context, gen uint64, apiErr *firerisk.APIError, start time.Time) error {
	c.mu.RLock()
	hasLive := len(c.live) > 0
	c.mu.RUnlock()

	var entry *cache.Entry
	var fallback *firerisk.Batch
	if !hasLive {
		entry = c.readCache(ctx)
		if entry == nil || len(entry.Records) == 0 {
			fb, err := firerisk.FallbackBatch(c.validator.Scale())
			if err != nil {
				c.logger.Error().Err(err).Msg("bundled fallback dataset unusable")
			}
			fallback = fb
		}
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.metrics.recordCycle("discarded", apiErr.Code, c.clock.Since(start))
		return ErrStopped
	}

	switch {
	case hasLive:
		c.state.Data = c.live
		c.state.Source = SourcePrevious
		c.state.LastUpdated = c.liveTimestamp
		c.state.ModelInfo = c.liveModelInfo
		c.state.CachedAt = nil
		c.state.Stale = c.clock.Since(c.liveAt) > c.staleThreshold
	case entry != nil && len(entry.Records) > 0:
		c.applyCacheLocked(entry)
	case fallback != nil:
		c.state.Data = fallback.Records
		c.state.Source = SourceFallback
		c.state.LastUpdated = ""
		c.state.ModelInfo = fallback.ModelInfo
		c.state.CachedAt = nil
		c.state.Stale = false
	}

	c.state.Status = StatusDegraded
	c.state.Loading = false
	c.state.Error = apiErr.Message
	if c.state.Error == "" {
		c.state.Error = apiErr.Code
	}
	c.state.ErrorCode = apiErr.Code
	c.state.Report = nil
	c.recomputeNearestLocked()
	c.publishLocked()
	source := c.state.Source
	c.mu.Unlock()

	c.metrics.recordCycle("degraded", apiErr.Code, c.clock.Since(start))
	c.logger.Warn().
		Err(apiErr).
		Str("code", apiErr.Code).
		Str("source", string(source)).
		Msg("fire-risk refresh failed, serving degraded data")

	return apiErr
}

func (c *Controller) applyCacheLocked(entry *cache.Entry) {
	cachedAt := entry.CachedAt
	c.state.Data = entry.Dataset()
	c.state.Source = SourceCache
	c.state.LastUpdated = entry.BatchTimestamp
	c.state.ModelInfo = entry.ModelInfo
	c.state.CachedAt = &cachedAt
	c.state.Stale = cache.IsStale(entry, c.clock.Now(), c.staleThreshold)
	c.recomputeNearestLocked()
}

// applyLiveLocked publishes a fresh batch and reports whether it raised a
// new-data notification.
func (c *Controller) applyLiveLocked(batch *firerisk.Batch) bool {
	previous := c.lastTimestamp

	c.live = batch.Records
	c.liveTimestamp = batch.BatchTimestamp
	c.liveModelInfo = batch.ModelInfo
	c.liveAt = c.clock.Now()
	c.lastTimestamp = batch.BatchTimestamp

	report := batch.Report
	c.state.Status = StatusReady
	c.state.Loading = false
	c.state.Error = ""
	c.state.ErrorCode = ""
	c.state.Data = batch.Records
	c.state.LastUpdated = batch.BatchTimestamp
	c.state.ModelInfo = batch.ModelInfo
	c.state.Source = SourceLive
	c.state.Stale = false
	c.state.CachedAt = nil
	c.state.Report = &report

	notified := previous != "" && previous != batch.BatchTimestamp
	if notified {
		c.raiseNotificationLocked(previous, batch.BatchTimestamp)
	}

	c.recomputeNearestLocked()
	c.publishLocked()
	return notified
}

func (c *Controller) raiseNotificationLocked(previous, current string) {
	c.nextNotification++
	id := c.nextNotification
	c.state.Notification = &Notification{
		ID:                id,
		Message:           "New fire-risk data available, updated " + current,
		BatchTimestamp:    current,
		PreviousTimestamp: previous,
		CreatedAt:         c.clock.Now(),
	}

	if c.notificationTimer != nil {
		c.notificationTimer.Stop()
	}
	c.notificationTimer = c.clock.AfterFunc(c.notificationTTL, func() {
		c.dismissNotification(id)
	})
}

func (c *Controller) dismissNotification(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Notification == nil || c.state.Notification.ID != id {
		return
	}
	c.state.Notification = nil
	c.publishLocked()
}

func (c *Controller) discarded(gen uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return gen != c.generation
}

func (c *Controller) readCache(ctx context.Context) *cache.Entry {
	if c.cache == nil {
		return nil
	}
	entry, err := c.cache.Read(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("fire-risk cache unreadable")
		return nil
	}
	if entry == nil {
		return nil
	}

	scale := c.validator.Scale()
	kept := make([]firerisk.CompactRecord, 0, len(entry.Records))
	for _, r := range entry.Records {
		if scale.InRange(r.RiskLevel) {
			kept = append(kept, r)
		}
	}
	if dropped := len(entry.Records) - len(kept); dropped > 0 {
		c.logger.Warn().
			Int("dropped", dropped).
			Str("scale", scale.Name).
			Msg("cached records outside the risk range ignored")
	}
	if len(kept) == 0 {
		return nil
	}
	filtered := *entry
	filtered.Records = kept
	return &filtered
}

// resolveObserver runs once per Start. Its failures only touch observer fields.
func (c *Controller) resolveObserver(ctx context.Context, gen uint64) {
	obs, err := c.resolver.Resolve(ctx)
	if err != nil {
		c.logger.Info().Err(err).Msg("observer location unavailable")
		if !c.discarded(gen) {
			c.SetObserverError(err)
		}
		return
	}
	if c.discarded(gen) {
		return
	}
	c.SetObserver(obs)

	if obs.City != "" {
		return
	}
	city, err := c.resolver.ResolveCity(ctx, obs)
	if err != nil || city == "" || c.discarded(gen) {
		return
	}
	c.SetObserverCity(city)
}

// SetObserver publishes a resolved observer location and recomputes the
// nearest station and records.
func (c *Controller) SetObserver(obs location.Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Observer = &obs
	c.state.ObserverError = ""
	c.recomputeNearestLocked()
	c.publishLocked()
}

// SetObserverCity attaches a city label to the current observer.
func (c *Controller) SetObserverCity(city string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Observer == nil {
		return
	}
	obs := *c.state.Observer
	obs.City = city
	c.state.Observer = &obs
	c.publishLocked()
}

// SetObserverError records a failed location lookup without touching data.
func (c *Controller) SetObserverError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ObserverError = err.Error()
	c.publishLocked()
}

func (c *Controller) recomputeNearestLocked() {
	obs := c.state.Observer
	if obs == nil {
		c.state.Nearest = nil
		c.state.NearestStation = nil
		return
	}

	if station, dist, ok := c.index.NearestStation(obs.Lat, obs.Lon); ok {
		c.state.NearestStation = &StationMatch{Station: station, DistanceKm: dist}
	}
	if len(c.state.Data) > 0 {
		c.state.Nearest = firerisk.KNearest(c.state.Data, obs.Lat, obs.Lon, c.nearestK)
	} else {
		c.state.Nearest = nil
	}
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Index returns the station index used for nearest-station queries.
func (c *Controller) Index() *firerisk.Index {
	return c.index
}

// Subscribe returns a channel receiving state snapshots. Slow subscribers
// only see the latest snapshot. The current state is delivered immediately.
// Call the returned function to unsubscribe.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	ch <- c.state
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			close(ch)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) publishLocked() {
	c.state.Version++
	snapshot := c.state
	for _, ch := range c.subscribers {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}
