package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/app"
	"github.com/firewatch/firewatch/internal/cache"
	"github.com/firewatch/firewatch/internal/config"
	"github.com/firewatch/firewatch/internal/datasync"
	"github.com/firewatch/firewatch/internal/firerisk"
)

type staticFetcher struct {
	batch *firerisk.RawBatch
}

func (f staticFetcher) Fetch(context.Context) (*firerisk.RawBatch, error) {
	return f.batch, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Env:            "test",
		RiskScale:      firerisk.ProbabilityScale,
		Cadence:        6 * time.Hour,
		Timezone:       time.UTC,
		StaleThreshold: 2 * time.Hour,
		FetchTimeout:   5 * time.Second,
		CacheBackend:   config.CacheMemory,
		ObserverMode:   config.ObserverDisabled,
	}
}

func batch(t *testing.T) *firerisk.RawBatch {
	t.Helper()
	raw := []map[string]interface{}{
		{"lat": 40.42, "lon": -3.70, "risk_level": 0.4, "location": "Madrid", "province": "Madrid"},
		{"lat": 37.39, "lon": -5.98, "risk_level": 0.9, "location": "Sevilla", "province": "Sevilla"},
	}
	data := make([]json.RawMessage, 0, len(raw))
	for _, r := range raw {
		b, err := json.Marshal(r)
		require.NoError(t, err)
		data = append(data, b)
	}
	return &firerisk.RawBatch{Data: data, Timestamp: "2025-07-01T06:00:00Z"}
}

func TestBuild_RunsCycleIntoMemoryCache(t *testing.T) {
	ctx := context.Background()
	a, err := app.Build(ctx, app.Options{
		Config:  testConfig(),
		Logger:  zerolog.Nop(),
		Fetcher: staticFetcher{batch: batch(t)},
		Clock:   clockwork.NewFakeClockAt(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.Controller.RunCycle(ctx))

	state := a.Controller.State()
	assert.Equal(t, datasync.StatusReady, state.Status)
	assert.Len(t, state.Data, 2)

	_, err = a.Store.Get(ctx, cache.DatasetKey)
	assert.NoError(t, err)
	assert.NotNil(t, a.Tokens)
}

func TestBuild_UsesProvidedStore(t *testing.T) {
	store := cache.NewMemoryStore(0)
	a, err := app.Build(context.Background(), app.Options{
		Config:  testConfig(),
		Logger:  zerolog.Nop(),
		Store:   store,
		Fetcher: staticFetcher{batch: batch(t)},
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Same(t, store, a.Store)
}

func TestBuild_ProductionRequiresSigningKey(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"

	_, err := app.Build(context.Background(), app.Options{Config: cfg, Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, app.ErrSigningKeyRequired)
}

func TestBuild_RequiresConfig(t *testing.T) {
	_, err := app.Build(context.Background(), app.Options{})
	assert.Error(t, err)
}

type rotatingFetcher struct {
	calls      atomic.Int32
	timestamps []string
	t          *testing.T
}

func (f *rotatingFetcher) Fetch(context.Context) (*firerisk.RawBatch, error) {
	i := int(f.calls.Add(1)) - 1
	if i >= len(f.timestamps) {
		i = len(f.timestamps) - 1
	}
	b := batch(f.t)
	b.Timestamp = f.timestamps[i]
	return b, nil
}

func TestBuild_LogsNewBatches(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	a, err := app.Build(ctx, app.Options{
		Config:  testConfig(),
		Logger:  zerolog.New(&logs),
		Fetcher: &rotatingFetcher{t: t, timestamps: []string{"2025-07-01T06:00:00Z", "2025-07-01T12:00:00Z"}},
		Clock:   clockwork.NewFakeClockAt(time.Date(2025, 7, 1, 12, 5, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.Controller.RunCycle(ctx))
	assert.NotContains(t, logs.String(), "new fire-risk batch published")

	require.NoError(t, a.Controller.RunCycle(ctx))
	assert.Contains(t, logs.String(), "new fire-risk batch published")
	assert.Contains(t, logs.String(), `"batch_timestamp":"2025-07-01T12:00:00Z"`)
}

func TestBuild_ObserverGetsTwoNearestRecords(t *testing.T) {
	geocoder := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(geocoder.Close)

	cfg := testConfig()
	cfg.ObserverMode = config.ObserverStatic
	cfg.ObserverLat = 40.40
	cfg.ObserverLon = -3.70
	cfg.GeocoderURL = geocoder.URL

	raw := batch(t)
	extra, err := json.Marshal(map[string]interface{}{
		"lat": 41.39, "lon": 2.17, "risk_level": 0.7, "location": "Barcelona", "province": "Barcelona",
	})
	require.NoError(t, err)
	raw.Data = append(raw.Data, extra)

	a, err := app.Build(context.Background(), app.Options{
		Config:  cfg,
		Logger:  zerolog.Nop(),
		Fetcher: staticFetcher{batch: raw},
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.Controller.Start(context.Background()))
	require.Eventually(t, func() bool {
		s := a.Controller.State()
		return s.Status == datasync.StatusReady && s.Observer != nil && len(s.Nearest) > 0
	}, 2*time.Second, 5*time.Millisecond)

	state := a.Controller.State()
	require.Len(t, state.Nearest, 2)
	assert.Equal(t, "Madrid", state.Nearest[0].Record.Location)
	assert.Equal(t, "Sevilla", state.Nearest[1].Record.Location)
}

func TestBuild_IgnoresCacheFromAnotherScale(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(0)

	seed, err := firerisk.NewValidator(firerisk.ValidatorConfig{Scale: firerisk.FWIScale, Logger: zerolog.Nop()}).Validate(fwiBatch(t))
	require.NoError(t, err)
	fwiCache := cache.NewDatasetCache(cache.DatasetCacheConfig{Store: store, Scale: firerisk.FWIScale, Logger: zerolog.Nop()})
	require.NoError(t, fwiCache.Write(ctx, seed, time.Now()))

	a, err := app.Build(ctx, app.Options{
		Config:  testConfig(),
		Logger:  zerolog.Nop(),
		Store:   store,
		Fetcher: failingFetcher{},
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Error(t, a.Controller.RunCycle(ctx))

	state := a.Controller.State()
	assert.Equal(t, datasync.StatusDegraded, state.Status)
	assert.Equal(t, datasync.SourceFallback, state.Source)
	for _, r := range state.Data {
		assert.True(t, firerisk.ProbabilityScale.InRange(r.RiskLevel), "risk %v", r.RiskLevel)
	}
}

type failingFetcher struct{}

func (failingFetcher) Fetch(context.Context) (*firerisk.RawBatch, error) {
	return nil, firerisk.NewNetworkError(errors.New("connection refused"))
}

func fwiBatch(t *testing.T) *firerisk.RawBatch {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"lat": 40.42, "lon": -3.70, "risk_level": 35.0, "location": "Madrid", "province": "Madrid",
	})
	require.NoError(t, err)
	return &firerisk.RawBatch{Data: []json.RawMessage{b}, Timestamp: "2025-07-01T06:00:00Z"}
}
