// Package location resolves the observer's position and a best-effort city
// label for it. Failures here never affect the fire-risk dataset.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/firewatch/firewatch/internal/provider/resilience"
	"github.com/firewatch/firewatch/pkg/geo"
)

var (
	// ErrPermissionDenied is returned when position lookup is disabled.
	ErrPermissionDenied = errors.New("location: permission denied")

	// ErrPositionUnavailable is returned when no position could be determined.
	ErrPositionUnavailable = errors.New("location: position unavailable")

	// ErrTimeout is returned when the lookup did not finish in time.
	ErrTimeout = errors.New("location: timeout")
)

// Position is a one-shot position fix.
type Position struct {
	Lat       float64
	Lon       float64
	AccuracyM float64
	City      string
	Timestamp time.Time
}

// Options tune a position request.
type Options struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	MaximumAge         time.Duration
}

// PositionProvider returns the observer's current position.
type PositionProvider interface {
	CurrentPosition(ctx context.Context, opts Options) (Position, error)
}

// StaticProvider serves a configured position.
type StaticProvider struct {
	lat, lon float64
	enabled  bool
	clock    clockwork.Clock
}

// NewStaticProvider creates a provider that always reports lat/lon.
func NewStaticProvider(lat, lon float64, clock clockwork.Clock) *StaticProvider {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StaticProvider{lat: lat, lon: lon, enabled: true, clock: clock}
}

// DisabledProvider returns a provider that always denies permission.
func DisabledProvider() *StaticProvider {
	return &StaticProvider{}
}

func (p *StaticProvider) CurrentPosition(_ context.Context, _ Options) (Position, error) {
	if !p.enabled {
		return Position{}, ErrPermissionDenied
	}
	if !geo.ValidLatLon(p.lat, p.lon) {
		return Position{}, fmt.Errorf("%w: configured coordinates out of range", ErrPositionUnavailable)
	}
	return Position{Lat: p.lat, Lon: p.lon, Timestamp: p.clock.Now()}, nil
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	// DefaultIPLookupURL is the ip-api endpoint used by IPProvider.
	DefaultIPLookupURL = "http://ip-api.com/json/?fields=status,message,lat,lon,city"

	ipProviderName = "ip-geolocation"
)

// IPProviderConfig holds configuration for the IPProvider.
type IPProviderConfig struct {
	URL        string
	HTTPClient HTTPDoer
	Registry   *resilience.Registry
	Clock      clockwork.Clock
}

// IPProvider approximates the position from the public IP address.
type IPProvider struct {
	url        string
	httpClient HTTPDoer
	clock      clockwork.Clock
}

// NewIPProvider creates an IPProvider.
func NewIPProvider(cfg IPProviderConfig) *IPProvider {
	u := cfg.URL
	if u == "" {
		u = DefaultIPLookupURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            ipProviderName,
			Timeout:         5 * time.Second,
			MaxRetries:      1,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     time.Second,
			Registry:        cfg.Registry,
		})
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IPProvider{url: u, httpClient: httpClient, clock: clock}
}

type ipAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	City    string  `json:"city"`
}

func (p *IPProvider) CurrentPosition(ctx context.Context, opts Options) (Position, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return Position{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Position{}, ErrTimeout
		}
		return Position{}, fmt.Errorf("%w: %s", ErrPositionUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Position{}, fmt.Errorf("%w: lookup status %d", ErrPositionUnavailable, resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Position{}, fmt.Errorf("%w: decode lookup: %s", ErrPositionUnavailable, err.Error())
	}
	if !strings.EqualFold(body.Status, "success") {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionUnavailable, body.Message)
	}
	if !geo.ValidLatLon(body.Lat, body.Lon) {
		return Position{}, fmt.Errorf("%w: lookup returned invalid coordinates", ErrPositionUnavailable)
	}

	return Position{
		Lat:       body.Lat,
		Lon:       body.Lon,
		AccuracyM: 5000,
		City:      body.City,
		Timestamp: p.clock.Now(),
	}, nil
}
