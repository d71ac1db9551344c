package resilience

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// CircuitState is the breaker state reported on the ops status endpoint.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitHalfOpen CircuitState = "half-open"
	CircuitOpen     CircuitState = "open"
)

func circuitState(s gobreaker.State) CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return CircuitOpen
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

// BreakerConfig decides when an upstream is cut off. The breaker opens after
// ConsecutiveFailures failures in a row, or once FailureRatio of at least
// MinRequests requests have failed. Zero fields take the defaults.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32

	// OpenFor is how long calls are rejected before a half-open probe.
	OpenFor time.Duration

	// Probes is the number of requests let through while half-open.
	Probes uint32

	// Window clears the closed-state counts periodically. Zero keeps them
	// until the state changes.
	Window time.Duration
}

// DefaultBreakerConfig suits the six-hourly prediction upstream: a handful of
// failed attempts is enough to stop hammering it for a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         5,
		OpenFor:             time.Minute,
		Probes:              1,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = d.ConsecutiveFailures
	}
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		c.FailureRatio = d.FailureRatio
	}
	if c.MinRequests == 0 {
		c.MinRequests = d.MinRequests
	}
	if c.OpenFor == 0 {
		c.OpenFor = d.OpenFor
	}
	if c.Probes == 0 {
		c.Probes = d.Probes
	}
	return c
}

// shouldTrip reports whether counts warrant opening the breaker.
func (c BreakerConfig) shouldTrip(counts gobreaker.Counts) bool {
	if counts.ConsecutiveFailures >= c.ConsecutiveFailures {
		return true
	}
	if counts.Requests < c.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}

func newBreaker(name string, cfg BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker[*http.Response] {
	cfg = cfg.withDefaults()
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{ //nolint:bodyclose // type param, not response
		Name:        name,
		MaxRequests: cfg.Probes,
		Interval:    cfg.Window,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: cfg.shouldTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			event := logger.Info()
			if to == gobreaker.StateOpen {
				event = logger.Warn()
			}
			event.
				Str("from", string(circuitState(from))).
				Str("to", string(circuitState(to))).
				Msg("circuit state changed")
		},
	})
}
