package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies the upstream provider; it names the circuit breaker and
	// the registry entry.
	Name string

	// Timeout bounds a single HTTP attempt.
	// Default: 10 seconds
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt. Zero
	// makes a single attempt.
	MaxRetries uint64

	// InitialInterval is the first retry backoff interval.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval caps the retry backoff interval.
	// Default: 5 seconds
	MaxInterval time.Duration

	// Breaker tunes the circuit breaker; zero fields take DefaultBreakerConfig.
	Breaker BreakerConfig

	// Registry, when set, receives the client and its success/failure history.
	Registry *Registry

	// Logger receives retry and circuit state diagnostics.
	Logger zerolog.Logger
}

// DefaultClientConfig returns defaults for the resilient client.
func DefaultClientConfig(name string) ClientConfig {
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Breaker:         DefaultBreakerConfig(),
		Logger:          zerolog.Nop(),
	}
}

// Client is an HTTP client with circuit breaking and exponential-backoff retries.
// It satisfies the HTTPDoer interfaces used by the provider clients.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
	config         ClientConfig
	logger         zerolog.Logger
}

// NewClient creates a resilient HTTP client and registers it when a registry
// is configured.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	logger := cfg.Logger.With().Str("provider", cfg.Name).Logger()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		circuitBreaker: newBreaker(cfg.Name, cfg.Breaker, logger),
		config:         cfg,
		logger:         logger,
	}

	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, c)
	}

	return c
}

// Name returns the provider name the client was configured with.
func (c *Client) Name() string {
	return c.config.Name
}

// Do executes an HTTP request with circuit breaker protection and retries.
// 5xx responses and network errors are retried; 4xx responses are returned
// as-is. Returns ErrCircuitOpen without calling upstream when the circuit is open.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext executes an HTTP request bound to ctx.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0 // retries are bounded by WithMaxRetries

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx)

	var lastResp *http.Response
	attempt := 0

	operation := func() error {
		attempt++
		// 5xx is reported as an error so it counts against the breaker.
		resp, err := c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // caller closes
			r, err := c.httpClient.Do(req.Clone(ctx))
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 {
				return r, &ServerError{StatusCode: r.StatusCode}
			}
			return r, nil
		})

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}

			if resp != nil {
				if lastResp != nil {
					_ = lastResp.Body.Close()
				}
				lastResp = resp
			}

			c.logger.Debug().
				Err(err).
				Int("attempt", attempt).
				Str("url", req.URL.Redacted()).
				Msg("upstream attempt failed")
			return err
		}

		if lastResp != nil {
			_ = lastResp.Body.Close()
		}
		lastResp = resp
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		// A 5xx that exhausted retries is still handed back so the caller can
		// report the status code.
		if lastResp != nil && !errors.Is(err, ErrCircuitOpen) {
			c.recordFailure(&ServerError{StatusCode: lastResp.StatusCode})
			return lastResp, nil
		}
		if lastResp != nil {
			_ = lastResp.Body.Close()
		}
		c.recordFailure(err)
		return nil, err
	}

	c.recordSuccess()
	return lastResp, nil
}

func (c *Client) recordSuccess() {
	if c.config.Registry != nil {
		c.config.Registry.RecordSuccess(c.config.Name)
	}
}

func (c *Client) recordFailure(err error) {
	if c.config.Registry != nil {
		c.config.Registry.RecordFailure(c.config.Name, err)
	}
}

// ServerError represents an HTTP 5xx server error.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// Circuit returns the breaker state and its current counts.
func (c *Client) Circuit() (CircuitState, gobreaker.Counts) {
	return circuitState(c.circuitBreaker.State()), c.circuitBreaker.Counts()
}
