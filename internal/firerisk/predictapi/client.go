// Package predictapi provides the client for the fire-risk prediction service.
package predictapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/firewatch/firewatch/internal/firerisk"
	"github.com/firewatch/firewatch/internal/provider/resilience"
)

const (
	// DefaultBaseURL is the prediction service used when none is configured.
	DefaultBaseURL = "http://localhost:5000"

	// ProviderName identifies this provider in the resilience registry.
	ProviderName = "fire-risk-api"

	// PredictPath is the dataset endpoint relative to the base URL.
	PredictPath = "/api/predict/fire-risk"

	// maxBodyBytes bounds how much of a response is read.
	maxBodyBytes = 32 << 20

	// maxErrorBodyBytes bounds the body excerpt kept on HTTP errors.
	maxErrorBodyBytes = 512
)

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the prediction API client.
type ClientConfig struct {
	// BaseURL is the service base URL (defaults to DefaultBaseURL).
	BaseURL string

	// HTTPClient executes requests. If nil, a resilient client is created
	// and registered in Registry.
	HTTPClient HTTPDoer

	// Timeout for individual attempts (default: 30s).
	Timeout time.Duration

	// Registry tracks provider health for the ops endpoints.
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// Client fetches raw fire-risk batches.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a new prediction API client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            ProviderName,
			Timeout:         timeout,
			MaxRetries:      2,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Registry:        cfg.Registry,
			Logger:          cfg.Logger,
		})
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Fetch retrieves the latest raw batch. Every failure is an *firerisk.APIError:
// NETWORK_ERROR for transport failures and an open circuit, the stringified
// status for non-2xx responses, INVALID_RESPONSE for a malformed body.
func (c *Client) Fetch(ctx context.Context) (*firerisk.RawBatch, error) {
	ctx, span := otel.Tracer("github.com/firewatch/firewatch/predictapi").Start(ctx, "predictapi.Fetch")
	defer span.End()

	raw, err := c.fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("firerisk.raw_records", len(raw.Data)))
	return raw, nil
}

func (c *Client) fetch(ctx context.Context) (*firerisk.RawBatch, error) {
	url := c.baseURL + PredictPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, firerisk.NewNetworkError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Warn().Msg("fire-risk service circuit open, skipping fetch")
		}
		return nil, firerisk.NewNetworkError(fmt.Errorf("fetch fire risk: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, firerisk.NewHTTPError(resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, firerisk.NewNetworkError(fmt.Errorf("read fire risk response: %w", err))
	}

	raw, err := firerisk.DecodeRawBatch(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Int("raw_records", len(raw.Data)).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("fetched fire-risk batch")

	return raw, nil
}
