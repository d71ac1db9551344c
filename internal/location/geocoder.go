package location

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/firewatch/firewatch/internal/provider/resilience"
)

// ReverseGeocoder names the place at a coordinate. An empty name with a nil
// error means nothing was found.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
}

const (
	// DefaultNominatimURL is the public Nominatim instance.
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"

	nominatimProviderName = "nominatim"
	userAgent             = "firewatch/1.0"
)

// NominatimConfig holds configuration for the NominatimGeocoder.
type NominatimConfig struct {
	BaseURL    string
	Language   string
	HTTPClient HTTPDoer
	Registry   *resilience.Registry
}

// NominatimGeocoder reverse geocodes through the Nominatim API.
type NominatimGeocoder struct {
	baseURL    string
	language   string
	httpClient HTTPDoer
}

// NewNominatimGeocoder creates a NominatimGeocoder.
func NewNominatimGeocoder(cfg NominatimConfig) *NominatimGeocoder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	lang := cfg.Language
	if lang == "" {
		lang = "es"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            nominatimProviderName,
			Timeout:         5 * time.Second,
			MaxRetries:      1,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Registry:        cfg.Registry,
		})
	}
	return &NominatimGeocoder{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		language:   lang,
		httpClient: httpClient,
	}
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
	} `json:"address"`
	Error string `json:"error"`
}

func (g *NominatimGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	params := url.Values{
		"format":          {"jsonv2"},
		"lat":             {strconv.FormatFloat(lat, 'f', 6, 64)},
		"lon":             {strconv.FormatFloat(lon, 'f', 6, 64)},
		"zoom":            {"10"},
		"accept-language": {g.language},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/reverse?"+params.Encode(), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("nominatim error: status %d: %s", resp.StatusCode, body)
	}

	var result nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.Error != "" {
		return "", nil
	}

	for _, name := range []string{result.Address.City, result.Address.Town, result.Address.Village, result.Address.Municipality} {
		if name != "" {
			return name, nil
		}
	}
	if i := strings.IndexByte(result.DisplayName, ','); i > 0 {
		return strings.TrimSpace(result.DisplayName[:i]), nil
	}
	return strings.TrimSpace(result.DisplayName), nil
}

// CachedGeocoder wraps a ReverseGeocoder with an LRU cache keyed on
// coordinates rounded to about 100 m.
type CachedGeocoder struct {
	inner ReverseGeocoder
	cache *lru.Cache[string, string]
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner ReverseGeocoder, maxEntries int) (*CachedGeocoder, error) {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	c, err := lru.New[string, string](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create geocode cache: %w", err)
	}
	return &CachedGeocoder{inner: inner, cache: c}, nil
}

func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	key := fmt.Sprintf("%.3f,%.3f", lat, lon)
	if name, ok := c.cache.Get(key); ok {
		return name, nil
	}
	name, err := c.inner.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return "", err
	}
	// Empty results are not cached so a later lookup can succeed.
	if name != "" {
		c.cache.Add(key, name)
	}
	return name, nil
}

// Len returns the number of cached names.
func (c *CachedGeocoder) Len() int {
	return c.cache.Len()
}
