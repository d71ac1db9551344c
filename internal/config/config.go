// Package config loads Firewatch settings from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/firewatch/firewatch/internal/cache"
	"github.com/firewatch/firewatch/internal/database"
	"github.com/firewatch/firewatch/internal/firerisk"
	"github.com/firewatch/firewatch/internal/firerisk/predictapi"
)

// Cache backends.
const (
	CacheMemory   = "memory"
	CacheRedis    = "redis"
	CachePostgres = "postgres"
)

// Observer location modes.
const (
	ObserverStatic   = "static"
	ObserverIP       = "ip"
	ObserverDisabled = "disabled"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Env             string
	Port            string
	LogLevel        string
	ShutdownTimeout time.Duration

	// Upstream prediction service.
	APIBaseURL   string
	FetchTimeout time.Duration
	RiskScale    firerisk.RiskScale

	// Refresh schedule.
	Cadence        time.Duration
	Timezone       *time.Location
	StaleThreshold time.Duration

	CacheBackend    string
	CacheQuotaBytes int
	Redis           cache.RedisConfig
	Database        database.Config

	ObserverMode      string
	ObserverLat       float64
	ObserverLon       float64
	IPLookupURL       string
	GeocoderURL       string
	GeocoderLanguage  string
	GeocoderCacheSize int

	JWTSigningKey string
	RequireTLS    bool
	CORSOrigins   []string

	PubSubProjectID    string
	PubSubSubscription string

	OTelEnabled     bool
	OTLPEndpoint    string
	OTelSampleRatio float64
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file, when present, fills in variables not already set.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnvOrDefault("FIREWATCH_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("FIREWATCH_FETCH_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	cadence, err := parseDuration("FIREWATCH_CADENCE", "6h")
	if err != nil {
		return nil, err
	}
	stale, err := parseDuration("FIREWATCH_STALE_THRESHOLD", "2h")
	if err != nil {
		return nil, err
	}

	tz, err := time.LoadLocation(getEnvOrDefault("FIREWATCH_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid FIREWATCH_TIMEZONE: %w", err)
	}

	scale, err := firerisk.ScaleByName(os.Getenv("FIREWATCH_RISK_SCALE"))
	if err != nil {
		return nil, fmt.Errorf("invalid FIREWATCH_RISK_SCALE: %w", err)
	}

	quota, err := parseInt("FIREWATCH_CACHE_QUOTA_BYTES", "0")
	if err != nil {
		return nil, err
	}
	redisDB, err := parseInt("REDIS_DB", "0")
	if err != nil {
		return nil, err
	}
	geocoderCacheSize, err := parseInt("FIREWATCH_GEOCODER_CACHE_SIZE", "256")
	if err != nil {
		return nil, err
	}
	dbConfig, err := database.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	sampleRatio, err := strconv.ParseFloat(getEnvOrDefault("OTEL_SAMPLE_RATIO", "1"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OTEL_SAMPLE_RATIO: %w", err)
	}

	cfg := &Config{
		Env:             getEnvOrDefault("APP_ENV", "development"),
		Port:            getEnvOrDefault("APP_PORT", "8080"),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		ShutdownTimeout: shutdownTimeout,

		APIBaseURL:   strings.TrimRight(getEnvOrDefault("FIREWATCH_API_BASE_URL", predictapi.DefaultBaseURL), "/"),
		FetchTimeout: fetchTimeout,
		RiskScale:    scale,

		Cadence:        cadence,
		Timezone:       tz,
		StaleThreshold: stale,

		CacheBackend:    strings.ToLower(getEnvOrDefault("FIREWATCH_CACHE_BACKEND", CacheMemory)),
		CacheQuotaBytes: quota,
		Redis: cache.RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Database: dbConfig,

		ObserverMode:      strings.ToLower(getEnvOrDefault("FIREWATCH_OBSERVER_MODE", ObserverDisabled)),
		IPLookupURL:       os.Getenv("FIREWATCH_IP_LOOKUP_URL"),
		GeocoderURL:       os.Getenv("FIREWATCH_GEOCODER_URL"),
		GeocoderLanguage:  getEnvOrDefault("FIREWATCH_GEOCODER_LANGUAGE", "es"),
		GeocoderCacheSize: geocoderCacheSize,

		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
		RequireTLS:    os.Getenv("REQUIRE_TLS") == "true",
		CORSOrigins:   splitList(os.Getenv("FIREWATCH_CORS_ORIGINS")),

		PubSubProjectID:    os.Getenv("PUBSUB_PROJECT_ID"),
		PubSubSubscription: getEnvOrDefault("PUBSUB_SUBSCRIPTION", "firewatch-jobs"),

		OTelEnabled:     os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:    getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelSampleRatio: sampleRatio,
	}

	if cfg.ObserverMode == ObserverStatic {
		if cfg.ObserverLat, err = parseFloat("FIREWATCH_OBSERVER_LAT"); err != nil {
			return nil, err
		}
		if cfg.ObserverLon, err = parseFloat("FIREWATCH_OBSERVER_LON"); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Cadence < time.Hour {
		return errors.New("FIREWATCH_CADENCE must be at least 1h")
	}
	if c.Cadence%time.Hour != 0 {
		return errors.New("FIREWATCH_CADENCE must be a whole number of hours")
	}
	if c.FetchTimeout <= 0 {
		return errors.New("FIREWATCH_FETCH_TIMEOUT must be positive")
	}
	if c.StaleThreshold <= 0 {
		return errors.New("FIREWATCH_STALE_THRESHOLD must be positive")
	}

	switch c.CacheBackend {
	case CacheMemory, CacheRedis, CachePostgres:
	default:
		return fmt.Errorf("unknown FIREWATCH_CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.CacheBackend == CacheRedis && c.Redis.Addr == "" {
		return errors.New("REDIS_ADDR is required for the redis cache backend")
	}

	switch c.ObserverMode {
	case ObserverStatic:
		if c.ObserverLat < -90 || c.ObserverLat > 90 || c.ObserverLon < -180 || c.ObserverLon > 180 {
			return errors.New("FIREWATCH_OBSERVER_LAT/LON out of range")
		}
	case ObserverIP, ObserverDisabled:
	default:
		return fmt.Errorf("unknown FIREWATCH_OBSERVER_MODE %q", c.ObserverMode)
	}

	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		return errors.New("OTEL_SAMPLE_RATIO must be between 0 and 1")
	}
	if c.GeocoderCacheSize <= 0 {
		return errors.New("FIREWATCH_GEOCODER_CACHE_SIZE must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnvOrDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseInt(key, def string) (int, error) {
	n, err := strconv.Atoi(getEnvOrDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseFloat(key string) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
