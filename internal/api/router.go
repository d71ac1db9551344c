// Package api provides the HTTP API for Firewatch.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/firewatch/firewatch/internal/api/handler"
	"github.com/firewatch/firewatch/internal/api/middleware"
	"github.com/firewatch/firewatch/internal/auth"
	"github.com/firewatch/firewatch/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version      string
	BuildTime    string
	Logger       zerolog.Logger
	Metrics      *middleware.Metrics
	Controller   handler.FireRiskController
	Tokens       middleware.TokenValidator
	Registry     *resilience.Registry
	CacheBackend string

	// RequireTLS rejects plain-HTTP requests forwarded by the load balancer.
	RequireTLS bool

	// CORSOrigins lists browser origins allowed to read the API.
	CORSOrigins []string
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID) // Generate/propagate request ID first
	r.Use(middleware.Tracing()) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.CORS(cfg.CORSOrigins)) // Before routing so preflights are answered
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:      cfg.Version,
		BuildTime:    cfg.BuildTime,
		State:        cfg.Controller,
		Registry:     cfg.Registry,
		CacheBackend: cfg.CacheBackend,
	})
	fireRiskHandler := handler.NewFireRiskHandler(cfg.Controller)

	refetchAuth := middleware.Auth(cfg.Tokens, auth.ScopeRefetch)
	statusAuth := middleware.Auth(cfg.Tokens, auth.ScopeStatus)

	operatorRateLimit := middleware.RateLimit(middleware.RefetchQuota)
	expensiveRateLimit := middleware.RateLimit(middleware.NearestQuota)
	standardRateLimit := middleware.RateLimit(middleware.ReadQuota)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(statusAuth).Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/fire-risk", func(r chi.Router) {
			r.With(standardRateLimit).Get("/", fireRiskHandler.GetState)
			r.With(refetchAuth, operatorRateLimit).Post("/refetch", fireRiskHandler.Refetch)

			r.Route("/stations", func(r chi.Router) {
				r.Use(standardRateLimit)
				r.Get("/", fireRiskHandler.ListStations)
				r.Get("/aggregate", fireRiskHandler.ListAggregates)
				r.Get("/{name}", fireRiskHandler.GetStation)
			})

			// Nearest scans the whole dataset per request.
			r.With(expensiveRateLimit).Get("/nearest", fireRiskHandler.Nearest)
		})

		r.With(standardRateLimit).Get("/observer", fireRiskHandler.GetObserver)
	})

	return r
}
