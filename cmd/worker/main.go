// Package main provides the entrypoint for the Firewatch Pub/Sub worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/firewatch/firewatch/internal/api/handler"
	"github.com/firewatch/firewatch/internal/api/middleware"
	"github.com/firewatch/firewatch/internal/api/response"
	"github.com/firewatch/firewatch/internal/app"
	"github.com/firewatch/firewatch/internal/config"
	"github.com/firewatch/firewatch/internal/telemetry"
	"github.com/firewatch/firewatch/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "firewatch-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if level, lerr := zerolog.ParseLevel(cfg.LogLevel); lerr == nil {
		log = log.Level(level)
	}
	if cfg.PubSubProjectID == "" {
		log.Fatal().Msg("PUBSUB_PROJECT_ID is required")
	}

	log.Info().Str("build_time", BuildTime).Msg("starting Firewatch worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTelEnabled,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	// Cycles run only when a job arrives; the API process owns the schedule.
	a, err := app.Build(ctx, app.Options{
		Config: cfg,
		Logger: log,
		Meter:  tp.Meter,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble sync controller")
	}
	defer a.Close()

	runner := worker.NewJobRunner(worker.JobRunnerConfig{
		Syncer: a.Controller,
		Logger: log.With().Str("component", "jobs").Logger(),
	})

	subscriber, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		ProjectID:        cfg.PubSubProjectID,
		SubscriptionName: cfg.PubSubSubscription,
		Runner:           runner,
		Logger:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub handler")
	}
	defer func() {
		if closeErr := subscriber.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close pubsub client")
		}
	}()

	// Worker also exposes health endpoints for Cloud Run.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      healthRouter(a, runner, cfg, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	go func() {
		if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("pubsub receive stopped")
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	m := runner.Metrics()
	log.Info().
		Int64("total_jobs", m.TotalJobs).
		Int64("failed_jobs", m.FailedJobs).
		Int64("skipped_jobs", m.SkippedJobs).
		Msg("worker stopped")
}

func healthRouter(a *app.App, runner *worker.JobRunner, cfg *config.Config, log zerolog.Logger) http.Handler {
	ops := handler.NewOpsHandler(handler.OpsConfig{
		Version:      Version,
		BuildTime:    BuildTime,
		State:        a.Controller,
		Registry:     a.Registry,
		CacheBackend: cfg.CacheBackend,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Get("/health", ops.HealthCheck)
	r.Get("/status", ops.SystemStatus)
	r.Get("/jobs", func(w http.ResponseWriter, req *http.Request) {
		m := runner.Metrics()
		response.JSON(w, req, http.StatusOK, map[string]interface{}{
			"totalJobs":       m.TotalJobs,
			"successfulJobs":  m.SuccessfulJobs,
			"failedJobs":      m.FailedJobs,
			"skippedJobs":     m.SkippedJobs,
			"lastJobAt":       m.LastJobAt,
			"lastJobDuration": m.LastJobDuration.String(),
		})
	})
	return r
}
