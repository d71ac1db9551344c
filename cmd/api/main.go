// Package main provides the entrypoint for the Firewatch API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/firewatch/firewatch/internal/api"
	"github.com/firewatch/firewatch/internal/api/middleware"
	"github.com/firewatch/firewatch/internal/app"
	"github.com/firewatch/firewatch/internal/auth"
	"github.com/firewatch/firewatch/internal/config"
	"github.com/firewatch/firewatch/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "firewatch-api"

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

	// firewatch-api token <operator> [scope...] prints an operator token.
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting Firewatch API")

	ctx := context.Background()

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.OTelEnabled {
		log.Info().
			Str("otlp_endpoint", cfg.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	a, err := app.Build(ctx, app.Options{
		Config:    cfg,
		Logger:    log,
		Meter:     tp.Meter,
		Scheduled: true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble sync controller")
	}
	defer a.Close()

	log.Info().
		Str("cache_backend", cfg.CacheBackend).
		Str("risk_scale", cfg.RiskScale.Name).
		Dur("cadence", cfg.Cadence).
		Str("observer_mode", cfg.ObserverMode).
		Msg("sync controller assembled")

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	if err := a.Controller.Start(runCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to start sync controller")
	}

	router := api.NewRouter(api.RouterConfig{
		Version:      Version,
		BuildTime:    BuildTime,
		Logger:       log,
		Metrics:      metrics,
		Controller:   a.Controller,
		Tokens:       a.Tokens,
		Registry:     a.Registry,
		CacheBackend: cfg.CacheBackend,
		RequireTLS:   cfg.RequireTLS,
		CORSOrigins:  cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	a.Controller.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func issueToken(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: firewatch-api token <operator> [scope...]")
	}
	if cfg.JWTSigningKey == "" {
		return errors.New("JWT_SIGNING_KEY must be set to issue tokens")
	}

	scopes := args[1:]
	if len(scopes) == 0 {
		scopes = []string{auth.ScopeRefetch, auth.ScopeStatus}
	}

	tokens := auth.NewTokenService(auth.TokenConfig{SigningKey: cfg.JWTSigningKey})
	token, expiresAt, err := tokens.IssueOperatorToken(args[0], scopes...)
	if err != nil {
		return err
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "scopes: %s, expires %s\n", strings.Join(scopes, " "), expiresAt.Format(time.RFC3339))
	return nil
}
