// Package main runs the routepulse HTTP API.
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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/routepulse/routepulse/internal/api"
	"github.com/routepulse/routepulse/internal/api/middleware"
	"github.com/routepulse/routepulse/internal/app"
	"github.com/routepulse/routepulse/internal/auth"
	"github.com/routepulse/routepulse/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const (
	serviceName     = "routepulse-api"
	shutdownTimeout = 30 * time.Second
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error().Err(err).Msg("api exited")
		stop()
		os.Exit(1) //nolint:gocritic // deferred cleanup already ran inside run
	}
}

// run serves until ctx is cancelled, then drains in-flight requests.
func run(ctx context.Context, log zerolog.Logger) error {
	log.Info().Str("build_time", BuildTime).Msg("starting routepulse API")

	telemetryCfg := telemetry.ConfigFromEnv(serviceName, Version)
	tp, err := telemetry.Init(ctx, telemetryCfg, log)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			log.Error().Err(err).Msg("failed to flush telemetry")
		}
	}()
	if tp.Enabled() {
		log.Info().
			Str("otlp_endpoint", telemetryCfg.OTLPEndpoint).
			Float64("sample_ratio", telemetryCfg.SampleRatio).
			Msg("telemetry export enabled")
	}

	metrics, err := middleware.NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	appCfg, err := app.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	services, err := app.New(ctx, appCfg, log)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	defer services.Close()

	signingKey := os.Getenv("JWT_SIGNING_KEY")
	if signingKey == "" {
		log.Warn().Msg("JWT_SIGNING_KEY not set, admin endpoints answer 503")
	}

	router := api.NewRouter(api.RouterConfig{
		Version:            Version,
		BuildTime:          BuildTime,
		Mode:               appCfg.Encoding.String(),
		Logger:             log,
		ServiceName:        serviceName,
		Metrics:            metrics,
		Cities:             services.Cities,
		Insights:           services.Insights,
		Tokens:             auth.NewTokenService(auth.TokenConfig{SigningKey: signingKey}),
		Health:             services.Health,
		ReadinessChecks:    services.ReadinessChecks(),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		RequireTLS:         os.Getenv("REQUIRE_TLS") == "true" || appCfg.Env == "production",
		InsightsLimit:      rateLimitFromEnv(log, "INSIGHTS_RATE_LIMIT"),
		AdminLimit:         rateLimitFromEnv(log, "ADMIN_RATE_LIMIT"),
	})

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Uncached aggregations over a month of records can take a while
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

// splitList splits a comma-separated env value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// rateLimitFromEnv reads a REQUESTS/WINDOW budget. Unset or malformed values
// leave the router default in place.
func rateLimitFromEnv(log zerolog.Logger, key string) middleware.RateLimit {
	raw := os.Getenv(key)
	if raw == "" {
		return middleware.RateLimit{}
	}
	l, err := middleware.ParseRateLimit(raw)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("ignoring rate limit override")
		return middleware.RateLimit{}
	}
	return l
}
