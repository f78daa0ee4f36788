// Package main runs the routepulse worker: the Pub/Sub compute transport and
// the periodic cache warm job, plus a small health server for the platform.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/routepulse/routepulse/internal/app"
	"github.com/routepulse/routepulse/internal/telemetry"
	"github.com/routepulse/routepulse/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "routepulse-worker"

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
		log.Error().Err(err).Msg("worker exited")
		stop()
		os.Exit(1) //nolint:gocritic // deferred cleanup already ran inside run
	}
}

// run starts every component under one errgroup. The first component to fail
// cancels the rest.
func run(ctx context.Context, log zerolog.Logger) error {
	log.Info().Str("build_time", BuildTime).Msg("starting routepulse worker")

	tp, err := telemetry.Init(ctx, telemetry.ConfigFromEnv(serviceName, Version), log)
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

	appCfg, err := app.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	services, err := app.New(ctx, appCfg, log)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	defer services.Close()

	refreshCfg := worker.DefaultRefreshConfig()
	if raw := os.Getenv("WARM_INTERVAL"); raw != "" {
		if refreshCfg.Interval, err = time.ParseDuration(raw); err != nil {
			return fmt.Errorf("WARM_INTERVAL: %w", err)
		}
	}
	refreshJob := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:   refreshCfg,
		Logger:   log.With().Str("component", "warm").Logger(),
		Cities:   services.Cities,
		Computer: services.Insights,
	})

	g, gctx := errgroup.WithContext(ctx)

	if os.Getenv("WARM_ENABLED") != "false" {
		g.Go(func() error {
			refreshJob.Start(gctx)
			return nil
		})
	}

	if projectID := os.Getenv("PUBSUB_PROJECT_ID"); projectID != "" {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        projectID,
			SubscriptionName: getEnvOrDefault("PUBSUB_SUBSCRIPTION", "routepulse-compute"),
			ResponseTopic:    getEnvOrDefault("PUBSUB_RESPONSE_TOPIC", "routepulse-results"),
			Insights:         services.Insights,
			RefreshJob:       refreshJob,
			Logger:           log.With().Str("component", "pubsub").Logger(),
		})
		if err != nil {
			return fmt.Errorf("init pubsub: %w", err)
		}
		defer func() {
			if err := handler.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()

		g.Go(func() error {
			if err := handler.Start(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("pubsub receive: %w", err)
			}
			return nil
		})
	} else {
		log.Warn().Msg("PUBSUB_PROJECT_ID not set, only the warm job runs")
	}

	port := getEnvOrDefault("APP_PORT", "8080")
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           healthMux(services, refreshJob),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down worker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info().Msg("worker stopped")
	return err
}

// healthMux serves the platform health checks. /health also reports warm job
// progress so operators can see it without scraping metrics.
func healthMux(services *app.App, job *worker.RefreshJob) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "healthy",
			"version": Version,
			"warm":    job.Stats(),
		})
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		for _, check := range services.ReadinessChecks() {
			checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := check.Check(checkCtx)
			cancel()
			if err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"check":  check.Name,
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
