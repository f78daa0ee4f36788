// Package app builds the routepulse service graph from configuration. Both
// the API server and the worker start from it.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/routepulse/routepulse/internal/api/handler"
	"github.com/routepulse/routepulse/internal/cache"
	"github.com/routepulse/routepulse/internal/city"
	"github.com/routepulse/routepulse/internal/database"
	"github.com/routepulse/routepulse/internal/historical"
	"github.com/routepulse/routepulse/internal/insights"
	"github.com/routepulse/routepulse/internal/records"
	"github.com/routepulse/routepulse/internal/upstream"
)

// Record source kinds.
const (
	SourcePostgres = "postgres"
	SourceHTTP     = "http"
)

// Config holds the settings shared by every binary.
type Config struct {
	Env string

	// Encoding follows APPLICATION_MODE: demo reads ISO timestamps, live
	// reads local time strings.
	Encoding historical.TimeEncoding

	// RecordSource selects where records come from: "postgres" or "http".
	RecordSource string

	// DemoDataBaseURL is the root of the static JSON documents for the http
	// source.
	DemoDataBaseURL string

	Database database.Config

	// RedisAddr enables the Redis result cache; empty uses process memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CacheTTL time.Duration
}

// ConfigFromEnv reads Config from environment variables.
func ConfigFromEnv() (Config, error) {
	enc, err := historical.ParseTimeEncoding(getEnvOrDefault("APPLICATION_MODE", "demo"))
	if err != nil {
		return Config{}, fmt.Errorf("APPLICATION_MODE: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	if err != nil {
		return Config{}, fmt.Errorf("REDIS_DB: %w", err)
	}

	ttl, err := parseSeconds(getEnvOrDefault("CACHE_TTL", "900"))
	if err != nil {
		return Config{}, fmt.Errorf("CACHE_TTL: %w", err)
	}

	cfg := Config{
		Env:             getEnvOrDefault("APP_ENV", "development"),
		Encoding:        enc,
		RecordSource:    strings.ToLower(getEnvOrDefault("RECORD_SOURCE", SourcePostgres)),
		DemoDataBaseURL: os.Getenv("DEMO_DATA_BASE_URL"),
		Database:        database.ConfigFromEnv(),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         redisDB,
		CacheTTL:        ttl,
	}

	switch cfg.RecordSource {
	case SourcePostgres:
	case SourceHTTP:
		if cfg.DemoDataBaseURL == "" {
			return Config{}, errors.New("DEMO_DATA_BASE_URL is required when RECORD_SOURCE=http")
		}
	default:
		return Config{}, fmt.Errorf("RECORD_SOURCE: unknown source %q", cfg.RecordSource)
	}
	return cfg, nil
}

// parseSeconds accepts a plain number of seconds or a Go duration.
func parseSeconds(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// App is the wired service graph.
type App struct {
	Cities   *city.Service
	Insights *insights.Service
	Health   *upstream.Health

	pool  *pgxpool.Pool
	redis *cache.RedisCache
}

// New connects to the configured backends and builds the services.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*App, error) {
	a := &App{Health: upstream.NewHealth()}

	var (
		store    records.Store
		cityRepo city.Repository
	)
	switch cfg.RecordSource {
	case SourceHTTP:
		client := upstream.NewClient(upstream.ClientConfig{
			Name:   "demo-data",
			Health: a.Health,
			Logger: log,
		})
		store = records.NewHTTPSource(cfg.DemoDataBaseURL, client)

		// Invalid cities are left out; the rest are still served
		envRepo, err := city.NewEnvRepository(os.Environ())
		if err != nil {
			log.Warn().Err(err).Msg("skipping invalid cities")
		}
		cityRepo = envRepo

		log.Info().Str("base_url", cfg.DemoDataBaseURL).Msg("using static JSON record source")

	default:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		a.pool = pool
		store = records.NewPostgresSource(pool, cfg.Encoding)
		cityRepo = city.NewPostgresRepository(pool)

		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("database connected")
	}

	var resultCache cache.Cache
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Logger:   log,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.redis = rc
		resultCache = rc
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis cache connected")
	} else {
		resultCache = cache.NewMemoryCache(cache.MemoryConfig{Logger: log})
	}

	a.Cities = city.NewService(city.ServiceConfig{
		Repository: cityRepo,
		Logger:     log,
	})

	svc, err := insights.NewService(insights.Config{
		Cities:   a.Cities,
		Records:  store,
		Cache:    resultCache,
		CacheTTL: cfg.CacheTTL,
		Encoding: cfg.Encoding,
		Logger:   log,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating insights service: %w", err)
	}
	a.Insights = svc

	log.Info().
		Str("encoding", cfg.Encoding.String()).
		Str("record_source", cfg.RecordSource).
		Bool("redis", a.redis != nil).
		Msg("services initialized")

	return a, nil
}

// Pool returns the database pool, or nil when records come over HTTP.
func (a *App) Pool() *pgxpool.Pool {
	return a.pool
}

// ReadinessChecks returns a check per connected backend.
func (a *App) ReadinessChecks() []handler.ReadinessCheck {
	var checks []handler.ReadinessCheck
	if a.pool != nil {
		checks = append(checks, handler.ReadinessCheck{Name: "database", Check: a.pool.Ping})
	}
	if a.redis != nil {
		checks = append(checks, handler.ReadinessCheck{Name: "cache", Check: a.redis.Ping})
	}
	return checks
}

// Close releases backend connections.
func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
