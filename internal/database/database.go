// Package database manages the PostgreSQL pool behind the city catalogue and
// the historical record store.
package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds database connection configuration.
type Config struct {
	// URL, when set, takes precedence over the individual fields.
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration

	// ConnectTimeout bounds the whole Connect call including retries.
	ConnectTimeout time.Duration
}

// ConfigFromEnv reads Config from DATABASE_URL or the DB_* variables.
func ConfigFromEnv() Config {
	return Config{
		URL:             os.Getenv("DATABASE_URL"),
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            envInt("DB_PORT", 5432),
		User:            getEnvOrDefault("DB_USER", "routepulse"),
		Password:        getEnvOrDefault("DB_PASSWORD", "localdev"),
		Database:        getEnvOrDefault("DB_NAME", "routepulse"),
		SSLMode:         getEnvOrDefault("DB_SSL_MODE", "disable"),
		MaxConns:        envInt("DB_MAX_OPEN_CONNS", 10),
		MinConns:        envInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnectTimeout:  envDuration("DB_CONNECT_TIMEOUT", 30*time.Second),
	}
}

// Validate reports settings pgxpool would reject or silently clamp.
func (c Config) Validate() error {
	if c.URL == "" && c.Host == "" {
		return errors.New("database: host or DATABASE_URL required")
	}
	if c.MaxConns < 1 || c.MaxConns > math.MaxInt32 {
		return fmt.Errorf("database: max conns %d out of range", c.MaxConns)
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		return fmt.Errorf("database: min conns %d must be within 0-%d", c.MinConns, c.MaxConns)
	}
	return nil
}

// ConnectionString returns the PostgreSQL DSN. Credentials are escaped.
func (c Config) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Connect opens a pool and waits for the server to answer a ping, retrying
// with exponential backoff until ConnectTimeout so services can start before
// the database does.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns) //nolint:gosec // bounded by Validate
	poolConfig.MinConns = int32(cfg.MinConns) //nolint:gosec // bounded by Validate
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0

	ping := func() error { return pool.Ping(ctx) }
	if err := backoff.Retry(ping, backoff.WithContext(bo, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// migrations are applied in order; each index is a schema version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS cities (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		timezone    TEXT NOT NULL,
		use_cases   TEXT[] NOT NULL DEFAULT '{}',
		center_lat  DOUBLE PRECISION,
		center_lon  DOUBLE PRECISION
	)`,
	`CREATE TABLE IF NOT EXISTS routes (
		city_id                  TEXT NOT NULL REFERENCES cities(id),
		id                       TEXT NOT NULL,
		status                   TEXT NOT NULL,
		static_duration_seconds  DOUBLE PRECISION,
		updated_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (city_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS historical_records (
		city_id                  TEXT NOT NULL REFERENCES cities(id),
		route_id                 TEXT NOT NULL,
		record_time              TIMESTAMPTZ NOT NULL,
		duration_seconds         DOUBLE PRECISION,
		static_duration_seconds  DOUBLE PRECISION
	)`,
	`CREATE INDEX IF NOT EXISTS historical_records_city_time
		ON historical_records (city_id, record_time)`,
}

// SchemaVersion is the version Migrate brings the database to.
func SchemaVersion() int { return len(migrations) }

// Migrate applies every migration newer than the recorded schema version in
// a single transaction. It is safe to run concurrently: the version row is
// locked for the duration.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
			id      BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
			version INTEGER NOT NULL
		)`); err != nil {
			return fmt.Errorf("create schema_version: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES (0) ON CONFLICT DO NOTHING`); err != nil {
			return fmt.Errorf("seed schema_version: %w", err)
		}

		var current int
		if err := tx.QueryRow(ctx, `SELECT version FROM schema_version FOR UPDATE`).Scan(&current); err != nil {
			return fmt.Errorf("read schema_version: %w", err)
		}

		for v := current; v < len(migrations); v++ {
			if _, err := tx.Exec(ctx, migrations[v]); err != nil {
				return fmt.Errorf("apply migration %d: %w", v+1, err)
			}
		}
		if current >= len(migrations) {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE schema_version SET version = $1`, len(migrations)); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	})
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}
