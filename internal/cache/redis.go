package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig configures a RedisCache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Default: "routepulse:"
	Prefix string
	Logger zerolog.Logger
}

// RedisCache is a Cache shared between API and worker instances. Values are
// stored as gzip-compressed JSON.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisCacheFromClient(client, cfg), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, cfg RedisConfig) *RedisCache {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "routepulse:"
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: cfg.Logger.With().Str("component", "redis_cache").Logger(),
	}
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	start := time.Now()
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.logger.Debug().Str("key", key).Msg("cache miss")
		return false, nil
	}
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("cache get failed")
		return false, err
	}

	data, err := gzipDecompress(val)
	if err != nil {
		return false, fmt.Errorf("decompress: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("json unmarshal: %w", err)
	}
	c.logger.Debug().
		Str("key", key).
		Int("size_bytes", len(val)).
		Dur("duration", time.Since(start)).
		Msg("cache hit")
	return true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	compressed, err := gzipCompress(data)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if err := c.client.Set(ctx, c.key(key), compressed, ttl).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("cache set failed")
		return err
	}
	c.logger.Debug().
		Str("key", key).
		Int("original_size", len(data)).
		Int("compressed_size", len(compressed)).
		Dur("ttl", ttl).
		Msg("cache set")
	return nil
}

// DeletePrefix implements Cache using SCAN, so it never blocks Redis.
func (c *RedisCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	removed := 0
	iter := c.client.Scan(ctx, 0, c.key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, iter.Err()
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
