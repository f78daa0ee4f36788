// Package cache stores computed query results with a time-to-live.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTTL is how long a query result stays valid.
const DefaultTTL = 15 * time.Minute

// Cache stores JSON-encodable values under string keys.
type Cache interface {
	// Get decodes the value under key into dest. It reports false on a miss.
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix and returns how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache. Values are stored encoded, so callers
// never share a decoded value.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	logger  zerolog.Logger
	now     func() time.Time
}

// MemoryConfig configures a MemoryCache.
type MemoryConfig struct {
	Logger zerolog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache(cfg MemoryConfig) *MemoryCache {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		logger:  cfg.Logger.With().Str("component", "memory_cache").Logger(),
		now:     now,
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expiresAt) {
		c.logger.Debug().Str("key", key).Msg("cache miss")
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, fmt.Errorf("json unmarshal: %w", err)
	}
	c.logger.Debug().Str("key", key).Msg("cache hit")
	return true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	c.entries[key] = memoryEntry{data: data, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// DeletePrefix implements Cache.
func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Cleanup removes expired entries.
func (c *MemoryCache) Cleanup() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (c *MemoryCache) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Cleanup()
			}
		}
	}()
}
