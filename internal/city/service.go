package city

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrCatalogueUnavailable is returned when the catalogue cannot be loaded
// and no usable cached copy exists.
var ErrCatalogueUnavailable = errors.New("city catalogue unavailable")

// ServiceConfig holds configuration for the city service.
type ServiceConfig struct {
	// Repository is the catalogue source.
	Repository Repository

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache the catalogue (default: 1 hour).
	CacheTTL time.Duration

	// StaleIfErrorTTL allows serving a stale catalogue when the repository
	// fails (default: 6 hours).
	StaleIfErrorTTL time.Duration
}

// Service serves the validated city catalogue with caching.
type Service struct {
	repo            Repository
	logger          zerolog.Logger
	cacheTTL        time.Duration
	staleIfErrorTTL time.Duration

	mu          sync.RWMutex
	cities      map[string]*City
	ordered     []*City
	fetchedAt   time.Time
	cacheExpiry time.Time
}

// NewService creates a new city service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = time.Hour
	}
	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 6 * time.Hour
	}
	return &Service{
		repo:            cfg.Repository,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		staleIfErrorTTL: staleIfErrorTTL,
	}
}

// List returns every valid city, sorted by ID.
func (s *Service) List(ctx context.Context) ([]*City, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*City, len(s.ordered))
	for i, c := range s.ordered {
		cpy := *c
		out[i] = &cpy
	}
	return out, nil
}

// Get returns a valid city by ID.
func (s *Service) Get(ctx context.Context, id string) (*City, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cities[id]
	if !ok {
		return nil, ErrCityNotFound
	}
	cpy := *c
	return &cpy, nil
}

// InvalidateCache drops the cached catalogue.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheExpiry = time.Time{}
}

func (s *Service) ensureLoaded(ctx context.Context) error {
	s.mu.RLock()
	fresh := s.cities != nil && time.Now().Before(s.cacheExpiry)
	s.mu.RUnlock()
	if fresh {
		return nil
	}
	return s.refresh(ctx)
}

func (s *Service) refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check: another goroutine might have refreshed while we waited
	if s.cities != nil && time.Now().Before(s.cacheExpiry) {
		return nil
	}

	s.logger.Debug().Msg("refreshing city catalogue")

	cities, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load city catalogue")
		if s.cities != nil && time.Now().Before(s.fetchedAt.Add(s.staleIfErrorTTL)) {
			s.logger.Warn().
				Time("fetched_at", s.fetchedAt).
				Msg("serving stale city catalogue due to repository error")
			return nil
		}
		return ErrCatalogueUnavailable
	}

	byID := make(map[string]*City, len(cities))
	ordered := make([]*City, 0, len(cities))
	for _, c := range cities {
		if err := c.Validate(); err != nil {
			s.logger.Warn().Err(err).Str("city_id", c.ID).Msg("skipping invalid city")
			continue
		}
		byID[c.ID] = c
		ordered = append(ordered, c)
	}
	sortCities(ordered)

	now := time.Now()
	s.cities = byID
	s.ordered = ordered
	s.fetchedAt = now
	s.cacheExpiry = now.Add(s.cacheTTL)

	s.logger.Info().Int("cities", len(ordered)).Msg("city catalogue refreshed")
	return nil
}
