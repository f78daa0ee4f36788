// Package insights answers travel-time queries for a city: it resolves the
// city, reads records from the store, runs the historical engine and caches
// the results. Requests sharing a slot follow last-request-wins.
package insights

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/routepulse/routepulse/internal/cache"
	"github.com/routepulse/routepulse/internal/city"
	"github.com/routepulse/routepulse/internal/historical"
	"github.com/routepulse/routepulse/internal/records"
)

const (
	// DefaultDebounce coalesces interactive filter changes.
	DefaultDebounce = 200 * time.Millisecond

	// DefaultReplayDebounce coalesces requests during automated time replay.
	DefaultReplayDebounce = time.Second
)

// CityLookup resolves a city from the catalogue.
type CityLookup interface {
	Get(ctx context.Context, id string) (*city.City, error)
}

// Config holds configuration for the insights service.
type Config struct {
	// Cities resolves city IDs.
	Cities CityLookup

	// Records is the record and route store.
	Records records.Store

	// Cache stores results. Defaults to an in-memory cache.
	Cache cache.Cache

	// CacheTTL is how long results are cached (default: 15 minutes).
	CacheTTL time.Duration

	// Encoding selects how record timestamps are read.
	Encoding historical.TimeEncoding

	// Tolerance for the best-range search (default: historical.DefaultTolerance).
	Tolerance float64

	// Debounce applies to requests carrying a slot (default: 200ms).
	// Negative disables debouncing.
	Debounce time.Duration

	// ReplayDebounce applies to replay requests carrying a slot (default: 1s).
	ReplayDebounce time.Duration

	// Now returns the reference instant for local time strings.
	// Defaults to time.Now.
	Now func() time.Time

	// Logger for service operations.
	Logger zerolog.Logger
}

// Service answers the four travel-time queries.
type Service struct {
	cities         CityLookup
	store          records.Store
	cache          cache.Cache
	cacheTTL       time.Duration
	encoding       historical.TimeEncoding
	tolerance      float64
	debounce       time.Duration
	replayDebounce time.Duration
	now            func() time.Time
	logger         zerolog.Logger

	slots   *Slots
	tracer  trace.Tracer
	metrics *instruments
}

// NewService creates a new insights service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Cities == nil {
		return nil, errors.New("insights: city lookup is required")
	}
	if cfg.Records == nil {
		return nil, errors.New("insights: record store is required")
	}

	c := cfg.Cache
	if c == nil {
		c = cache.NewMemoryCache(cache.MemoryConfig{Logger: cfg.Logger})
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = cache.DefaultTTL
	}
	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	replayDebounce := cfg.ReplayDebounce
	if replayDebounce == 0 {
		replayDebounce = DefaultReplayDebounce
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	m, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("insights metrics: %w", err)
	}

	return &Service{
		cities:         cfg.Cities,
		store:          cfg.Records,
		cache:          c,
		cacheTTL:       cacheTTL,
		encoding:       cfg.Encoding,
		tolerance:      cfg.Tolerance,
		debounce:       debounce,
		replayDebounce: replayDebounce,
		now:            now,
		logger:         cfg.Logger,
		slots:          NewSlots(),
		tracer:         otel.Tracer(instrumentationName),
		metrics:        m,
	}, nil
}

// Encoding returns the record time encoding in use.
func (s *Service) Encoding() historical.TimeEncoding {
	return s.encoding
}

// Historical aggregates delay statistics for a city.
func (s *Service) Historical(ctx context.Context, req Request) (historical.UnifiedHistoricalData, error) {
	return execute(ctx, s, KindHistorical, req, func(ctx context.Context, c *historical.City) (historical.UnifiedHistoricalData, error) {
		recs, valid, err := s.load(ctx, c, req.Filters)
		if err != nil {
			return historical.UnifiedHistoricalData{}, err
		}
		return historical.Aggregate(historical.Query{
			Records:       recs,
			ValidRouteIDs: valid,
			City:          c,
			Filters:       &req.Filters,
		}, s.options(req))
	})
}

// RouteMetrics computes network reliability metrics for a city.
func (s *Service) RouteMetrics(ctx context.Context, req Request) (historical.RouteMetricsData, error) {
	return execute(ctx, s, KindRouteMetrics, req, func(ctx context.Context, c *historical.City) (historical.RouteMetricsData, error) {
		recs, valid, err := s.load(ctx, c, req.Filters)
		if err != nil {
			return historical.RouteMetricsData{}, err
		}
		return historical.CalculateRouteMetrics(historical.Query{
			Records:       recs,
			ValidRouteIDs: valid,
			City:          c,
			Filters:       &req.Filters,
		}, s.options(req))
	})
}

// RouteSpecificMetrics computes reliability metrics for one route.
func (s *Service) RouteSpecificMetrics(ctx context.Context, req Request) (historical.RouteSpecificMetricsData, error) {
	return execute(ctx, s, KindRouteSpecific, req, func(ctx context.Context, c *historical.City) (historical.RouteSpecificMetricsData, error) {
		recs, err := s.store.FetchRecords(ctx, c.ID, s.selection(c, req.Filters))
		if err != nil {
			return historical.RouteSpecificMetricsData{}, fmt.Errorf("fetch records: %w", err)
		}
		s.metrics.recordsFetched.Record(ctx, int64(len(recs)), kindAttrs(KindRouteSpecific, c.ID))

		static, err := s.store.StaticDurations(ctx, c.ID)
		if err != nil {
			return historical.RouteSpecificMetricsData{}, fmt.Errorf("fetch static durations: %w", err)
		}
		return historical.CalculateRouteSpecificMetrics(historical.RouteQuery{
			Records:         recs,
			RouteID:         req.RouteID,
			City:            c,
			Filters:         &req.Filters,
			StaticDurations: static,
		}, s.options(req))
	})
}

// AverageTravelTime computes per-route and network travel times by hour.
func (s *Service) AverageTravelTime(ctx context.Context, req Request) (historical.AverageTravelTimeData, error) {
	return execute(ctx, s, KindAverageTravelTime, req, func(ctx context.Context, c *historical.City) (historical.AverageTravelTimeData, error) {
		recs, valid, err := s.load(ctx, c, req.Filters)
		if err != nil {
			return historical.AverageTravelTimeData{}, err
		}
		return historical.AverageTravelTimeByHour(historical.Query{
			Records:       recs,
			ValidRouteIDs: valid,
			City:          c,
			Filters:       &req.Filters,
		}, s.options(req))
	})
}

// Compute dispatches a request by kind. It backs transports that carry the
// kind in the message rather than in the route.
func (s *Service) Compute(ctx context.Context, kind Kind, req Request) (any, error) {
	switch kind {
	case KindHistorical:
		return s.Historical(ctx, req)
	case KindRouteMetrics:
		return s.RouteMetrics(ctx, req)
	case KindRouteSpecific:
		return s.RouteSpecificMetrics(ctx, req)
	case KindAverageTravelTime:
		return s.AverageTravelTime(ctx, req)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// InvalidateCity drops every cached result of a city.
func (s *Service) InvalidateCity(ctx context.Context, cityID string) (int, error) {
	n, err := s.cache.DeletePrefix(ctx, cache.CityPrefix(cityID))
	if err != nil {
		return 0, fmt.Errorf("invalidate %s: %w", cityID, err)
	}
	s.logger.Info().Str("city_id", cityID).Int("keys", n).Msg("invalidated cached results")
	return n, nil
}

// InvalidateAll drops every cached result.
func (s *Service) InvalidateAll(ctx context.Context) (int, error) {
	n, err := s.cache.DeletePrefix(ctx, cache.AllPrefix())
	if err != nil {
		return 0, fmt.Errorf("invalidate all: %w", err)
	}
	s.logger.Info().Int("keys", n).Msg("invalidated all cached results")
	return n, nil
}

func (s *Service) options(req Request) historical.Options {
	return historical.Options{
		Encoding:        s.encoding,
		Reference:       s.now(),
		Tolerance:       s.tolerance,
		IncludePerRoute: req.IncludePerRoute,
		Logger:          s.logger,
	}
}

// selection returns the records to read. Resolution errors leave the window
// empty; the engine reports them as missing input.
func (s *Service) selection(c *historical.City, f historical.TimeFilters) records.Selection {
	w, err := historical.ResolveWindow(f.TimePeriod, f.StartDate, f.EndDate, c.AvailableDateRanges, c.Timezone)
	if err != nil {
		return records.Selection{}
	}
	return records.NewSelection(f, w)
}

func (s *Service) load(ctx context.Context, c *historical.City, f historical.TimeFilters) ([]historical.HistoricalRecord, historical.RouteSet, error) {
	recs, err := s.store.FetchRecords(ctx, c.ID, s.selection(c, f))
	if err != nil {
		return nil, nil, fmt.Errorf("fetch records: %w", err)
	}
	valid, err := s.store.ValidRouteIDs(ctx, c.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch routes: %w", err)
	}
	return recs, valid, nil
}

func (s *Service) debounceFor(req Request) time.Duration {
	if req.Replay {
		return s.replayDebounce
	}
	return s.debounce
}

func (s *Service) cacheKey(kind Kind, req Request) (string, error) {
	q := cacheQuery{
		RouteID:         req.RouteID,
		Filters:         req.Filters,
		IncludePerRoute: req.IncludePerRoute,
		Encoding:        s.encoding.String(),
	}
	q.Filters.Days = canonicalDays(req.Filters.Days)
	if s.encoding == historical.EncodingLocalTimeString {
		// Local time strings are anchored to the current date.
		q.Reference = s.now().Format(time.DateOnly)
	}
	return cache.QueryKey(string(kind), req.CityID, q)
}

// execute runs one computation: validation, slot claim and debounce, city
// lookup, cache lookup, compute, cache store and the supersession check.
func execute[T any](ctx context.Context, s *Service, kind Kind, req Request, compute func(context.Context, *historical.City) (T, error)) (T, error) {
	var zero T

	if err := req.Validate(kind); err != nil {
		return zero, err
	}

	ctx, span := s.tracer.Start(ctx, "insights."+string(kind), trace.WithAttributes(
		attribute.String("insights.kind", string(kind)),
		attribute.String("city.id", req.CityID),
		attribute.String("request.id", req.RequestID),
	))
	defer span.End()

	logger := s.logger.With().
		Str("kind", string(kind)).
		Str("city_id", req.CityID).
		Str("request_id", req.RequestID).
		Logger()

	ticket := s.slots.Claim(req.Slot)
	defer ticket.Release()

	current, err := Debounce(ctx, ticket, s.debounceFor(req))
	if err != nil {
		return zero, err
	}
	if !current {
		return zero, s.superseded(ctx, span, kind, req)
	}

	c, err := s.cities.Get(ctx, req.CityID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}

	key, err := s.cacheKey(kind, req)
	if err != nil {
		return zero, err
	}

	var out T
	hit, err := s.cache.Get(ctx, key, &out)
	if err != nil {
		logger.Warn().Err(err).Msg("result cache read failed")
	}
	if hit {
		s.metrics.cacheHits.Add(ctx, 1, kindAttrs(kind, req.CityID))
		span.SetAttributes(attribute.Bool("cache.hit", true))
		if !ticket.Current() {
			return zero, s.superseded(ctx, span, kind, req)
		}
		return out, nil
	}
	s.metrics.cacheMisses.Add(ctx, 1, kindAttrs(kind, req.CityID))

	started := time.Now()
	out, err = compute(ctx, c.Engine())
	s.metrics.recordCompute(ctx, kind, req.CityID, started, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("computation failed")
		return zero, err
	}

	if err := s.cache.Set(ctx, key, out, s.cacheTTL); err != nil {
		logger.Warn().Err(err).Msg("result cache write failed")
	}

	logger.Debug().Dur("duration", time.Since(started)).Msg("computation complete")

	if !ticket.Current() {
		return zero, s.superseded(ctx, span, kind, req)
	}
	return out, nil
}

func (s *Service) superseded(ctx context.Context, span trace.Span, kind Kind, req Request) error {
	s.metrics.superseded.Add(ctx, 1, kindAttrs(kind, req.CityID))
	span.SetAttributes(attribute.Bool("superseded", true))
	s.logger.Debug().
		Str("kind", string(kind)).
		Str("slot", req.Slot).
		Str("request_id", req.RequestID).
		Msg("discarding superseded result")
	return ErrSuperseded
}
