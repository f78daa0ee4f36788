package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/routepulse/routepulse/internal/city"
	"github.com/routepulse/routepulse/internal/insights"
	"github.com/routepulse/routepulse/internal/telemetry"
)

const meterName = "github.com/routepulse/routepulse/internal/worker"

// CityLister lists the cities to warm.
type CityLister interface {
	List(ctx context.Context) ([]*city.City, error)
}

// Computer runs one insights computation.
type Computer interface {
	Compute(ctx context.Context, kind insights.Kind, req insights.Request) (any, error)
}

// RefreshJobConfig holds the dependencies of a RefreshJob.
type RefreshJobConfig struct {
	Config   RefreshConfig
	Logger   zerolog.Logger
	Cities   CityLister
	Computer Computer
}

// RefreshJob precomputes the warm presets for every city so the first
// dashboard load of the day is served from cache.
type RefreshJob struct {
	cfg      RefreshConfig
	log      zerolog.Logger
	cities   CityLister
	computer Computer

	runSeconds   metric.Float64Histogram
	computations metric.Int64Counter

	mu    sync.RWMutex
	stats WarmStats
}

// WarmStats accumulates over the lifetime of a job.
type WarmStats struct {
	TotalRuns        int64         `json:"totalRuns"`
	Succeeded        int64         `json:"succeeded"`
	Failed           int64         `json:"failed"`
	CityListFailures int64         `json:"cityListFailures"`
	LastRunAt        time.Time     `json:"lastRunAt"`
	LastRunDuration  time.Duration `json:"lastRunDurationNs"`
	TotalDuration    time.Duration `json:"totalDurationNs"`
}

// RunResult describes one warm pass.
type RunResult struct {
	StartedAt time.Time
	Duration  time.Duration
	Cities    int
	TotalJobs int
	Succeeded int
	Failed    int
	Failures  []WarmFailure
}

// WarmFailure is one preset that could not be computed for a city.
type WarmFailure struct {
	CityID string
	Preset string
	Err    string
}

// NewRefreshJob builds a job. Zero config fields take their defaults.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	meter := telemetry.Meter(meterName)

	// Instruments only fail on invalid names; nil ones are skipped.
	runSeconds, _ := meter.Float64Histogram(
		"worker.warm.duration",
		metric.WithDescription("Duration of cache warm runs in seconds"),
		metric.WithUnit("s"),
	)
	computations, _ := meter.Int64Counter(
		"worker.warm.computations",
		metric.WithDescription("Preset computations run by the warm job"),
		metric.WithUnit("{computation}"),
	)

	return &RefreshJob{
		cfg:          cfg.Config.withDefaults(),
		log:          cfg.Logger,
		cities:       cfg.Cities,
		computer:     cfg.Computer,
		runSeconds:   runSeconds,
		computations: computations,
	}
}

// Run performs one warm pass over every city and preset, at most
// Concurrency computations at a time. Individual failures are collected in
// the result; only a failure to list cities is returned as an error.
func (j *RefreshJob) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()

	cities, err := j.cities.List(ctx)
	if err != nil {
		j.mu.Lock()
		j.stats.CityListFailures++
		j.mu.Unlock()
		return nil, fmt.Errorf("listing cities: %w", err)
	}

	res := &RunResult{
		StartedAt: start,
		Cities:    len(cities),
		TotalJobs: j.cfg.TotalJobs(len(cities)),
	}
	j.log.Info().
		Int("cities", res.Cities).
		Int("total_jobs", res.TotalJobs).
		Int("concurrency", j.cfg.Concurrency).
		Msg("starting cache warm run")

	var (
		g       errgroup.Group
		collect sync.Mutex
	)
	g.SetLimit(j.cfg.Concurrency)
	for _, c := range cities {
		for _, preset := range j.cfg.Presets {
			g.Go(func() error {
				err := j.warm(ctx, c.ID, preset)

				collect.Lock()
				defer collect.Unlock()
				if err == nil {
					res.Succeeded++
					return nil
				}
				res.Failed++
				res.Failures = append(res.Failures, WarmFailure{CityID: c.ID, Preset: preset.Name, Err: err.Error()})
				return nil
			})
		}
	}
	_ = g.Wait()

	res.Duration = time.Since(start)
	j.record(ctx, res)

	j.log.Info().
		Dur("duration", res.Duration).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Msg("cache warm run completed")

	return res, nil
}

// warm computes one preset. Warm requests carry no slot so they never
// supersede interactive ones.
func (j *RefreshJob) warm(ctx context.Context, cityID string, preset WarmPreset) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	taskCtx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	_, err := j.computer.Compute(taskCtx, preset.Kind, insights.Request{
		RequestID:       "warm:" + cityID + ":" + preset.Name,
		CityID:          cityID,
		Filters:         preset.Filters,
		IncludePerRoute: preset.IncludePerRoute,
	})

	if j.computations != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		j.computations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(preset.Kind)),
			attribute.String("status", status),
		))
	}
	if err != nil {
		j.log.Warn().Err(err).
			Str("city_id", cityID).
			Str("preset", preset.Name).
			Msg("warm computation failed")
	}
	return err
}

// Start runs immediately, then once per Interval until ctx is cancelled.
func (j *RefreshJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := j.Run(ctx); err != nil {
			j.log.Error().Err(err).Msg("cache warm run failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (j *RefreshJob) record(ctx context.Context, res *RunResult) {
	if j.runSeconds != nil {
		j.runSeconds.Record(ctx, res.Duration.Seconds())
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.stats.TotalRuns++
	j.stats.Succeeded += int64(res.Succeeded)
	j.stats.Failed += int64(res.Failed)
	j.stats.LastRunAt = res.StartedAt.Add(res.Duration)
	j.stats.LastRunDuration = res.Duration
	j.stats.TotalDuration += res.Duration
}

// Stats returns a copy of the accumulated statistics.
func (j *RefreshJob) Stats() WarmStats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stats
}
