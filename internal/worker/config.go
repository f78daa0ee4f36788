// Package worker provides background job processing for routepulse: cache
// warming and the Pub/Sub compute transport.
package worker

import (
	"time"

	"github.com/routepulse/routepulse/internal/historical"
	"github.com/routepulse/routepulse/internal/insights"
)

// WarmPreset is one query precomputed for every city.
type WarmPreset struct {
	// Name is the human-readable name of the preset.
	Name string

	Kind            insights.Kind
	Filters         historical.TimeFilters
	IncludePerRoute bool
}

// RefreshConfig holds configuration for the cache warm job.
type RefreshConfig struct {
	// Presets are the queries to precompute.
	// If empty, uses DefaultWarmPresets.
	Presets []WarmPreset

	// Concurrency is the number of concurrent computations.
	// Default: 3
	Concurrency int

	// Timeout is the timeout for each computation.
	// Default: 30 seconds
	Timeout time.Duration

	// Interval is the period between scheduled runs.
	// Default: 15 minutes
	Interval time.Duration
}

// DefaultRefreshConfig returns the default warm configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Presets:     DefaultWarmPresets(),
		Concurrency: 3,
		Timeout:     30 * time.Second,
		Interval:    15 * time.Minute,
	}
}

// DefaultWarmPresets returns the dashboard's default views: the last week and
// the last month over all days and hours.
func DefaultWarmPresets() []WarmPreset {
	periods := []historical.TimePeriod{historical.PeriodLastWeek, historical.PeriodLastMonth}
	kinds := []insights.Kind{insights.KindHistorical, insights.KindRouteMetrics, insights.KindAverageTravelTime}

	presets := make([]WarmPreset, 0, len(periods)*len(kinds))
	for _, period := range periods {
		for _, kind := range kinds {
			presets = append(presets, WarmPreset{
				Name: string(kind) + "/" + string(period),
				Kind: kind,
				Filters: historical.TimeFilters{
					TimePeriod: period,
					Days:       []string{historical.AllDays},
				},
				IncludePerRoute: kind == insights.KindRouteMetrics,
			})
		}
	}
	return presets
}

// withDefaults fills unset fields.
func (c RefreshConfig) withDefaults() RefreshConfig {
	d := DefaultRefreshConfig()
	if len(c.Presets) == 0 {
		c.Presets = d.Presets
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	return c
}

// TotalJobs returns the number of computations a run performs for cities.
func (c RefreshConfig) TotalJobs(cities int) int {
	return cities * len(c.Presets)
}
