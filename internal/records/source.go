// Package records reads historical travel-time records and the route
// catalogue from the configured store.
package records

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/routepulse/routepulse/internal/historical"
)

// ErrUnknownCity is returned when a store holds nothing for a city.
var ErrUnknownCity = errors.New("no records for city")

// RouteStatusRunning marks a route whose records are considered valid.
const RouteStatusRunning = "STATUS_RUNNING"

// Selection narrows a fetch.
type Selection struct {
	Window historical.Window

	// Weekdays keeps records whose city-local weekday is listed. Nil keeps
	// every day.
	Weekdays []time.Weekday
}

// NewSelection builds the selection of a query from its filters and the
// window ResolveWindow produced for them.
func NewSelection(filters historical.TimeFilters, window historical.Window) Selection {
	return Selection{
		Window:   window,
		Weekdays: historical.SelectedWeekdays(filters.Days, window),
	}
}

// Keeps reports whether a record dated d passes the weekday selection.
func (s Selection) Keeps(d time.Weekday) bool {
	return s.Weekdays == nil || slices.Contains(s.Weekdays, d)
}

// DayNumbers lists the weekdays as PostgreSQL day-of-week numbers, Sunday
// being 0. It returns nil when every day is kept.
func (s Selection) DayNumbers() []int32 {
	if s.Weekdays == nil {
		return nil
	}
	out := make([]int32, len(s.Weekdays))
	for i, d := range s.Weekdays {
		out[i] = int32(d)
	}
	return out
}

// Source fetches raw records for a city.
type Source interface {
	// FetchRecords returns the records of cityID matching sel. Sources may
	// return records outside the selection; the engine filters them again.
	// Records whose RecordTime is a bare time of day carry their LocalDate
	// when the source knows it.
	FetchRecords(ctx context.Context, cityID string, sel Selection) ([]historical.HistoricalRecord, error)
}

// RouteSource describes the routes of a city.
type RouteSource interface {
	// ValidRouteIDs returns the IDs of the routes currently running.
	ValidRouteIDs(ctx context.Context, cityID string) (historical.RouteSet, error)

	// StaticDurations returns the latest static duration per running route.
	StaticDurations(ctx context.Context, cityID string) (map[string]float64, error)
}

// Store is a Source that also describes routes.
type Store interface {
	Source
	RouteSource
}

// Route is one entry of a city's route catalogue.
type Route struct {
	ID                    string             `json:"id"`
	Status                string             `json:"status"`
	StaticDurationSeconds historical.Seconds `json:"staticDurationSeconds"`
}

// Running reports whether the route counts as valid.
func (r Route) Running() bool {
	return r.Status == RouteStatusRunning
}

func validIDs(routes []Route) historical.RouteSet {
	set := historical.NewRouteSet()
	for _, r := range routes {
		if r.Running() && r.ID != "" {
			set.Add(r.ID)
		}
	}
	return set
}

func staticDurations(routes []Route) map[string]float64 {
	out := make(map[string]float64, len(routes))
	for _, r := range routes {
		if !r.Running() || r.ID == "" {
			continue
		}
		if v := r.StaticDurationSeconds.Float(); v > 0 {
			out[r.ID] = v
		}
	}
	return out
}
