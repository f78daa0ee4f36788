package historical

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultTolerance is how far, as a factor, an hour's delay ratio may
	// drift from the running average before a best-range candidate ends.
	DefaultTolerance = 1.1

	// flatDelayRatio is the peak delay ratio under which the network is
	// treated as uncongested and the best range equals the peak range.
	flatDelayRatio = 1.1
)

// Query is the full input of one engine call.
type Query struct {
	Records       []HistoricalRecord
	ValidRouteIDs RouteSet
	City          *City
	Filters       *TimeFilters
}

// Options tunes how a query is evaluated.
type Options struct {
	// Encoding selects how record timestamps are parsed.
	Encoding TimeEncoding
	// Reference anchors local time strings. Defaults to now in the city zone.
	Reference time.Time
	// Tolerance for the best-range search. Defaults to DefaultTolerance.
	Tolerance float64
	// IncludePerRoute adds per-route maps to reliability results.
	IncludePerRoute bool
	// Logger receives a debug summary of skipped records. The zero value
	// discards output.
	Logger zerolog.Logger
}

func (o Options) tolerance() float64 {
	if o.Tolerance <= 1 {
		return DefaultTolerance
	}
	return o.Tolerance
}

// preparedQuery holds what every engine path derives from a query once.
type preparedQuery struct {
	city      City
	filters   TimeFilters
	location  *time.Location
	window    Window
	filter    *RecordFilter
	reference time.Time
}

// prepare validates a query and resolves its window and filter. Missing
// inputs are reported as MissingInputError; anything else is a structural
// error.
func prepare(q Query, opts Options) (*preparedQuery, error) {
	if q.City == nil {
		return nil, &MissingInputError{Input: "city"}
	}
	if q.Filters == nil {
		return nil, &MissingInputError{Input: "time filters"}
	}
	if !q.Filters.TimePeriod.Valid() {
		return nil, fmt.Errorf("unknown time period %q", q.Filters.TimePeriod)
	}

	loc, err := time.LoadLocation(q.City.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", q.City.Timezone, err)
	}

	window, err := ResolveWindow(q.Filters.TimePeriod, q.Filters.StartDate, q.Filters.EndDate, q.City.AvailableDateRanges, q.City.Timezone)
	if err != nil {
		return nil, err
	}

	reference := opts.Reference
	if reference.IsZero() {
		reference = time.Now()
	}
	reference = reference.In(loc)

	filter, err := NewRecordFilter(q.ValidRouteIDs, *q.Filters, window, opts.Encoding, reference)
	if err != nil {
		return nil, err
	}

	return &preparedQuery{
		city:      *q.City,
		filters:   *q.Filters,
		location:  loc,
		window:    window,
		filter:    filter,
		reference: reference,
	}, nil
}

// isMissingInput reports whether err should produce an empty result rather
// than fail the call.
func isMissingInput(err error) bool {
	return errors.Is(err, ErrMissingInput)
}

// skipTally counts records left out of a pass. It is logged once per call.
type skipTally struct {
	filtered int
	numeric  int
	rejected int
}

func (t skipTally) log(logger zerolog.Logger, pass string, used int) {
	if t.filtered == 0 && t.numeric == 0 && t.rejected == 0 {
		return
	}
	logger.Debug().
		Str("pass", pass).
		Int("used", used).
		Int("filtered", t.filtered).
		Int("invalid_numeric", t.numeric).
		Int("rejected", t.rejected).
		Msg("skipped historical records")
}
