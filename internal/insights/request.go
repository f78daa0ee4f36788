package insights

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/routepulse/routepulse/internal/cache"
	"github.com/routepulse/routepulse/internal/historical"
)

var (
	// ErrSuperseded is returned when a newer request for the same slot
	// started before this one delivered its result.
	ErrSuperseded = errors.New("request superseded by a newer request")

	// ErrInvalidRequest is wrapped by every ValidationError.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownKind is returned by Compute for an unsupported kind.
	ErrUnknownKind = errors.New("unknown computation kind")
)

// Kind names one of the computations the service answers.
type Kind string

const (
	KindHistorical        Kind = cache.KindHistorical
	KindRouteMetrics      Kind = cache.KindRouteMetrics
	KindRouteSpecific     Kind = cache.KindRouteSpecific
	KindAverageTravelTime Kind = cache.KindAverageTravelTime
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindHistorical, KindRouteMetrics, KindRouteSpecific, KindAverageTravelTime:
		return true
	}
	return false
}

// Request is one computation request.
type Request struct {
	// RequestID is echoed back to the caller; it plays no part in the result.
	RequestID string `json:"requestId,omitempty"`

	CityID  string                 `json:"cityId"`
	RouteID string                 `json:"routeId,omitempty"`
	Filters historical.TimeFilters `json:"filters"`

	// IncludePerRoute adds per-route maps to route metrics.
	IncludePerRoute bool `json:"includePerRoute,omitempty"`

	// Slot enables last-request-wins: a request is discarded when a newer
	// request with the same slot starts before it completes.
	Slot string `json:"slot,omitempty"`

	// Replay selects the longer debounce used during automated time replay.
	Replay bool `json:"replay,omitempty"`
}

// FieldIssue is one invalid field.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field of a request.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.Field + ": " + is.Message
	}
	return fmt.Sprintf("%s: %s", ErrInvalidRequest, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// Validate checks a request for kind. It returns a *ValidationError or nil.
func (r Request) Validate(kind Kind) error {
	var issues []FieldIssue
	add := func(field, msg string) {
		issues = append(issues, FieldIssue{Field: field, Message: msg})
	}

	if r.CityID == "" {
		add("cityId", "is required")
	}
	if kind == KindRouteSpecific && r.RouteID == "" {
		add("routeId", "is required")
	}
	issues = append(issues, ValidateFilters(r.Filters)...)

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// ValidateFilters checks time filters and returns the invalid fields.
func ValidateFilters(f historical.TimeFilters) []FieldIssue {
	var issues []FieldIssue
	add := func(field, msg string) {
		issues = append(issues, FieldIssue{Field: field, Message: msg})
	}

	if !f.TimePeriod.Valid() {
		add("filters.timePeriod", fmt.Sprintf("unknown time period %q", f.TimePeriod))
	}
	if f.TimePeriod == historical.PeriodCustom {
		if f.StartDate == nil {
			add("filters.startDate", "is required for a custom period")
		}
		if f.EndDate == nil {
			add("filters.endDate", "is required for a custom period")
		}
		if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
			add("filters.endDate", "must not be before startDate")
		}
	}
	if f.HourRange != nil {
		if err := f.HourRange.Validate(); err != nil {
			add("filters.hourRange", err.Error())
		}
	}
	for _, d := range f.Days {
		if strings.EqualFold(strings.TrimSpace(d), historical.AllDays) {
			continue
		}
		if _, ok := historical.ParseWeekday(d); !ok {
			add("filters.days", fmt.Sprintf("unknown day %q", d))
		}
	}
	return issues
}

// cacheQuery is the part of a request that determines its result.
type cacheQuery struct {
	RouteID         string                 `json:"routeId,omitempty"`
	Filters         historical.TimeFilters `json:"filters"`
	IncludePerRoute bool                   `json:"includePerRoute,omitempty"`
	Encoding        string                 `json:"encoding"`
	Reference       string                 `json:"reference,omitempty"`
}

// canonicalDays reduces a day selection to sorted lowercase weekday names so
// that selections naming the same days share a cache key. Nil means every day.
func canonicalDays(days []string) []string {
	set := historical.ResolveDays(days)
	if set == nil {
		return nil
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, strings.ToLower(d.String()))
	}
	slices.Sort(out)
	return out
}
