// Package city provides the catalogue of cities whose travel times are
// analysed: their time zone and the range of dates with recorded data.
package city

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/routepulse/routepulse/internal/historical"
)

var (
	// ErrCityNotFound is returned when a city ID is not in the catalogue.
	ErrCityNotFound = errors.New("city not found")

	// ErrInvalidTimezone is returned when a city carries an unknown IANA zone.
	ErrInvalidTimezone = errors.New("invalid timezone")

	// ErrNoData is returned when a city has no recorded travel times.
	ErrNoData = errors.New("city has no historical data")
)

// Point is a geographic coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// City is a city with historical travel-time data.
type City struct {
	ID                  string               `json:"id"`
	Name                string               `json:"name"`
	Timezone            string               `json:"timezone"`
	AvailableDateRanges historical.DateRange `json:"availableDateRanges"`
	Center              *Point               `json:"center,omitempty"`
	UseCases            []string             `json:"useCases,omitempty"`
}

// Validate checks the time zone and date range.
func (c *City) Validate() error {
	if c.ID == "" {
		return errors.New("city id is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil || c.Timezone == "" {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, c.Timezone)
	}
	r := c.AvailableDateRanges
	if !r.StartDate.IsValid() || !r.EndDate.IsValid() {
		return fmt.Errorf("%w: %s", ErrNoData, c.ID)
	}
	if r.EndDate.Before(r.StartDate) {
		return fmt.Errorf("city %s: end date %s before start date %s", c.ID, r.EndDate, r.StartDate)
	}
	return nil
}

// Engine returns the subset of the city the aggregation engine uses.
func (c *City) Engine() *historical.City {
	return &historical.City{
		ID:                  c.ID,
		Timezone:            c.Timezone,
		AvailableDateRanges: c.AvailableDateRanges,
	}
}

// AvailableRangeFromBounds derives the usable date range from the first and
// last record instants. Partial days are trimmed: the start moves forward a
// day unless the first record is exactly at local midnight, and the end moves
// back a day unless the last record is exactly at local midnight.
func AvailableRangeFromBounds(first, last time.Time, loc *time.Location) historical.DateRange {
	f := first.In(loc)
	l := last.In(loc)

	start := civil.DateOf(f)
	if !atMidnight(f) {
		start = start.AddDays(1)
	}
	end := civil.DateOf(l)
	if !atMidnight(l) {
		end = end.AddDays(-1)
	}
	if end.Before(start) {
		end = start
	}
	return historical.DateRange{StartDate: start, EndDate: end}
}

func atMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}
