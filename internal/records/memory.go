package records

import (
	"context"
	"sync"
	"time"

	"github.com/routepulse/routepulse/internal/historical"
)

// InMemorySource is an in-memory Store.
// This is intended for testing and the offline CLI.
type InMemorySource struct {
	mu      sync.RWMutex
	records map[string][]historical.HistoricalRecord
	routes  map[string][]Route
	fetches int
}

// NewInMemorySource creates an empty source.
func NewInMemorySource() *InMemorySource {
	return &InMemorySource{
		records: make(map[string][]historical.HistoricalRecord),
		routes:  make(map[string][]Route),
	}
}

// SetRecords replaces the records of a city.
func (s *InMemorySource) SetRecords(cityID string, recs []historical.HistoricalRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[cityID] = append([]historical.HistoricalRecord(nil), recs...)
}

// SetRoutes replaces the route catalogue of a city.
func (s *InMemorySource) SetRoutes(cityID string, routes []Route) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[cityID] = append([]Route(nil), routes...)
}

// Fetches returns how many times FetchRecords was called.
func (s *InMemorySource) Fetches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetches
}

// FetchRecords implements Source. Records carrying a LocalDate are narrowed
// to the selected weekdays; everything else is returned as stored.
func (s *InMemorySource) FetchRecords(_ context.Context, cityID string, sel Selection) ([]historical.HistoricalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++

	out := make([]historical.HistoricalRecord, 0, len(s.records[cityID]))
	for _, rec := range s.records[cityID] {
		if rec.LocalDate != nil && !sel.Keeps(rec.LocalDate.In(time.UTC).Weekday()) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// ValidRouteIDs implements RouteSource.
func (s *InMemorySource) ValidRouteIDs(_ context.Context, cityID string) (historical.RouteSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return validIDs(s.routes[cityID]), nil
}

// StaticDurations implements RouteSource.
func (s *InMemorySource) StaticDurations(_ context.Context, cityID string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return staticDurations(s.routes[cityID]), nil
}
