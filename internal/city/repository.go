package city

import (
	"context"
	"sort"
	"sync"
)

// Repository defines the interface for the city catalogue.
type Repository interface {
	// List returns every city, sorted by ID.
	List(ctx context.Context) ([]*City, error)

	// Get retrieves a city by ID.
	// Returns ErrCityNotFound if the city doesn't exist.
	Get(ctx context.Context, id string) (*City, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and the offline CLI.
type InMemoryRepository struct {
	mu     sync.RWMutex
	cities map[string]*City
}

// NewInMemoryRepository creates a repository holding cities.
func NewInMemoryRepository(cities ...*City) *InMemoryRepository {
	r := &InMemoryRepository{cities: make(map[string]*City)}
	for _, c := range cities {
		r.Put(c)
	}
	return r
}

// Put adds or replaces a city.
func (r *InMemoryRepository) Put(c *City) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cpy := *c
	r.cities[c.ID] = &cpy
}

// List implements Repository.
func (r *InMemoryRepository) List(_ context.Context) ([]*City, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*City, 0, len(r.cities))
	for _, c := range r.cities {
		cpy := *c
		out = append(out, &cpy)
	}
	sortCities(out)
	return out, nil
}

// Get implements Repository.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*City, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.cities[id]
	if !ok {
		return nil, ErrCityNotFound
	}
	cpy := *c
	return &cpy, nil
}

func sortCities(cities []*City) {
	sort.Slice(cities, func(i, j int) bool { return cities[i].ID < cities[j].ID })
}
