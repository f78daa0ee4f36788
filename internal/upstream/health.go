package upstream

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Status summarises an upstream for the readiness check.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// StatusFor maps a breaker state to a Status.
func StatusFor(state gobreaker.State) Status {
	switch state {
	case gobreaker.StateClosed:
		return StatusUp
	case gobreaker.StateHalfOpen:
		return StatusDegraded
	default:
		return StatusDown
	}
}

// SourceHealth is a point-in-time view of one upstream.
type SourceHealth struct {
	Name          string           `json:"name"`
	Status        Status           `json:"status"`
	Counts        gobreaker.Counts `json:"-"`
	LastSuccessAt *time.Time       `json:"lastSuccessAt,omitempty"`
	LastFailureAt *time.Time       `json:"lastFailureAt,omitempty"`
	LastError     string           `json:"lastError,omitempty"`
}

// Health tracks registered upstreams and the outcome of their requests.
type Health struct {
	mu      sync.RWMutex
	sources map[string]*trackedSource
}

type trackedSource struct {
	client        *Client
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewHealth creates an empty tracker.
func NewHealth() *Health {
	return &Health{sources: make(map[string]*trackedSource)}
}

// Register adds a client. Registering a name again replaces it.
func (h *Health) Register(name string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sources[name] = &trackedSource{client: client}
}

// RecordSuccess notes a successful request. Unknown names are ignored.
func (h *Health) RecordSuccess(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sources[name]; ok {
		now := time.Now()
		s.lastSuccessAt = &now
	}
}

// RecordFailure notes a failed request. Unknown names are ignored.
func (h *Health) RecordFailure(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sources[name]; ok {
		now := time.Now()
		s.lastFailureAt = &now
		if err != nil {
			s.lastError = err.Error()
		}
	}
}

// Get returns the health of one upstream, or nil if unknown.
func (h *Health) Get(name string) *SourceHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sources[name]
	if !ok {
		return nil
	}
	return s.snapshot(name)
}

// All returns the health of every upstream, sorted by name.
func (h *Health) All() []*SourceHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*SourceHealth, 0, len(h.sources))
	for name, s := range h.sources {
		out = append(out, s.snapshot(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *trackedSource) snapshot(name string) *SourceHealth {
	return &SourceHealth{
		Name:          name,
		Status:        StatusFor(s.client.State()),
		Counts:        s.client.Counts(),
		LastSuccessAt: s.lastSuccessAt,
		LastFailureAt: s.lastFailureAt,
		LastError:     s.lastError,
	}
}
