// Package upstream provides the resilient HTTP client used to read record
// data from remote stores, with retries, a circuit breaker and health
// tracking for the readiness check.
package upstream

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig holds configuration for the circuit breaker.
type BreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed in half-open state.
	// Default: 1
	MaxRequests uint32

	// Interval is the cyclic period for clearing internal counts when closed.
	// Default: 0 (disabled)
	Interval time.Duration

	// OpenTimeout is the period of open state before switching to half-open.
	// Default: 30 seconds
	OpenTimeout time.Duration

	// ReadyToTrip determines when to trip the breaker.
	// If nil, uses DefaultReadyToTrip.
	ReadyToTrip func(counts gobreaker.Counts) bool
}

// DefaultBreakerConfig returns the breaker settings used for record stores.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests: 1,
		OpenTimeout: 30 * time.Second,
		ReadyToTrip: DefaultReadyToTrip,
	}
}

// DefaultReadyToTrip trips after at least 5 requests with a failure rate of
// 50% or higher.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < 5 {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

func newBreaker(name string, cfg BreakerConfig, onChange func(name string, from, to gobreaker.State)) *gobreaker.CircuitBreaker[[]byte] {
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = DefaultReadyToTrip
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:          name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.OpenTimeout,
		ReadyToTrip:   cfg.ReadyToTrip,
		OnStateChange: onChange,
		IsExcluded:    isClientError,
	})
}

// isClientError keeps non-retryable statuses out of the breaker counts; a
// missing document says nothing about upstream health.
func isClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && !se.Retryable()
}
