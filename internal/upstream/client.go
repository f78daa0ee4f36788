package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

var (
	// ErrCircuitOpen is returned when the breaker rejects a request.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrNotFound is returned for a 404 from the upstream.
	ErrNotFound = errors.New("upstream resource not found")
)

// maxBodyBytes bounds a single upstream document.
const maxBodyBytes = 64 << 20

// StatusError is a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Unwrap maps 404 onto ErrNotFound.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// ClientConfig holds configuration for the resilient client.
type ClientConfig struct {
	// Name identifies the upstream in logs and health reports.
	Name string

	// Timeout bounds a single attempt (default: 15 seconds).
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt (default: 3).
	MaxRetries uint64

	// InitialInterval is the first backoff interval (default: 200ms).
	InitialInterval time.Duration

	// MaxInterval caps the backoff interval (default: 5 seconds).
	MaxInterval time.Duration

	// Breaker configures the circuit breaker. Zero value uses defaults.
	Breaker BreakerConfig

	// Health, if set, receives the outcome of every request.
	Health *Health

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// Logger for retry and breaker events.
	Logger zerolog.Logger
}

// Client fetches JSON documents with retries behind a circuit breaker.
type Client struct {
	name    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	cfg     ClientConfig
	logger  zerolog.Logger
}

// NewClient creates a new resilient client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger.With().Str("upstream", cfg.Name).Logger()
	c := &Client{
		name:   cfg.Name,
		http:   httpClient,
		cfg:    cfg,
		logger: logger,
	}
	c.breaker = newBreaker(cfg.Name, cfg.Breaker, func(_ string, from, to gobreaker.State) {
		logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
	})

	if cfg.Health != nil {
		cfg.Health.Register(cfg.Name, c)
	}
	return c
}

// Name returns the upstream name.
func (c *Client) Name() string {
	return c.name
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// Counts returns the breaker counters.
func (c *Client) Counts() gobreaker.Counts {
	return c.breaker.Counts()
}

// GetJSON fetches url and decodes the body into dest. Transient failures
// (network errors, 5xx, 429) are retried with exponential backoff; other
// statuses fail immediately.
func (c *Client) GetJSON(ctx context.Context, url string, dest any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		c.recordFailure(err)
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// Get fetches url and returns the body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.MaxInterval = c.cfg.MaxInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxRetries), ctx)

	var body []byte
	attempt := 0
	operation := func() error {
		attempt++
		b, err := c.breaker.Execute(func() ([]byte, error) {
			return c.fetch(ctx, url)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}
			var se *StatusError
			if errors.As(err, &se) && !se.Retryable() {
				return backoff.Permanent(err)
			}
			c.logger.Debug().Err(err).Int("attempt", attempt).Msg("upstream request failed")
			return err
		}
		body = b
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		c.recordFailure(err)
		return nil, err
	}
	c.recordSuccess()
	return body, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

func (c *Client) recordSuccess() {
	if c.cfg.Health != nil {
		c.cfg.Health.RecordSuccess(c.name)
	}
}

func (c *Client) recordFailure(err error) {
	if c.cfg.Health != nil {
		c.cfg.Health.RecordFailure(c.name, err)
	}
}
