package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"github.com/routepulse/routepulse/internal/api/models"
)

// RateLimit is a request budget per client per window.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// String renders the limit in the form ParseRateLimit accepts.
func (l RateLimit) String() string {
	return strconv.Itoa(l.Requests) + "/" + l.Window.String()
}

// Budgets for each endpoint group.
var (
	// AdminLimit guards cache invalidation, keyed on the token subject.
	AdminLimit = RateLimit{Requests: 10, Window: time.Minute}

	// InsightsLimit guards the aggregation endpoints, keyed on client and city.
	InsightsLimit = RateLimit{Requests: 60, Window: time.Minute}

	// CatalogueLimit guards the city listing.
	CatalogueLimit = RateLimit{Requests: 100, Window: time.Minute}
)

// ParseRateLimit parses "REQUESTS/WINDOW", e.g. "60/1m". A bare window unit
// such as "30/s" counts as one of that unit.
func ParseRateLimit(s string) (RateLimit, error) {
	reqStr, winStr, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return RateLimit{}, fmt.Errorf("rate limit %q: expected REQUESTS/WINDOW", s)
	}

	n, err := strconv.Atoi(reqStr)
	if err != nil || n <= 0 {
		return RateLimit{}, fmt.Errorf("rate limit %q: requests must be a positive integer", s)
	}

	if winStr != "" && (winStr[0] < '0' || winStr[0] > '9') {
		winStr = "1" + winStr
	}
	window, err := time.ParseDuration(winStr)
	if err != nil || window <= 0 {
		return RateLimit{}, fmt.Errorf("rate limit %q: window must be a positive duration", s)
	}

	return RateLimit{Requests: n, Window: window}, nil
}

// LimitByClient limits on the client IP as resolved by chi's RealIP.
func LimitByClient(l RateLimit) func(http.Handler) http.Handler {
	return limiter(l, httprate.KeyByRealIP)
}

// LimitByClientAndCity gives every client a separate budget per city, so a
// dashboard polling one city does not starve its queries for another.
func LimitByClientAndCity(l RateLimit) func(http.Handler) http.Handler {
	return limiter(l, httprate.KeyByRealIP, func(r *http.Request) (string, error) {
		return "city:" + chiParam(r, "cityId"), nil
	})
}

// LimitBySubject limits on the verified token subject, falling back to the
// client IP for requests that reached it without one.
func LimitBySubject(l RateLimit) func(http.Handler) http.Handler {
	return limiter(l, func(r *http.Request) (string, error) {
		if subject := GetSubject(r.Context()); subject != "" {
			return "sub:" + subject, nil
		}
		return httprate.KeyByRealIP(r)
	})
}

func limiter(l RateLimit, keys ...httprate.KeyFunc) func(http.Handler) http.Handler {
	return httprate.Limit(
		l.Requests,
		l.Window,
		httprate.WithKeyFuncs(keys...),
		httprate.WithLimitHandler(limitExceeded(l.Window)),
	)
}

// limitExceeded answers with a 429 problem. httprate does not expose the reset
// time, so Retry-After is the full window.
func limitExceeded(window time.Duration) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(math.Ceil(window.Seconds())))

	return func(w http.ResponseWriter, r *http.Request) {
		problem := models.NewTooManyRequests(GetRequestID(r.Context()), "rate limit exceeded, retry after "+retryAfter+"s")
		problem.Instance = r.URL.Path

		w.Header().Set("Retry-After", retryAfter)
		problem.Write(w)
	}
}
