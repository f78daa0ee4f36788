package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routepulse/routepulse/internal/api/middleware"
	"github.com/routepulse/routepulse/internal/api/models"
	"github.com/routepulse/routepulse/internal/auth"
)

func statusFrom(h http.Handler, method, path, remoteAddr string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestParseRateLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    middleware.RateLimit
		wantErr bool
	}{
		{"60/1m", middleware.RateLimit{Requests: 60, Window: time.Minute}, false},
		{" 5/30s ", middleware.RateLimit{Requests: 5, Window: 30 * time.Second}, false},
		{"30/s", middleware.RateLimit{Requests: 30, Window: time.Second}, false},
		{"100/h", middleware.RateLimit{Requests: 100, Window: time.Hour}, false},
		{"60", middleware.RateLimit{}, true},
		{"0/1m", middleware.RateLimit{}, true},
		{"-1/1m", middleware.RateLimit{}, true},
		{"ten/1m", middleware.RateLimit{}, true},
		{"10/", middleware.RateLimit{}, true},
		{"10/0s", middleware.RateLimit{}, true},
		{"10/fortnight", middleware.RateLimit{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := middleware.ParseRateLimit(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRateLimit_StringRoundTrips(t *testing.T) {
	l := middleware.RateLimit{Requests: 12, Window: 90 * time.Second}

	parsed, err := middleware.ParseRateLimit(l.String())
	require.NoError(t, err)
	assert.Equal(t, l, parsed)
}

func TestLimitByClient(t *testing.T) {
	h := middleware.LimitByClient(middleware.RateLimit{Requests: 2, Window: time.Minute})(okHandler())

	assert.Equal(t, http.StatusOK, statusFrom(h, http.MethodGet, "/v1/cities", "172.16.0.1:1", nil).Code)
	assert.Equal(t, http.StatusOK, statusFrom(h, http.MethodGet, "/v1/cities", "172.16.0.1:2", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, statusFrom(h, http.MethodGet, "/v1/cities", "172.16.0.1:3", nil).Code)

	// Another client has its own budget
	assert.Equal(t, http.StatusOK, statusFrom(h, http.MethodGet, "/v1/cities", "172.16.0.2:1", nil).Code)
}

func TestLimitByClientAndCity(t *testing.T) {
	r := chi.NewRouter()
	r.With(middleware.LimitByClientAndCity(middleware.RateLimit{Requests: 1, Window: time.Minute})).
		Post("/v1/cities/{cityId}/route-metrics", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

	const client = "198.51.100.4:5000"
	assert.Equal(t, http.StatusOK, statusFrom(r, http.MethodPost, "/v1/cities/tokyo/route-metrics", client, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, statusFrom(r, http.MethodPost, "/v1/cities/tokyo/route-metrics", client, nil).Code)
	assert.Equal(t, http.StatusOK, statusFrom(r, http.MethodPost, "/v1/cities/paris/route-metrics", client, nil).Code)
}

func TestLimitBySubject_SharesBudgetAcrossIPs(t *testing.T) {
	tokens := auth.NewTokenService(auth.TokenConfig{SigningKey: "rate-limit-test-key"})
	token, _, err := tokens.Issue("ops-1", []string{auth.ScopeCacheInvalidate}, time.Hour)
	require.NoError(t, err)

	h := middleware.RequireScope(tokens, auth.ScopeCacheInvalidate)(
		middleware.LimitBySubject(middleware.RateLimit{Requests: 2, Window: time.Minute})(okHandler()),
	)
	bearer := http.Header{"Authorization": {"Bearer " + token}}

	assert.Equal(t, http.StatusOK, statusFrom(h, http.MethodPost, "/v1/admin/cache/invalidate", "192.168.7.1:1", bearer).Code)
	assert.Equal(t, http.StatusOK, statusFrom(h, http.MethodPost, "/v1/admin/cache/invalidate", "192.168.7.2:1", bearer).Code)
	assert.Equal(t, http.StatusTooManyRequests, statusFrom(h, http.MethodPost, "/v1/admin/cache/invalidate", "192.168.7.3:1", bearer).Code)
}

func TestLimitBySubject_AnonymousFallsBackToIP(t *testing.T) {
	h := middleware.LimitBySubject(middleware.RateLimit{Requests: 1, Window: time.Minute})(okHandler())

	assert.Equal(t, http.StatusOK, statusFrom(h, http.MethodGet, "/", "10.9.0.1:1000", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, statusFrom(h, http.MethodGet, "/", "10.9.0.1:1000", nil).Code)
	assert.Equal(t, http.StatusOK, statusFrom(h, http.MethodGet, "/", "10.9.0.2:1000", nil).Code)
}

func TestLimitExceeded_Problem(t *testing.T) {
	h := middleware.RequestID(
		middleware.LimitByClient(middleware.RateLimit{Requests: 1, Window: 90 * time.Second})(okHandler()),
	)

	statusFrom(h, http.MethodGet, "/v1/cities", "203.0.113.1:1", nil)
	rec := statusFrom(h, http.MethodGet, "/v1/cities", "203.0.113.1:1", nil)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))

	var problem models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeTooManyRequests, problem.Type)
	assert.Equal(t, "/v1/cities", problem.Instance)
	assert.Equal(t, rec.Header().Get("X-Request-Id"), problem.TraceID)
	assert.Contains(t, problem.Detail, "retry after 90s")
}

func TestDefaultLimits(t *testing.T) {
	assert.Equal(t, middleware.RateLimit{Requests: 10, Window: time.Minute}, middleware.AdminLimit)
	assert.Equal(t, middleware.RateLimit{Requests: 60, Window: time.Minute}, middleware.InsightsLimit)
	assert.Equal(t, middleware.RateLimit{Requests: 100, Window: time.Minute}, middleware.CatalogueLimit)
}
