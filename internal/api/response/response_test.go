package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routepulse/routepulse/internal/api/middleware"
	"github.com/routepulse/routepulse/internal/api/models"
	"github.com/routepulse/routepulse/internal/api/response"
)

// tracedRequest returns a request whose context carries id as its
// correlation ID.
func tracedRequest(method, path, id string) *http.Request {
	req := httptest.NewRequest(method, path, http.NoBody)
	return req.WithContext(middleware.WithRequestID(req.Context(), id))
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	var problem models.Problem
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
	return problem
}

func TestJSON(t *testing.T) {
	req := tracedRequest(http.MethodPost, "/v1/cities/tokyo/historical:aggregate", "req_abc")
	rec := httptest.NewRecorder()

	response.JSON(rec, req, http.StatusOK, map[string]int{"acceptedRecords": 42})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req_abc", rec.Header().Get("X-Request-Id"))
	assert.JSONEq(t, `{"acceptedRecords":42}`, rec.Body.String())
}

func TestJSON_NoRequestIDInContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/cities", http.NoBody)
	rec := httptest.NewRecorder()

	response.JSON(rec, req, http.StatusOK, []string{})

	assert.Empty(t, rec.Header().Get("X-Request-Id"))
}

func TestJSON_NilDataWritesNoBody(t *testing.T) {
	req := tracedRequest(http.MethodGet, "/v1/cities", "req_nil")
	rec := httptest.NewRecorder()

	response.JSON(rec, req, http.StatusAccepted, nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestNoContent(t *testing.T) {
	req := tracedRequest(http.MethodPost, "/v1/admin/cache/invalidate", "req_admin")
	rec := httptest.NewRecorder()

	response.NoContent(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "req_admin", rec.Header().Get("X-Request-Id"))
	assert.Zero(t, rec.Body.Len())
}

func TestProblemWriters(t *testing.T) {
	const path = "/v1/cities/osaka/route-metrics"

	tests := []struct {
		name    string
		write   func(http.ResponseWriter, *http.Request)
		status  int
		typeURI string
		detail  string
		nFields int
	}{
		{
			name: "bad request",
			write: func(w http.ResponseWriter, r *http.Request) {
				response.BadRequest(w, r, "request validation failed", []models.FieldError{
					{Field: "filters.hourRange", Message: "hours must be within 0-23", Code: "OUT_OF_RANGE"},
				})
			},
			status:  http.StatusBadRequest,
			typeURI: models.ProblemTypeValidation,
			detail:  "request validation failed",
			nFields: 1,
		},
		{
			name:    "not found",
			write:   func(w http.ResponseWriter, r *http.Request) { response.NotFound(w, r, "city osaka not found") },
			status:  http.StatusNotFound,
			typeURI: models.ProblemTypeNotFound,
			detail:  "city osaka not found",
		},
		{
			name: "superseded",
			write: func(w http.ResponseWriter, r *http.Request) {
				response.Superseded(w, r, "a newer request for slot map replaced this one")
			},
			status:  http.StatusConflict,
			typeURI: models.ProblemTypeSuperseded,
			detail:  "a newer request for slot map replaced this one",
		},
		{
			name:    "internal",
			write:   func(w http.ResponseWriter, r *http.Request) { response.InternalError(w, r, "failed to compute route-metrics") },
			status:  http.StatusInternalServerError,
			typeURI: models.ProblemTypeInternal,
			detail:  "failed to compute route-metrics",
		},
		{
			name: "unavailable",
			write: func(w http.ResponseWriter, r *http.Request) {
				response.ServiceUnavailable(w, r, "record source temporarily unavailable")
			},
			status:  http.StatusServiceUnavailable,
			typeURI: models.ProblemTypeUnavailable,
			detail:  "record source temporarily unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec, tracedRequest(http.MethodPost, path, "req_problem"))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			assert.Equal(t, "req_problem", rec.Header().Get("X-Request-Id"))

			problem := decodeProblem(t, rec)
			assert.Equal(t, tt.typeURI, problem.Type)
			assert.Equal(t, tt.status, problem.Status)
			assert.Equal(t, tt.detail, problem.Detail)
			assert.Equal(t, path, problem.Instance)
			assert.Equal(t, "req_problem", problem.TraceID)
			assert.Len(t, problem.Errors, tt.nFields)
		})
	}
}

func TestProblem_TraceFollowsOverriddenRequestID(t *testing.T) {
	// A body requestId replaces the header-derived ID after the middleware ran
	var seen *http.Request
	middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = r
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/cities/tokyo/route-metrics", http.NoBody))
	require.NotNil(t, seen)

	req := seen.WithContext(middleware.WithRequestID(seen.Context(), "client-body-id"))
	rec := httptest.NewRecorder()
	response.NotFound(rec, req, "city tokyo not found")

	assert.Equal(t, "client-body-id", rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "client-body-id", decodeProblem(t, rec).TraceID)
}
