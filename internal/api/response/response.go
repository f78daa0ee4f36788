// Package response writes JSON and problem documents for the insights API.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/routepulse/routepulse/internal/api/middleware"
	"github.com/routepulse/routepulse/internal/api/models"
)

const headerRequestID = "X-Request-Id"

// echoRequestID copies the correlation ID into the response headers. Handlers
// may have replaced it with a body requestId, so it is read from r each time.
func echoRequestID(w http.ResponseWriter, r *http.Request) string {
	id := middleware.GetRequestID(r.Context())
	if id != "" {
		w.Header().Set(headerRequestID, id)
	}
	return id
}

// JSON writes data as a JSON body with the given status.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	echoRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// NoContent writes an empty 204.
func NoContent(w http.ResponseWriter, r *http.Request) {
	echoRequestID(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// Error writes problem with its instance set to the request path.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	echoRequestID(w, r)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

func writeProblem(w http.ResponseWriter, r *http.Request, build func(traceID string) *models.Problem) {
	Error(w, r, build(middleware.GetRequestID(r.Context())))
}

// BadRequest writes a 400 listing the offending fields.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, fields []models.FieldError) {
	writeProblem(w, r, func(traceID string) *models.Problem {
		return models.NewBadRequest(traceID, detail, fields)
	})
}

// NotFound writes a 404, used for unknown cities.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, func(traceID string) *models.Problem {
		return models.NewNotFound(traceID, detail)
	})
}

// Superseded writes a 409 for a request replaced by a newer one on the same
// slot.
func Superseded(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, func(traceID string) *models.Problem {
		return models.NewSuperseded(traceID, detail)
	})
}

// InternalError writes a 500. detail must not carry internal error text.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, func(traceID string) *models.Problem {
		return models.NewInternalError(traceID, detail)
	})
}

// ServiceUnavailable writes a 503 for an open breaker or an unreachable
// catalogue.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, func(traceID string) *models.Problem {
		return models.NewServiceUnavailable(traceID, detail)
	})
}
