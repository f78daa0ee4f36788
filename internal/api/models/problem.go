package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 error document, served as application/problem+json.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// TraceID repeats the X-Request-Id of the response.
	TraceID string       `json:"traceId"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// FieldError points at one invalid field of a request body, e.g.
// filters.hourRange.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Problem type URIs.
const (
	ProblemTypeValidation      = "https://api.routepulse.dev/problems/validation-error"
	ProblemTypeUnauthorized    = "https://api.routepulse.dev/problems/unauthorized"
	ProblemTypeForbidden       = "https://api.routepulse.dev/problems/forbidden"
	ProblemTypeTLSRequired     = "https://api.routepulse.dev/problems/tls-required"
	ProblemTypeNotFound        = "https://api.routepulse.dev/problems/not-found"
	ProblemTypeSuperseded      = "https://api.routepulse.dev/problems/superseded"
	ProblemTypeUnsupportedType = "https://api.routepulse.dev/problems/unsupported-media-type"
	ProblemTypeTooManyRequests = "https://api.routepulse.dev/problems/too-many-requests"
	ProblemTypeInternal        = "https://api.routepulse.dev/problems/internal-error"
	ProblemTypeUnavailable     = "https://api.routepulse.dev/problems/service-unavailable"
)

var problemTitles = map[string]string{
	ProblemTypeValidation:      "Validation error",
	ProblemTypeUnauthorized:    "Unauthorized",
	ProblemTypeForbidden:       "Forbidden",
	ProblemTypeTLSRequired:     "TLS required",
	ProblemTypeNotFound:        "Not found",
	ProblemTypeSuperseded:      "Superseded",
	ProblemTypeUnsupportedType: "Unsupported media type",
	ProblemTypeTooManyRequests: "Too many requests",
	ProblemTypeInternal:        "Internal server error",
	ProblemTypeUnavailable:     "Service unavailable",
}

func newProblem(problemType string, status int, traceID, detail string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   problemTitles[problemType],
		Status:  status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// Write sends the problem with its status. The trace ID doubles as the
// X-Request-Id header.
func (p *Problem) Write(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		h.Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NewBadRequest is a 400 carrying the offending fields.
func NewBadRequest(traceID, detail string, fields []FieldError) *Problem {
	p := newProblem(ProblemTypeValidation, http.StatusBadRequest, traceID, detail)
	p.Errors = fields
	return p
}

// NewUnauthorized is a 401 for a missing or invalid operator token.
func NewUnauthorized(traceID, detail string) *Problem {
	return newProblem(ProblemTypeUnauthorized, http.StatusUnauthorized, traceID, detail)
}

// NewForbidden is a 403 for a valid token lacking the required scope.
func NewForbidden(traceID, detail string) *Problem {
	return newProblem(ProblemTypeForbidden, http.StatusForbidden, traceID, detail)
}

// NewTLSRequired is a 403 for plain HTTP behind a TLS-terminating proxy.
func NewTLSRequired(traceID, detail string) *Problem {
	return newProblem(ProblemTypeTLSRequired, http.StatusForbidden, traceID, detail)
}

// NewNotFound is a 404.
func NewNotFound(traceID, detail string) *Problem {
	return newProblem(ProblemTypeNotFound, http.StatusNotFound, traceID, detail)
}

// NewSuperseded is a 409 for a request replaced by a newer one on the same
// slot.
func NewSuperseded(traceID, detail string) *Problem {
	return newProblem(ProblemTypeSuperseded, http.StatusConflict, traceID, detail)
}

// NewUnsupportedMediaType is a 415 for a non-JSON request body.
func NewUnsupportedMediaType(traceID, detail string) *Problem {
	return newProblem(ProblemTypeUnsupportedType, http.StatusUnsupportedMediaType, traceID, detail)
}

// NewTooManyRequests is a 429.
func NewTooManyRequests(traceID, detail string) *Problem {
	return newProblem(ProblemTypeTooManyRequests, http.StatusTooManyRequests, traceID, detail)
}

// NewInternalError is a 500.
func NewInternalError(traceID, detail string) *Problem {
	return newProblem(ProblemTypeInternal, http.StatusInternalServerError, traceID, detail)
}

// NewServiceUnavailable is a 503.
func NewServiceUnavailable(traceID, detail string) *Problem {
	return newProblem(ProblemTypeUnavailable, http.StatusServiceUnavailable, traceID, detail)
}
