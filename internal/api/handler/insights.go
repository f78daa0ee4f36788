package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/routepulse/routepulse/internal/api/middleware"
	"github.com/routepulse/routepulse/internal/api/models"
	"github.com/routepulse/routepulse/internal/api/response"
	"github.com/routepulse/routepulse/internal/city"
	"github.com/routepulse/routepulse/internal/insights"
	"github.com/routepulse/routepulse/internal/records"
	"github.com/routepulse/routepulse/internal/upstream"
)

// maxRequestBody bounds insights request bodies.
const maxRequestBody = 64 << 10

// InsightsService computes insights for a request.
type InsightsService interface {
	Compute(ctx context.Context, kind insights.Kind, req insights.Request) (any, error)
}

// InsightsHandler handles the aggregation endpoints.
type InsightsHandler struct {
	service InsightsService
	log     zerolog.Logger
}

// NewInsightsHandler creates a new InsightsHandler.
func NewInsightsHandler(service InsightsService, log zerolog.Logger) *InsightsHandler {
	return &InsightsHandler{service: service, log: log}
}

// Historical handles POST /v1/cities/{cityId}/historical:aggregate.
func (h *InsightsHandler) Historical(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, insights.KindHistorical)
}

// RouteMetrics handles POST /v1/cities/{cityId}/route-metrics.
func (h *InsightsHandler) RouteMetrics(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, insights.KindRouteMetrics)
}

// RouteSpecificMetrics handles POST /v1/cities/{cityId}/routes/{routeId}/metrics.
func (h *InsightsHandler) RouteSpecificMetrics(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, insights.KindRouteSpecific)
}

// AverageTravelTime handles POST /v1/cities/{cityId}/average-travel-time.
func (h *InsightsHandler) AverageTravelTime(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, insights.KindAverageTravelTime)
}

func (h *InsightsHandler) serve(w http.ResponseWriter, r *http.Request, kind insights.Kind) {
	var body models.InsightsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, r, "invalid JSON body: "+err.Error(), nil)
		return
	}

	// The body's requestId becomes the correlation ID of this response
	if body.RequestID != "" {
		if !middleware.ValidRequestID(body.RequestID) {
			response.BadRequest(w, r, "invalid request", []models.FieldError{{
				Field:   "requestId",
				Message: "must be 1-128 characters of letters, digits and ._:-",
				Code:    "INVALID",
			}})
			return
		}
		r = r.WithContext(middleware.WithRequestID(r.Context(), body.RequestID))
	}

	req := body.ToRequest(chi.URLParam(r, "cityId"), chi.URLParam(r, "routeId"))
	data, err := h.service.Compute(r.Context(), kind, req)
	if err != nil {
		h.writeError(w, r, kind, req, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.InsightsResponse{
		RequestID:  middleware.GetRequestID(r.Context()),
		Kind:       kind,
		CityID:     req.CityID,
		RouteID:    req.RouteID,
		ComputedAt: models.Timestamp(time.Now()),
		Data:       data,
	})
}

func (h *InsightsHandler) writeError(w http.ResponseWriter, r *http.Request, kind insights.Kind, req insights.Request, err error) {
	var verr *insights.ValidationError
	switch {
	case errors.As(err, &verr):
		response.BadRequest(w, r, "request validation failed", models.FieldErrorsFromIssues(verr.Issues))
	case errors.Is(err, city.ErrCityNotFound), errors.Is(err, records.ErrUnknownCity):
		response.NotFound(w, r, "city "+req.CityID+" not found")
	case errors.Is(err, insights.ErrSuperseded):
		response.Superseded(w, r, "a newer request for slot "+req.Slot+" replaced this one")
	case errors.Is(err, city.ErrCatalogueUnavailable):
		response.ServiceUnavailable(w, r, "city catalogue unavailable")
	case errors.Is(err, upstream.ErrCircuitOpen):
		response.ServiceUnavailable(w, r, "record source temporarily unavailable")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write
		h.log.Debug().Str("kind", string(kind)).Str("city_id", req.CityID).Msg("request cancelled by client")
	default:
		h.log.Error().Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("kind", string(kind)).
			Str("city_id", req.CityID).
			Msg("insights computation failed")
		response.InternalError(w, r, "failed to compute "+string(kind))
	}
}
