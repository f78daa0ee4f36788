package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/routepulse/routepulse/internal/api/models"
	"github.com/routepulse/routepulse/internal/api/response"
	"github.com/routepulse/routepulse/internal/city"
)

// CityCatalogue lists and resolves cities.
type CityCatalogue interface {
	List(ctx context.Context) ([]*city.City, error)
	Get(ctx context.Context, id string) (*city.City, error)
}

// CityHandler handles the city catalogue endpoints.
type CityHandler struct {
	cities CityCatalogue
	log    zerolog.Logger
}

// NewCityHandler creates a new CityHandler.
func NewCityHandler(cities CityCatalogue, log zerolog.Logger) *CityHandler {
	return &CityHandler{cities: cities, log: log}
}

// ListCities handles GET /v1/cities.
func (h *CityHandler) ListCities(w http.ResponseWriter, r *http.Request) {
	cities, err := h.cities.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list cities")
		response.ServiceUnavailable(w, r, "city catalogue unavailable")
		return
	}
	response.JSON(w, r, http.StatusOK, models.CityList{Items: cities})
}

// GetCity handles GET /v1/cities/{cityId}.
func (h *CityHandler) GetCity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cityId")
	c, err := h.cities.Get(r.Context(), id)
	switch {
	case errors.Is(err, city.ErrCityNotFound):
		response.NotFound(w, r, "city "+id+" not found")
	case err != nil:
		h.log.Error().Err(err).Str("city_id", id).Msg("failed to get city")
		response.ServiceUnavailable(w, r, "city catalogue unavailable")
	default:
		response.JSON(w, r, http.StatusOK, c)
	}
}
