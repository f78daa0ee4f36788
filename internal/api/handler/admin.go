package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/routepulse/routepulse/internal/api/middleware"
	"github.com/routepulse/routepulse/internal/api/models"
	"github.com/routepulse/routepulse/internal/api/response"
)

// CacheInvalidator drops cached insights.
type CacheInvalidator interface {
	InvalidateCity(ctx context.Context, cityID string) (int, error)
	InvalidateAll(ctx context.Context) (int, error)
}

// AdminHandler handles operator endpoints.
type AdminHandler struct {
	cache CacheInvalidator
	log   zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(cache CacheInvalidator, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{cache: cache, log: log}
}

// InvalidateCache handles POST /v1/admin/cache/invalidate.
func (h *AdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var body models.CacheInvalidateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, r, "invalid JSON body: "+err.Error(), nil)
		return
	}

	var (
		n   int
		err error
	)
	if body.CityID != "" {
		n, err = h.cache.InvalidateCity(r.Context(), body.CityID)
	} else {
		n, err = h.cache.InvalidateAll(r.Context())
	}
	if err != nil {
		h.log.Error().Err(err).Str("city_id", body.CityID).Msg("cache invalidation failed")
		response.InternalError(w, r, "cache invalidation failed")
		return
	}

	h.log.Info().
		Str("subject", middleware.GetSubject(r.Context())).
		Str("city_id", body.CityID).
		Int("keys", n).
		Msg("cache invalidated")

	w.Header().Set("X-Invalidated-Keys", strconv.Itoa(n))
	response.NoContent(w, r)
}
