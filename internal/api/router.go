// Package api provides the HTTP API for routepulse.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/routepulse/routepulse/internal/api/handler"
	"github.com/routepulse/routepulse/internal/api/middleware"
	"github.com/routepulse/routepulse/internal/auth"
	"github.com/routepulse/routepulse/internal/city"
	"github.com/routepulse/routepulse/internal/insights"
	"github.com/routepulse/routepulse/internal/upstream"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Mode        string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Cities   *city.Service
	Insights *insights.Service
	Tokens   *auth.TokenService

	// Health reports upstream record sources on the readiness check.
	Health          *upstream.Health
	ReadinessChecks []handler.ReadinessCheck

	CORSAllowedOrigins []string
	RequireTLS         bool

	// Zero values fall back to the middleware defaults.
	InsightsLimit middleware.RateLimit
	AdminLimit    middleware.RateLimit
}

func limitOrDefault(l, def middleware.RateLimit) middleware.RateLimit {
	if l.Requests <= 0 || l.Window <= 0 {
		return def
	}
	return l
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "routepulse-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(corsHandler(cfg.CORSAllowedOrigins))   // Browser dashboards
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(handler.BuildInfo{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Mode:      cfg.Mode,
	}, cfg.Health, cfg.ReadinessChecks...)
	cityHandler := handler.NewCityHandler(cfg.Cities, cfg.Logger)
	insightsHandler := handler.NewInsightsHandler(cfg.Insights, cfg.Logger)
	adminHandler := handler.NewAdminHandler(cfg.Insights, cfg.Logger)

	catalogueLimit := middleware.LimitByClient(middleware.CatalogueLimit)
	insightsLimit := middleware.LimitByClientAndCity(limitOrDefault(cfg.InsightsLimit, middleware.InsightsLimit))
	adminLimit := middleware.LimitBySubject(limitOrDefault(cfg.AdminLimit, middleware.AdminLimit))

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		r.Route("/cities", func(r chi.Router) {
			r.With(catalogueLimit).Get("/", cityHandler.ListCities)

			r.Route("/{cityId}", func(r chi.Router) {
				r.With(catalogueLimit).Get("/", cityHandler.GetCity)

				// Aggregations - expensive compute, stricter rate limiting
				r.Group(func(r chi.Router) {
					r.Use(insightsLimit)
					r.Use(middleware.RequireJSON)
					r.Post("/historical:aggregate", insightsHandler.Historical)
					r.Post("/route-metrics", insightsHandler.RouteMetrics)
					r.Post("/routes/{routeId}/metrics", insightsHandler.RouteSpecificMetrics)
					r.Post("/average-travel-time", insightsHandler.AverageTravelTime)
				})
			})
		})

		// Admin endpoints (operator token) - for internal operations
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireScope(cfg.Tokens, auth.ScopeCacheInvalidate))
			r.Use(adminLimit)
			r.Post("/cache/invalidate", adminHandler.InvalidateCache)
		})
	})

	return r
}

// corsHandler allows browser dashboards on the configured origins to call the
// API and read the correlation header.
func corsHandler(origins []string) func(next http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
