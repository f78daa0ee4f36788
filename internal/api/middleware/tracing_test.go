package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/routepulse/routepulse/internal/api/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, func()) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return sr, func() {
		_ = tp.Shutdown(context.Background())
	}
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func insightsRouter(status int) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Tracing("test-service"))
	r.Post("/v1/cities/{cityId}/routes/{routeId}/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
	return r
}

func TestTracing_SpanInHandlerContext(t *testing.T) {
	sr, cleanup := setupTestTracer()
	defer cleanup()

	var valid bool
	handler := middleware.Tracing("test-service")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		valid = trace.SpanFromContext(r.Context()).SpanContext().IsValid()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/cities", http.NoBody))

	assert.True(t, valid)
	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /v1/cities", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
}

func TestTracing_NamesSpanByPatternAndTagsIDs(t *testing.T) {
	sr, cleanup := setupTestTracer()
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/v1/cities/tokyo/routes/R7/metrics", http.NoBody)
	insightsRouter(http.StatusOK).ServeHTTP(httptest.NewRecorder(), req)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /v1/cities/{cityId}/routes/{routeId}/metrics", spans[0].Name())

	attrs := spanAttrs(spans[0])
	assert.Equal(t, "tokyo", attrs["city.id"].AsString())
	assert.Equal(t, "R7", attrs["route.id"].AsString())
	assert.Equal(t, "/v1/cities/{cityId}/routes/{routeId}/metrics", attrs["http.route"].AsString())
	assert.Equal(t, int64(http.StatusOK), attrs["http.response.status_code"].AsInt64())
}

func TestTracing_ContinuesCallerTrace(t *testing.T) {
	sr, cleanup := setupTestTracer()
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/v1/cities/tokyo/routes/R1/metrics", http.NoBody)
	req.Header.Set("traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")
	insightsRouter(http.StatusOK).ServeHTTP(httptest.NewRecorder(), req)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "b7ad6b7169203331", spans[0].Parent().SpanID().String())
}

func TestTracing_Status(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   codes.Code
	}{
		{"ok", http.StatusOK, codes.Unset},
		{"validation failure stays unset", http.StatusBadRequest, codes.Unset},
		{"superseded stays unset", http.StatusConflict, codes.Unset},
		{"server error", http.StatusInternalServerError, codes.Error},
		{"breaker open", http.StatusServiceUnavailable, codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr, cleanup := setupTestTracer()
			defer cleanup()

			req := httptest.NewRequest(http.MethodPost, "/v1/cities/tokyo/routes/R1/metrics", http.NoBody)
			insightsRouter(tt.status).ServeHTTP(httptest.NewRecorder(), req)

			spans := sr.Ended()
			require.Len(t, spans, 1)
			assert.Equal(t, tt.want, spans[0].Status().Code)
			assert.Equal(t, int64(tt.status), spanAttrs(spans[0])["http.response.status_code"].AsInt64())
		})
	}
}

func TestTracing_RequestID(t *testing.T) {
	sr, cleanup := setupTestTracer()
	defer cleanup()

	handler := middleware.RequestID(middleware.Tracing("test-service")(okHandler()))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/cities", http.NoBody))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Contains(t, spanAttrs(spans[0])["request.id"].AsString(), "req_")
}

func TestTracing_RequestIDChosenByHandler(t *testing.T) {
	sr, cleanup := setupTestTracer()
	defer cleanup()

	handler := middleware.RequestID(middleware.Tracing("test-service")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Request-Id", "dashboard-42")
		w.WriteHeader(http.StatusOK)
	})))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/cities/tokyo/route-metrics", http.NoBody))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "dashboard-42", spanAttrs(spans[0])["request.id"].AsString())
}

func TestTracing_SchemeFromForwardedProto(t *testing.T) {
	sr, cleanup := setupTestTracer()
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/v1/cities", http.NoBody)
	req.Header.Set("X-Forwarded-Proto", "HTTPS, http")
	middleware.Tracing("test-service")(okHandler()).ServeHTTP(httptest.NewRecorder(), req)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "https", spanAttrs(spans[0])["url.scheme"].AsString())
}
