package middleware

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/routepulse/routepulse/internal/api/middleware"

// rejectionReasons names the statuses that mean the API declined work rather
// than failed at it.
var rejectionReasons = map[int]string{
	http.StatusConflict:           "superseded",
	http.StatusTooManyRequests:    "rate_limited",
	http.StatusServiceUnavailable: "unavailable",
}

// Metrics holds the HTTP server instruments.
type Metrics struct {
	duration   metric.Float64Histogram
	active     metric.Int64UpDownCounter
	bodySize   metric.Int64Histogram
	rejections metric.Int64Counter
}

// NewMetrics creates the instruments on mp, or on the global provider when mp
// is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	var (
		m   Metrics
		err error
	)
	if m.duration, err = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Duration of HTTP server requests"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.active, err = meter.Int64UpDownCounter("http.server.active_requests",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.bodySize, err = meter.Int64Histogram("http.server.response.body.size",
		metric.WithDescription("Size of response bodies"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.rejections, err = meter.Int64Counter("routepulse.http.rejections",
		metric.WithDescription("Requests declined as superseded, rate limited or unavailable"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// Middleware records duration, size and rejections per route pattern. City IDs
// come from the catalogue, so they are safe to use as a label.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			// The route is unknown until chi has matched it
			inFlight := metric.WithAttributes(attribute.String("http.request.method", r.Method))
			m.active.Add(ctx, 1, inFlight)
			defer m.active.Add(ctx, -1, inFlight)

			rec := recordStatus(w)
			next.ServeHTTP(rec, r)

			attrs := []attribute.KeyValue{
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", routePattern(r)),
				attribute.String("http.response.status_code", strconv.Itoa(rec.status)),
			}
			if cityID := chiParam(r, "cityId"); cityID != "" {
				attrs = append(attrs, attribute.String("city.id", cityID))
			}
			set := metric.WithAttributes(attrs...)

			m.duration.Record(ctx, time.Since(start).Seconds(), set)
			m.bodySize.Record(ctx, rec.written, set)
			if reason, ok := rejectionReasons[rec.status]; ok {
				m.rejections.Add(ctx, 1, metric.WithAttributes(
					attribute.String("http.route", routePattern(r)),
					attribute.String("reason", reason),
				))
			}
		})
	}
}
