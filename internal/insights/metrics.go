package insights

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/routepulse/routepulse/internal/insights"

// instruments holds the OpenTelemetry instruments of the service.
type instruments struct {
	computeDuration metric.Float64Histogram
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	superseded      metric.Int64Counter
	recordsFetched  metric.Int64Histogram
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(instrumentationName)

	computeDuration, err := meter.Float64Histogram(
		"insights.compute.duration",
		metric.WithDescription("Duration of engine computations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter(
		"insights.cache.hits",
		metric.WithDescription("Results served from the result cache"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64Counter(
		"insights.cache.misses",
		metric.WithDescription("Results computed because the cache had none"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return nil, err
	}

	superseded, err := meter.Int64Counter(
		"insights.superseded",
		metric.WithDescription("Requests discarded because a newer request for the same slot started"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	recordsFetched, err := meter.Int64Histogram(
		"insights.records.fetched",
		metric.WithDescription("Records read from the store per computation"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	return &instruments{
		computeDuration: computeDuration,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		superseded:      superseded,
		recordsFetched:  recordsFetched,
	}, nil
}

func kindAttrs(kind Kind, cityID string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("insights.kind", string(kind)),
		attribute.String("city.id", cityID),
	)
}

func (m *instruments) recordCompute(ctx context.Context, kind Kind, cityID string, started time.Time, err error) {
	m.computeDuration.Record(ctx, time.Since(started).Seconds(),
		metric.WithAttributes(
			attribute.String("insights.kind", string(kind)),
			attribute.String("city.id", cityID),
			attribute.Bool("error", err != nil),
		),
	)
}
