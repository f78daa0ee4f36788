package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routepulse/routepulse/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "routepulse-api",
		Enabled:     false,
	}, zerolog.Nop())

	require.NoError(t, err)
	assert.False(t, provider.Enabled())
	assert.NoError(t, provider.Shutdown(ctx))

	// Global helpers still hand out usable no-op instruments
	assert.NotNil(t, telemetry.Tracer("routepulse-test"))
	assert.NotNil(t, telemetry.Meter("routepulse-test"))
}

func TestInit_Enabled(t *testing.T) {
	ctx := context.Background()

	// gRPC exporters dial lazily, so no collector is needed
	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "routepulse-worker",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		Mode:           "live",
		Enabled:        true,
		OTLPEndpoint:   "127.0.0.1:4317",
		Insecure:       true,
		SampleRatio:    0.5,
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, provider.Enabled())

	shutdownCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_ = provider.Shutdown(shutdownCtx)
}

func TestProvider_ShutdownZeroValue(t *testing.T) {
	var p telemetry.Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	t.Setenv("OTEL_METRIC_EXPORT_INTERVAL", "30s")
	t.Setenv("APP_ENV", "production")
	t.Setenv("APPLICATION_MODE", "live")

	cfg := telemetry.ConfigFromEnv("routepulse-api", "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.Insecure)
	assert.Equal(t, "routepulse-api", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "live", cfg.Mode)
	assert.InDelta(t, 0.25, cfg.SampleRatio, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.MetricInterval)
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
		"OTEL_METRIC_EXPORT_INTERVAL", "APP_ENV", "APPLICATION_MODE",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "not-a-number")

	cfg := telemetry.ConfigFromEnv("routepulse-worker", "dev")

	assert.False(t, cfg.Enabled)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "demo", cfg.Mode)
	assert.InDelta(t, 1.0, cfg.SampleRatio, 1e-9)
	assert.Equal(t, 15*time.Second, cfg.MetricInterval)
}
