package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routepulse/routepulse/internal/app"
	"github.com/routepulse/routepulse/internal/historical"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("APPLICATION_MODE", "")
	t.Setenv("RECORD_SOURCE", "")
	t.Setenv("CACHE_TTL", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := app.ConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, historical.EncodingISOWithOffset, cfg.Encoding)
	assert.Equal(t, app.SourcePostgres, cfg.RecordSource)
	assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
	assert.Empty(t, cfg.RedisAddr)
}

func TestConfigFromEnv_LiveMode(t *testing.T) {
	t.Setenv("APPLICATION_MODE", "live")
	t.Setenv("CACHE_TTL", "2m")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")

	cfg, err := app.ConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, historical.EncodingLocalTimeString, cfg.Encoding)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
}

func TestConfigFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown mode", map[string]string{"APPLICATION_MODE": "staging"}},
		{"unknown source", map[string]string{"RECORD_SOURCE": "s3"}},
		{"http without base url", map[string]string{"RECORD_SOURCE": "http", "DEMO_DATA_BASE_URL": ""}},
		{"bad redis db", map[string]string{"REDIS_DB": "zero"}},
		{"bad ttl", map[string]string{"CACHE_TTL": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := app.ConfigFromEnv()
			assert.Error(t, err)
		})
	}
}

func TestNew_HTTPSourceUsesEnvCities(t *testing.T) {
	t.Setenv("TOKYO_TIMEZONE", "Asia/Tokyo")
	t.Setenv("TOKYO_DATA_START_DATE", "2024-01-01")
	t.Setenv("TOKYO_DATA_END_DATE", "2024-03-31")

	a, err := app.New(context.Background(), app.Config{
		Encoding:        historical.EncodingISOWithOffset,
		RecordSource:    app.SourceHTTP,
		DemoDataBaseURL: "http://127.0.0.1:0",
		CacheTTL:        time.Minute,
	}, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Pool())
	assert.Empty(t, a.ReadinessChecks())

	c, err := a.Cities.Get(context.Background(), "tokyo")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", c.Timezone)

	sources := a.Health.All()
	require.Len(t, sources, 1)
	assert.Equal(t, "demo-data", sources[0].Name)
}
