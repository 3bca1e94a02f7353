package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpdock-go/internal/config"
)

func TestObservabilityConfig(t *testing.T) {
	t.Run("nil section keeps defaults", func(t *testing.T) {
		cfg := &config.Config{}
		out := observabilityConfig(cfg)
		assert.True(t, out.Metrics.Enabled)
		assert.False(t, out.Tracing.Enabled)
		assert.Equal(t, "mcpdock", out.Tracing.ServiceName)
	})

	t.Run("section values win", func(t *testing.T) {
		cfg := &config.Config{
			Observability: &config.ObservabilityConfig{
				MetricsEnabled: false,
				TracingEnabled: true,
				OTLPEndpoint:   "collector:4318",
				SampleRate:     0.5,
			},
		}
		out := observabilityConfig(cfg)
		assert.False(t, out.Metrics.Enabled)
		assert.True(t, out.Tracing.Enabled)
		assert.Equal(t, "collector:4318", out.Tracing.OTLPEndpoint)
		assert.InDelta(t, 0.5, out.Tracing.SampleRate, 0.001)
	})

	t.Run("empty endpoint keeps default", func(t *testing.T) {
		cfg := &config.Config{
			Observability: &config.ObservabilityConfig{MetricsEnabled: true},
		}
		out := observabilityConfig(cfg)
		assert.Equal(t, "localhost:4318", out.Tracing.OTLPEndpoint)
	})
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("MCPDOCK_DATA", tmp)

	restore := func() {
		configFile, dataDir, listen, baseURL, apiKey, seedFile = "", "", "", "", "", ""
	}
	restore()
	t.Cleanup(restore)

	listen = "127.0.0.1:9999"
	apiKey = "hunter2"
	seedFile = "/etc/mcpdock/seed.json"

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, tmp, cfg.DataDir)
	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
	assert.Equal(t, "hunter2", cfg.APIKey)
	assert.Equal(t, "/etc/mcpdock/seed.json", cfg.SeedFile)
	require.NotNil(t, cfg.Logging)
	require.NotNil(t, cfg.Observability)
}
