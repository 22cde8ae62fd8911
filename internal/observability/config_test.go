package observability

import (
	"testing"

	"github.com/smallbiznis/contractbilling/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment:  "production",
		AppVersion:   "0.1.0",
		OTLPEndpoint: "otel:4317",
		Observability: config.ObservabilityConfig{
			LogSamplingInitial: 100,
			OtelSamplingRatio:  0.1,
		},
	})

	assert.Equal(t, "contractbilling", cfg.ServiceName)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "0.1.0", cfg.Version)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.OtelEnabled)
	assert.False(t, cfg.OtelMetricsEnabled)
	assert.Equal(t, "otel:4317", cfg.OtelExporterEndpoint)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.Equal(t, 100, cfg.LogSamplingInitial)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:      "billing",
		Environment:  "production",
		AppVersion:   "0.1.0",
		OTLPEndpoint: "otel:4317",
		Observability: config.ObservabilityConfig{
			DeploymentEnv:       "staging",
			ServiceVersion:      "1.4.2",
			LogLevel:            "DEBUG",
			OtelEnabled:         true,
			OtelEndpoint:        "collector:4318",
			OtelProtocol:        "grpc",
			OtelTracesProtocol:  "HTTP/Protobuf",
			OtelSamplingRatio:   1.5,
			OtelMetricsDisabled: true,
		},
	})

	assert.Equal(t, "billing", cfg.ServiceName)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "1.4.2", cfg.Version)
	assert.True(t, cfg.OtelEnabled)
	assert.False(t, cfg.OtelMetricsEnabled)
	assert.Equal(t, "collector:4318", cfg.OtelExporterEndpoint)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.InDelta(t, 1.0, cfg.OtelSamplingRatio, 1e-9)
	assert.True(t, cfg.Debug())
}

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "yes")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.5")
	t.Setenv("LOG_SAMPLING_INITIAL", "-1")

	cfg := LoadConfig(config.Load())

	assert.True(t, cfg.OtelEnabled)
	assert.True(t, cfg.OtelMetricsEnabled)
	assert.InDelta(t, 0.5, cfg.OtelSamplingRatio, 1e-9)
	assert.Equal(t, -1, cfg.LogSamplingInitial)
}
