package observability

import (
	"strings"

	"github.com/smallbiznis/contractbilling/internal/config"
)

const defaultServiceName = "contractbilling"

// Config holds the normalized logging, tracing and metrics settings.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelMetricsEnabled   bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	LogSamplingInitial    int
	LogSamplingThereafter int
}

// LoadConfig normalizes the service configuration. DEPLOYMENT_ENV and
// SERVICE_VERSION win over the application values when set, and the
// traces-specific OTLP protocol wins over the shared one.
func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	environment := firstNonEmpty(obs.DeploymentEnv, cfg.Environment)
	version := firstNonEmpty(obs.ServiceVersion, cfg.AppVersion)
	endpoint := firstNonEmpty(obs.OtelEndpoint, cfg.OTLPEndpoint)
	protocol := normalizeProtocol(firstNonEmpty(obs.OtelTracesProtocol, obs.OtelProtocol))

	return Config{
		ServiceName:          serviceName,
		Environment:          environment,
		Version:              version,
		LogLevel:             strings.ToLower(firstNonEmpty(obs.LogLevel, "info")),
		LogFormat:            strings.ToLower(firstNonEmpty(obs.LogFormat, "json")),
		OtelEnabled:          obs.OtelEnabled,
		OtelMetricsEnabled:   obs.OtelEnabled && !obs.OtelMetricsDisabled,
		OtelExporterEndpoint: endpoint,
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    clampRatio(obs.OtelSamplingRatio),

		LogSamplingInitial:    obs.LogSamplingInitial,
		LogSamplingThereafter: obs.LogSamplingThereafter,
	}
}

func (c Config) Debug() bool {
	level := strings.ToLower(strings.TrimSpace(c.LogLevel))
	if level == "debug" {
		return true
	}
	return isDevEnv(c.Environment)
}

func isDevEnv(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	switch env {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// normalizeProtocol maps the OTLP protocol spellings onto grpc or http.
func normalizeProtocol(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "http", "http/protobuf", "http/json":
		return "http"
	default:
		return "grpc"
	}
}

func clampRatio(ratio float64) float64 {
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
