package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Mode        string
	Environment string
	HTTPAddr    string

	SnowflakeNode int64
	OTLPEndpoint  string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	RunMigrations     bool

	Redis         RedisConfig
	RateLimit     RateLimitConfig
	Stripe        StripeConfig
	Applier       ApplierConfig
	Observability ObservabilityConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled         bool
	PlanChangeRate  float64
	PlanChangeBurst int
}

type StripeConfig struct {
	SecretKey string
}

// ApplierConfig controls the scheduled change applier.
type ApplierConfig struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
	Concurrency int
	Timeout     time.Duration
	LockTTL     time.Duration
}

// ObservabilityConfig carries the raw logging and OpenTelemetry settings.
type ObservabilityConfig struct {
	DeploymentEnv  string
	ServiceVersion string

	LogLevel              string
	LogFormat             string
	LogSamplingInitial    int
	LogSamplingThereafter int

	OtelEnabled         bool
	OtelEndpoint        string
	OtelProtocol        string
	OtelTracesProtocol  string
	OtelSamplingRatio   float64
	OtelMetricsDisabled bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "contractbilling"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Mode:          normalizeMode(getenv("APP_MODE", ModeOSS)),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		SnowflakeNode: getenvInt64("SNOWFLAKE_NODE", 1),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "contractbilling"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		RunMigrations:     getenvBool("DATABASE_RUN_MIGRATIONS", true),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getenvBool("RATE_LIMIT_ENABLED", false),
			PlanChangeRate:  getenvFloat("RATE_LIMIT_PLAN_CHANGE_RATE", 0.2),
			PlanChangeBurst: getenvInt("RATE_LIMIT_PLAN_CHANGE_BURST", 5),
		},
		Stripe: StripeConfig{
			SecretKey: strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
		},
		Applier: ApplierConfig{
			Enabled:     getenvBool("APPLIER_ENABLED", true),
			RunInterval: getenvDuration("APPLIER_INTERVAL", time.Hour),
			BatchSize:   getenvInt("APPLIER_BATCH_SIZE", 100),
			Concurrency: getenvInt("APPLIER_CONCURRENCY", 1),
			Timeout:     getenvDuration("APPLIER_TIMEOUT", 10*time.Minute),
			LockTTL:     getenvDuration("APPLIER_LOCK_TTL", 15*time.Minute),
		},
		Observability: ObservabilityConfig{
			DeploymentEnv:         getenv("DEPLOYMENT_ENV", ""),
			ServiceVersion:        getenv("SERVICE_VERSION", ""),
			LogLevel:              getenv("LOG_LEVEL", "info"),
			LogFormat:             getenv("LOG_FORMAT", "json"),
			LogSamplingInitial:    getenvInt("LOG_SAMPLING_INITIAL", 100),
			LogSamplingThereafter: getenvInt("LOG_SAMPLING_THEREAFTER", 100),
			OtelEnabled:           getenvBool("OTEL_ENABLED", false),
			OtelEndpoint:          getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OtelProtocol:          getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
			OtelTracesProtocol:    getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", ""),
			OtelSamplingRatio:     getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			OtelMetricsDisabled:   getenvBool("OTEL_METRICS_DISABLED", false),
		},
	}

	return cfg
}

const (
	ModeOSS        = "oss"
	ModeCloud      = "cloud"
	ModeStandalone = "standalone"
)

// IsCloud reports whether the applier runs as its own deployment.
func (c Config) IsCloud() bool {
	return c.Mode == ModeCloud
}

func normalizeMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case ModeCloud:
		return ModeCloud
	case ModeStandalone, ModeOSS:
		return ModeOSS
	default:
		return ModeOSS
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
