package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewEconomyHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPPort    string
	FrontendURL string

	AuthJWTSecret string
	CORSOrigins   []string

	OTLPEndpoint string

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

	Redis    RedisConfig
	Stripe   StripeConfig
	OpenAI   OpenAIConfig
	SMTP     SMTPConfig
	Storage  StorageConfig
	Schedule ScheduleConfig
	Notify   NotifyConfig
	Push     MetricsPushConfig

	Telemetry TelemetryConfig
}

// TelemetryConfig carries the logging and OTLP export settings.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OTLPEnabled   bool
	OTLPProtocol  string
	SamplingRatio float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	APIBaseURL       string
	Currency         string
	WebhookTolerance time.Duration
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	UseTLS    bool
}

// Enabled reports whether outbound mail is configured.
func (c SMTPConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != ""
}

type StorageConfig struct {
	Driver    string
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	LocalRoot string
}

type ScheduleConfig struct {
	Enabled          bool
	Interval         time.Duration
	ReconcileBatch   int
	NotificationScan int
}

type NotifyConfig struct {
	Workers   int
	QueueSize int
}

// MetricsPushConfig selects an optional push target for marketplace gauges.
// Exporter is prometheus_remote_write or prometheus_pushgateway.
type MetricsPushConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "stitchery"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPPort:      getenv("PORT", "8080"),
		FrontendURL:   strings.TrimRight(getenv("FRONTEND_URL", "http://localhost:3000"), "/"),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		CORSOrigins:   splitList(getenv("CORS_ALLOWED_ORIGINS", "*")),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "stitchery"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		Stripe: StripeConfig{
			SecretKey:        strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:    strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			APIBaseURL:       getenv("STRIPE_API_BASE_URL", "https://api.stripe.com"),
			Currency:         strings.ToLower(getenv("STRIPE_CURRENCY", "usd")),
			WebhookTolerance: getenvDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
		},
		OpenAI: OpenAIConfig{
			APIKey:  strings.TrimSpace(getenv("OPENAI_API_KEY", "")),
			BaseURL: getenv("OPENAI_BASE_URL", "https://api.openai.com"),
			Model:   getenv("OPENAI_IMAGE_MODEL", "dall-e-3"),
			Timeout: getenvDuration("OPENAI_TIMEOUT", 90*time.Second),
		},
		SMTP: SMTPConfig{
			Host:      strings.TrimSpace(getenv("EMAIL_HOST", "")),
			Port:      int(getenvInt64("EMAIL_PORT", 587)),
			Username:  getenv("EMAIL_HOST_USER", ""),
			Password:  getenv("EMAIL_HOST_PASSWORD", ""),
			FromEmail: getenv("DEFAULT_FROM_EMAIL", "orders@stitchery.local"),
			FromName:  getenv("DEFAULT_FROM_NAME", "Stitchery"),
			UseTLS:    getenvBool("EMAIL_USE_TLS", true),
		},
		Storage: StorageConfig{
			Driver:    strings.ToLower(getenv("STORAGE_DRIVER", "local")),
			Bucket:    getenv("STORAGE_BUCKET", ""),
			Region:    getenv("STORAGE_REGION", "us-east-1"),
			Endpoint:  getenv("STORAGE_ENDPOINT", ""),
			AccessKey: getenv("STORAGE_ACCESS_KEY", ""),
			SecretKey: getenv("STORAGE_SECRET_KEY", ""),
			LocalRoot: getenv("STORAGE_LOCAL_ROOT", "./media"),
		},
		Schedule: ScheduleConfig{
			Enabled:          getenvBool("SCHEDULER_ENABLED", true),
			Interval:         getenvDuration("SCHEDULER_INTERVAL", time.Minute),
			ReconcileBatch:   int(getenvInt64("SCHEDULER_RECONCILE_BATCH", 200)),
			NotificationScan: int(getenvInt64("SCHEDULER_NOTIFICATION_SCAN", 100)),
		},
		Notify: NotifyConfig{
			Workers:   int(getenvInt64("NOTIFICATION_WORKERS", 4)),
			QueueSize: int(getenvInt64("NOTIFICATION_QUEUE_SIZE", 256)),
		},
		Push: MetricsPushConfig{
			Enabled:   getenvBool("METRICS_PUSH_ENABLED", false),
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", "prometheus_remote_write"))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			Interval:  getenvDuration("METRICS_PUSH_INTERVAL", 5*time.Minute),
		},
	}

	cfg.Telemetry = TelemetryConfig{
		LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OTLPEnabled:   getenvBool("OTEL_ENABLED", cfg.IsProduction()),
		OTLPProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
		SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.OTLPEndpoint = endpoint
	}

	return cfg
}

// IsProduction reports whether the service runs in the production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
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
	parsed, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
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
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
