// Package config defines configuration parsing for the orchestrator.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds every tunable of the orchestrator, parsed from environment
// variables. Provider credentials and per-component thresholds all live
// here so the rest of the codebase never reads os.Getenv directly.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Optional durability mirror for quota counters (D3).
	PostgresURL string `env:"POSTGRES_URL"`

	// Optional durable event sink (D8).
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string `env:"ANTHROPIC_BASE_URL" envDefault:"https://api.anthropic.com/v1"`
	GoogleAPIKey    string `env:"GOOGLE_API_KEY"`
	GoogleBaseURL   string `env:"GOOGLE_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1"`
	AzureAPIKey     string `env:"AZURE_API_KEY"`
	AzureEndpoint   string `env:"AZURE_ENDPOINT"`
	AzureDeployment string `env:"AZURE_DEPLOYMENT"`
	AzureAPIVersion string `env:"AZURE_API_VERSION" envDefault:"2024-02-01"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ai-orchestrator"`

	// Circuit breaker defaults (C4), per-provider overrides may be layered
	// on top by callers.
	BreakerFailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerTimeout          time.Duration `env:"BREAKER_TIMEOUT" envDefault:"10s"`
	BreakerResetTimeout     time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"30s"`
	BreakerHalfOpenAttempts int           `env:"BREAKER_HALF_OPEN_ATTEMPTS" envDefault:"1"`

	// Health monitor (C5).
	HealthProbeInterval time.Duration `env:"HEALTH_PROBE_INTERVAL" envDefault:"30s"`
	HealthProbeTimeout  time.Duration `env:"HEALTH_PROBE_TIMEOUT" envDefault:"5s"`

	// Quota defaults (C7), applied when no per-user override is stored.
	QuotaMonthlyRequests int     `env:"QUOTA_MONTHLY_REQUESTS" envDefault:"100000"`
	QuotaMonthlyTokens   int     `env:"QUOTA_MONTHLY_TOKENS" envDefault:"50000000"`
	QuotaMonthlyCost     float64 `env:"QUOTA_MONTHLY_COST" envDefault:"500"`
	QuotaDailyRequests   int     `env:"QUOTA_DAILY_REQUESTS" envDefault:"5000"`
	QuotaDailyTokens     int     `env:"QUOTA_DAILY_TOKENS" envDefault:"2000000"`
	QuotaDailyCost       float64 `env:"QUOTA_DAILY_COST" envDefault:"25"`
	QuotaSessionRequests int     `env:"QUOTA_SESSION_REQUESTS" envDefault:"500"`
	QuotaSessionTokens   int     `env:"QUOTA_SESSION_TOKENS" envDefault:"200000"`
	QuotaSessionCost     float64 `env:"QUOTA_SESSION_COST" envDefault:"5"`

	// Rate-limit defaults (C8).
	RateLimitRPM        int           `env:"RATE_LIMIT_RPM" envDefault:"60"`
	RateLimitRPH        int           `env:"RATE_LIMIT_RPH" envDefault:"2000"`
	RateLimitTPM        int           `env:"RATE_LIMIT_TPM" envDefault:"100000"`
	RateLimitTPH        int           `env:"RATE_LIMIT_TPH" envDefault:"2000000"`
	RateLimitCPM        float64       `env:"RATE_LIMIT_CPM" envDefault:"1"`
	RateLimitCPH        float64       `env:"RATE_LIMIT_CPH" envDefault:"20"`
	RateLimitBurstWindow time.Duration `env:"RATE_LIMIT_BURST_WINDOW" envDefault:"10s"`
	RateLimitBurstLimit int           `env:"RATE_LIMIT_BURST_LIMIT" envDefault:"5"`

	// Cache (C9).
	CacheL1MaxSize            int           `env:"CACHE_L1_MAX_SIZE" envDefault:"10000"`
	CacheDefaultTTL           time.Duration `env:"CACHE_DEFAULT_TTL" envDefault:"24h"`
	CacheCleanupInterval      time.Duration `env:"CACHE_CLEANUP_INTERVAL" envDefault:"5m"`
	CacheScheduleTickInterval time.Duration `env:"CACHE_SCHEDULE_TICK_INTERVAL" envDefault:"60s"`

	// Provider HTTP / retry behavior (C3, D7).
	ProviderTimeout       time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`
	ProviderMaxRetries    int           `env:"PROVIDER_MAX_RETRIES" envDefault:"3"`
	ProviderRetryDelay    time.Duration `env:"PROVIDER_RETRY_DELAY" envDefault:"500ms"`

	KVOpTimeout time.Duration `env:"KV_OP_TIMEOUT" envDefault:"1s"`

	CORSAllowOrigins   string `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	HTTPRatePerMinute  int    `env:"HTTP_RATE_PER_MINUTE" envDefault:"300"`
	HTTPRequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`

	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
