// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"development"`
	Port   int    `env:"PORT" envDefault:"8080"`
	// Supabase project endpoint and service-role key; the service key bypasses
	// row-level security, so it never leaves the backend.
	SupabaseURL        string `env:"SUPABASE_URL" envDefault:"http://localhost:54321"`
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_KEY"`
	SupabaseJWTSecret  string `env:"SUPABASE_JWT_SECRET"`
	RedisURL           string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	// CacheNamespace prefixes every broker key so several deployments can
	// share one Redis.
	CacheNamespace string `env:"CACHE_NAMESPACE" envDefault:"videogen:cache:"`
	FrontendURL    string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	// RateLimitPolicy selects broker-outage behavior: fail_open admits with a
	// warning, fail_closed rejects with retry_after=60.
	RateLimitPolicy string `env:"RATE_LIMIT_POLICY" envDefault:"fail_open"`
	AudioBucket     string `env:"AUDIO_BUCKET" envDefault:"audio-uploads"`
	VideoBucket     string `env:"VIDEO_BUCKET" envDefault:"video-outputs"`
	MaxUploadMB     int64  `env:"MAX_UPLOAD_MB" envDefault:"10"`
	// Worker Configuration
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"3"`
	QueuePopTimeout   time.Duration `env:"QUEUE_POP_TIMEOUT" envDefault:"5s"`
	WorkerMetricsPort int           `env:"WORKER_METRICS_PORT" envDefault:"9090"`
	// Stage Executor Configuration. An empty STAGE_BASE_URL selects the
	// deterministic in-process executor used for development and tests.
	StageBaseURL string        `env:"STAGE_BASE_URL" envDefault:""`
	StageTimeout time.Duration `env:"STAGE_TIMEOUT" envDefault:"120s"`
	// Retry Configuration
	RetryMaxRetries   int           `env:"RETRY_MAX_RETRIES" envDefault:"3"`
	RetryInitialDelay time.Duration `env:"RETRY_INITIAL_DELAY" envDefault:"2s"`
	RetryMaxDelay     time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`
	RetryMultiplier   float64       `env:"RETRY_MULTIPLIER" envDefault:"2.0"`
	// Terminal-event archive. Empty brokers disable the archiver.
	KafkaBrokers      []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:""`
	KafkaArchiveTopic string   `env:"KAFKA_ARCHIVE_TOPIC" envDefault:"videogen.job.terminal"`
	// Background Maintenance
	SweepMaxProcessingAge     time.Duration `env:"SWEEP_MAX_PROCESSING_AGE" envDefault:"30m"`
	SweepInterval             time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	AnalysisRetentionInterval time.Duration `env:"ANALYSIS_RETENTION_INTERVAL" envDefault:"1h"`
	OTLPEndpoint              string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName           string        `env:"OTEL_SERVICE_NAME" envDefault:"videogen"`
	// HTTP server timeouts. The write timeout stays zero so long-lived SSE
	// responses are not cut off mid-stream.
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.AppEnv) {
	case "development", "staging", "production", "test":
	default:
		return fmt.Errorf("unknown APP_ENV %q", c.AppEnv)
	}
	switch c.RateLimitPolicy {
	case "fail_open", "fail_closed":
	default:
		return fmt.Errorf("unknown RATE_LIMIT_POLICY %q", c.RateLimitPolicy)
	}
	if c.IsProd() && c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_KEY is required in production")
	}
	if c.IsProd() && c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required in production")
	}
	return nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "development" }

// IsStaging reports whether the app is running in staging mode.
func (c Config) IsStaging() bool { return strings.ToLower(c.AppEnv) == "staging" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "production" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// FailClosed reports whether rate limiting rejects when the broker is down.
func (c Config) FailClosed() bool { return c.RateLimitPolicy == "fail_closed" }

// ArchiveEnabled reports whether terminal job events are mirrored to Kafka.
func (c Config) ArchiveEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaBrokers[0] != ""
}

// BudgetLimit returns the per-job spend ceiling for the current environment.
func (c Config) BudgetLimit() float64 {
	if c.IsProd() || c.IsStaging() {
		return 2000
	}
	return 50
}

// EstimateCost computes the admission-time cost estimate from audio duration.
// Development pricing floors at $2 so short test clips still exercise the
// budget path.
func (c Config) EstimateCost(durationMinutes float64) float64 {
	if c.IsProd() || c.IsStaging() {
		return durationMinutes * 200
	}
	est := durationMinutes * 1.50
	if est < 2 {
		return 2
	}
	return est
}

// StageEstimateScale converts production-unit stage estimates to the current
// environment's pricing.
func (c Config) StageEstimateScale() float64 {
	if c.IsProd() || c.IsStaging() {
		return 1.0
	}
	return 0.01
}

// GetStageBackoffConfig returns backoff configuration appropriate for the current environment.
// In test environments, uses much shorter timeouts for faster test execution.
func (c Config) GetStageBackoffConfig() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return 5 * time.Second, 100 * time.Millisecond, 1 * time.Second, 2.0
	}
	return c.StageTimeout, c.RetryInitialDelay, c.RetryMaxDelay, c.RetryMultiplier
}
