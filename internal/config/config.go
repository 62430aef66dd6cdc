// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"dev"`
	OpsPort int    `env:"PORT_OPS" envDefault:"9090"`

	// Database
	DBHost        string        `env:"DB_HOST" envDefault:"localhost"`
	DBPort        int           `env:"DB_PORT" envDefault:"5432"`
	DBUser        string        `env:"DB_USER" envDefault:"postgres"`
	DBPassword    string        `env:"DB_PASSWORD" envDefault:""`
	DBName        string        `env:"DB_NAME" envDefault:"weather_flick"`
	DBMaxConns    int32         `env:"DB_MAX_CONNS" envDefault:"15"`
	DBConnTimeout time.Duration `env:"DB_CONN_TIMEOUT" envDefault:"10s"`

	// Quota ledger KV; empty address leaves the Postgres mirror on its own.
	RedisAddr     string `env:"REDIS_ADDR" envDefault:""`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Providers. Secrets arrive comma-separated; one registry key each.
	KTOAPIKeys    []string `env:"KTO_API_KEYS" envSeparator:","`
	KMAAPIKeys    []string `env:"KMA_API_KEYS" envSeparator:","`
	KTOBaseURL    string   `env:"KTO_BASE_URL" envDefault:"http://apis.data.go.kr/B551011/KorService2"`
	KMABaseURL    string   `env:"KMA_BASE_URL" envDefault:"http://apis.data.go.kr/1360000/VilageFcstInfoService_2.0"`
	KTODailyQuota int      `env:"KTO_DAILY_QUOTA" envDefault:"1000" validate:"gt=0"`
	KMADailyQuota int      `env:"KMA_DAILY_QUOTA" envDefault:"1000" validate:"gt=0"`

	APITimeout    time.Duration `env:"API_TIMEOUT" envDefault:"30s"`
	APIRetryCount int           `env:"API_RETRY_COUNT" envDefault:"3"`

	// Concurrency governor
	KTOMaxInFlight    int           `env:"KTO_MAX_IN_FLIGHT" envDefault:"5" validate:"gt=0"`
	KMAMaxInFlight    int           `env:"KMA_MAX_IN_FLIGHT" envDefault:"3" validate:"gt=0"`
	GlobalMaxInFlight int           `env:"GLOBAL_MAX_IN_FLIGHT" envDefault:"8" validate:"gt=0"`
	KTOMinInterval    time.Duration `env:"KTO_MIN_INTERVAL" envDefault:"200ms"`
	KMAMinInterval    time.Duration `env:"KMA_MIN_INTERVAL" envDefault:"100ms"`
	AdaptiveDelayCap  time.Duration `env:"ADAPTIVE_DELAY_CAP" envDefault:"2s"`

	// Batch pipeline
	Timezone string `env:"BATCH_TIMEZONE" envDefault:"Asia/Seoul"`
	// BatchChunkSize overrides the preset's chunk size when nonzero.
	BatchChunkSize int    `env:"BATCH_CHUNK_SIZE" envDefault:"0" validate:"gte=0"`
	BatchPreset    string `env:"BATCH_PRESET" envDefault:"balanced" validate:"oneof=conservative balanced aggressive memory_constrained"`

	// Scheduler
	SchedulerWorkers int           `env:"SCHEDULER_WORKERS" envDefault:"20" validate:"gt=0"`
	JobTimeout       time.Duration `env:"JOB_TIMEOUT" envDefault:"30m"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	MaxRunningAge    time.Duration `env:"MAX_RUNNING_AGE" envDefault:"2h"`

	// Retry defaults applied to definitions that do not override them.
	RetryMaxRetries  int           `env:"RETRY_MAX_RETRIES" envDefault:"3"`
	RetryBackoffBase time.Duration `env:"RETRY_BACKOFF_BASE" envDefault:"1m"`
	RetryBackoffCap  time.Duration `env:"RETRY_BACKOFF_CAP" envDefault:"30m"`

	// Raw archive
	RawBackupDir string `env:"RAW_BACKUP_DIR" envDefault:""`

	// Operational rows (terminal executions, quality verdicts) kept this long.
	RetentionDays int `env:"RETENTION_DAYS" envDefault:"90" validate:"gt=0"`

	// Alerts
	AlertWebhookURL string        `env:"ALERT_WEBHOOK_URL" envDefault:""`
	AlertCooldown   time.Duration `env:"ALERT_COOLDOWN" envDefault:"30m"`

	// Quality gate
	QualityChecksPath string  `env:"QUALITY_CHECKS_PATH" envDefault:"configs/quality_checks.yaml"`
	QualityThreshold  float64 `env:"QUALITY_THRESHOLD" envDefault:"0.8" validate:"gte=0,lte=1"`

	// Ops surface
	OpsAuthDigest    string `env:"OPS_AUTH_DIGEST" envDefault:""`
	CORSAllowOrigins string `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin  int    `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`

	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"weather-flick-batch"`
}

// Load parses environment variables into a Config and validates it. Any
// failure here is a startup ConfigError; the process must not continue.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w: %w", domain.ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("op=config.Validate: %w: %w", domain.ErrConfig, err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured IANA zone. Daily quota resets and cron
// triggers are evaluated in this zone, never in machine-local time.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("op=config.Location: %w: invalid BATCH_TIMEZONE %q: %w", domain.ErrConfig, c.Timezone, err)
	}
	return loc, nil
}

// DatabaseURL composes the pgx connection string.
func (c Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// DailyQuota returns the configured per-key daily quota for a provider.
func (c Config) DailyQuota(p domain.Provider) int {
	if p == domain.ProviderKMA {
		return c.KMADailyQuota
	}
	return c.KTODailyQuota
}

// ProviderSecrets returns the configured secrets for a provider.
func (c Config) ProviderSecrets(p domain.Provider) []string {
	if p == domain.ProviderKMA {
		return c.KMAAPIKeys
	}
	return c.KTOAPIKeys
}

// RetryPolicy returns the scheduler defaults as a policy value.
func (c Config) RetryPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxRetries:  c.RetryMaxRetries,
		BackoffBase: c.RetryBackoffBase,
		BackoffCap:  c.RetryBackoffCap,
	}
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// ExecutorBackoff returns backoff settings for upstream calls. Test
// environments shrink the windows so suites run fast.
func (c Config) ExecutorBackoff() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return 5 * time.Second, 50 * time.Millisecond, 500 * time.Millisecond, 2.0
	}
	return 90 * time.Second, 1 * time.Second, 15 * time.Second, 2.0
}
