package internal

import (
	"fmt"
	"math"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Env      string `envconfig:"ENV" default:"development"`
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`

	// Account store backend: "memory", "postgres" or "redis"
	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`
	DatabaseUrl  string `envconfig:"DATABASE_URL"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Quota engine
	FreeMonthlyQuota     int           `envconfig:"FREE_MONTHLY_QUOTA" default:"5"`
	QuotaConflictRetries int           `envconfig:"QUOTA_CONFLICT_RETRIES" default:"3"`
	QuotaOpTimeout       time.Duration `envconfig:"QUOTA_OP_TIMEOUT" default:"5s"`

	// Per-account request limit on the consume endpoint. Zero disables it.
	ConsumeRateLimit  int           `envconfig:"CONSUME_RATE_LIMIT" default:"30"`
	ConsumeRateWindow time.Duration `envconfig:"CONSUME_RATE_WINDOW" default:"1m"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string `envconfig:"METRICS_USERNAME"`
	MetricsPassword string `envconfig:"METRICS_PASSWORD"`

	// Audit events go to stderr when no path is set
	AuditLogPath string `envconfig:"AUDIT_LOG_PATH"`

	// Scheduled jobs
	SchedulerEnabled   bool   `envconfig:"SCHEDULER_ENABLED" default:"true"`
	CycleSweepSchedule string `envconfig:"CYCLE_SWEEP_SCHEDULE" default:"@daily"`
	ExportSchedule     string `envconfig:"EXPORT_SCHEDULE" default:"0 3 1 * *"`

	// Export storage: "local" or "r2"
	ExportProvider   string `envconfig:"EXPORT_PROVIDER" default:"local"`
	LocalStoragePath string `envconfig:"LOCAL_STORAGE_PATH" default:"./storage"`
	LocalStorageURL  string `envconfig:"LOCAL_STORAGE_URL" default:"http://localhost:8080/files"`

	R2AccountID       string `envconfig:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string `envconfig:"R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string `envconfig:"R2_SECRET_ACCESS_KEY"`
	R2BucketName      string `envconfig:"R2_BUCKET_NAME"`
	R2PublicURL       string `envconfig:"R2_PUBLIC_URL"` // Optional custom domain URL
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "memory":
	case "postgres":
		if c.DatabaseUrl == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is 'postgres'")
		}
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when STORE_BACKEND is 'redis'")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of 'memory', 'postgres' or 'redis', got: %s", c.StoreBackend)
	}

	if c.FreeMonthlyQuota < 0 || c.FreeMonthlyQuota > math.MaxInt32 {
		return fmt.Errorf("FREE_MONTHLY_QUOTA must be between 0 and %d, got: %d", math.MaxInt32, c.FreeMonthlyQuota)
	}
	if c.QuotaConflictRetries < 0 {
		return fmt.Errorf("QUOTA_CONFLICT_RETRIES must be non-negative, got: %d", c.QuotaConflictRetries)
	}
	if c.QuotaOpTimeout <= 0 {
		return fmt.Errorf("QUOTA_OP_TIMEOUT must be positive, got: %s", c.QuotaOpTimeout)
	}

	if c.ConsumeRateLimit < 0 {
		return fmt.Errorf("CONSUME_RATE_LIMIT must be non-negative, got: %d", c.ConsumeRateLimit)
	}
	if c.ConsumeRateLimit > 0 && c.ConsumeRateWindow <= 0 {
		return fmt.Errorf("CONSUME_RATE_WINDOW must be positive when CONSUME_RATE_LIMIT is set")
	}

	switch c.ExportProvider {
	case "local":
	case "r2":
		if c.R2AccountID == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when EXPORT_PROVIDER is 'r2'")
		}
		if c.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when EXPORT_PROVIDER is 'r2'")
		}
		if c.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when EXPORT_PROVIDER is 'r2'")
		}
		if c.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when EXPORT_PROVIDER is 'r2'")
		}
	default:
		return fmt.Errorf("EXPORT_PROVIDER must be either 'local' or 'r2', got: %s", c.ExportProvider)
	}

	return nil
}
