package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL     string
	PollInterval    int // seconds
	MaxRetries      int // attempts per remote call, first try included
	ShutdownTimeout int // seconds
	HTTPAddr        string

	LedgerBaseURL      string
	LedgerTokenURL     string
	LedgerClientID     string
	LedgerClientSecret string
	LedgerTenantID     string
	LedgerRefreshToken string
	WebhookKey         string

	PageSize           int
	RateLimitPerSecond float64
	RateLimitBurst     int
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	HTTPTimeout        time.Duration
	MaxPages           int

	MaxConcurrentJobs  int
	KindConcurrency    int
	SweepWindowDays    int
	MaxSweepWindowDays int
	ProgressTTL        time.Duration
	ProgressRetention  time.Duration
	StaleJobTimeout    time.Duration

	FullSyncSchedule        string
	IncrementalSyncSchedule string

	LogLevel  string
	LogFormat string

	// Warnings collects non-fatal configuration problems for the caller to log
	Warnings []string
}

var defaults = map[string]interface{}{
	"POLL_INTERVAL":             10, // poll every 10 seconds
	"MAX_RETRIES":               3,
	"SHUTDOWN_TIMEOUT":          30,
	"HTTP_ADDR":                 ":8080",
	"LEDGER_BASE_URL":           "https://api.xero.com/api.xro/2.0",
	"LEDGER_TOKEN_URL":          "https://identity.xero.com/connect/token",
	"PAGE_SIZE":                 100,
	"RATE_LIMIT_PER_SECOND":     1.0,
	"RATE_LIMIT_BURST":          5,
	"BACKOFF_BASE":              "1s",
	"BACKOFF_MAX":               "60s",
	"HTTP_TIMEOUT":              "30s",
	"MAX_PAGES":                 1000,
	"MAX_CONCURRENT_JOBS":       1,
	"KIND_CONCURRENCY":          2,
	"SWEEP_WINDOW_DAYS":         365,
	"MAX_SWEEP_WINDOW_DAYS":     730,
	"PROGRESS_TTL":              "1h",
	"PROGRESS_RETENTION":        "5m",
	"STALE_JOB_TIMEOUT":         "2h",
	"FULL_SYNC_SCHEDULE":        "@daily",
	"INCREMENTAL_SYNC_SCHEDULE": "@every 15m",
	"LOG_LEVEL":                 "info",
	"LOG_FORMAT":                "json",
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	dbURL := v.GetString("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		DatabaseURL:             dbURL,
		PollInterval:            v.GetInt("POLL_INTERVAL"),
		MaxRetries:              v.GetInt("MAX_RETRIES"),
		ShutdownTimeout:         v.GetInt("SHUTDOWN_TIMEOUT"),
		HTTPAddr:                v.GetString("HTTP_ADDR"),
		LedgerBaseURL:           v.GetString("LEDGER_BASE_URL"),
		LedgerTokenURL:          v.GetString("LEDGER_TOKEN_URL"),
		LedgerClientID:          v.GetString("LEDGER_CLIENT_ID"),
		LedgerClientSecret:      v.GetString("LEDGER_CLIENT_SECRET"),
		LedgerTenantID:          v.GetString("LEDGER_TENANT_ID"),
		LedgerRefreshToken:      v.GetString("LEDGER_REFRESH_TOKEN"),
		WebhookKey:              v.GetString("WEBHOOK_KEY"),
		PageSize:                v.GetInt("PAGE_SIZE"),
		RateLimitPerSecond:      v.GetFloat64("RATE_LIMIT_PER_SECOND"),
		RateLimitBurst:          v.GetInt("RATE_LIMIT_BURST"),
		BackoffBase:             v.GetDuration("BACKOFF_BASE"),
		BackoffMax:              v.GetDuration("BACKOFF_MAX"),
		HTTPTimeout:             v.GetDuration("HTTP_TIMEOUT"),
		MaxPages:                v.GetInt("MAX_PAGES"),
		MaxConcurrentJobs:       v.GetInt("MAX_CONCURRENT_JOBS"),
		KindConcurrency:         v.GetInt("KIND_CONCURRENCY"),
		SweepWindowDays:         v.GetInt("SWEEP_WINDOW_DAYS"),
		MaxSweepWindowDays:      v.GetInt("MAX_SWEEP_WINDOW_DAYS"),
		ProgressTTL:             v.GetDuration("PROGRESS_TTL"),
		ProgressRetention:       v.GetDuration("PROGRESS_RETENTION"),
		StaleJobTimeout:         v.GetDuration("STALE_JOB_TIMEOUT"),
		FullSyncSchedule:        v.GetString("FULL_SYNC_SCHEDULE"),
		IncrementalSyncSchedule: v.GetString("INCREMENTAL_SYNC_SCHEDULE"),
		LogLevel:                v.GetString("LOG_LEVEL"),
		LogFormat:               v.GetString("LOG_FORMAT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.LedgerClientID == "" || cfg.LedgerClientSecret == "" || cfg.LedgerTenantID == "" {
		cfg.Warnings = append(cfg.Warnings, "LEDGER_CLIENT_ID, LEDGER_CLIENT_SECRET or LEDGER_TENANT_ID not set, remote ledger calls will not work")
	}
	if cfg.WebhookKey == "" {
		cfg.Warnings = append(cfg.Warnings, "WEBHOOK_KEY not set, every signed webhook delivery will be rejected")
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("POLL_INTERVAL must be positive, got %d", c.PollInterval)
	case c.MaxRetries <= 0:
		return fmt.Errorf("MAX_RETRIES must be positive, got %d", c.MaxRetries)
	case c.PageSize <= 0:
		return fmt.Errorf("PAGE_SIZE must be positive, got %d", c.PageSize)
	case c.MaxPages <= 0:
		return fmt.Errorf("MAX_PAGES must be positive, got %d", c.MaxPages)
	case c.MaxConcurrentJobs <= 0:
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be positive, got %d", c.MaxConcurrentJobs)
	case c.KindConcurrency <= 0:
		return fmt.Errorf("KIND_CONCURRENCY must be positive, got %d", c.KindConcurrency)
	case c.SweepWindowDays <= 0 || c.SweepWindowDays > c.MaxSweepWindowDays:
		return fmt.Errorf("SWEEP_WINDOW_DAYS must be between 1 and MAX_SWEEP_WINDOW_DAYS (%d), got %d", c.MaxSweepWindowDays, c.SweepWindowDays)
	case c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase:
		return fmt.Errorf("BACKOFF_BASE must be positive and not exceed BACKOFF_MAX")
	}
	return nil
}
