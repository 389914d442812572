package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL    string `env:"DATABASE_URL,required"`
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"postgres"` // postgres, pgx or sqlite
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	Environment    string `env:"ENVIRONMENT" envDefault:"development"`

	CronSpecScheduler    string        `env:"CRON_SPEC_SCHEDULER" envDefault:"0 6 * * *"` // Default: 06:00 daily
	SchedulerRunOnStart  bool          `env:"SCHEDULER_RUN_ON_START" envDefault:"true"`
	SchedulerPassTimeout time.Duration `env:"SCHEDULER_PASS_TIMEOUT" envDefault:"10m"`

	ProgramName      string `env:"PROGRAM_NAME" envDefault:"Reading Group"`
	CohortNameSuffix string `env:"COHORT_NAME_SUFFIX" envDefault:"Cohort"`
	DefaultCapacity  int    `env:"DEFAULT_CAPACITY" envDefault:"50"`
	// SystemActorID is the author recorded on scheduler-generated announcements.
	SystemActorID int64 `env:"SYSTEM_ACTOR_ID,required"`

	EmailBatchSize         int           `env:"EMAIL_BATCH_SIZE" envDefault:"10"`
	EmailBatchDelay        time.Duration `env:"EMAIL_BATCH_DELAY" envDefault:"1s"`
	EmailRatePerSec        int           `env:"EMAIL_RATE_PER_SEC" envDefault:"5"`
	EmailSkipAfterFailures int           `env:"EMAIL_SKIP_AFTER_FAILURES" envDefault:"3"`

	SMTPHost     string `env:"SMTP_HOST"` // empty logs emails instead of sending them
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"reading-group@localhost"`

	TelegramToken    string  `env:"TELEGRAM_TOKEN"` // bot is disabled when empty
	AdminTelegramIDs []int64 `env:"ADMIN_TELEGRAM_IDS" envSeparator:","`
	AnnounceChatID   int64   `env:"ANNOUNCE_CHAT_ID"` // 0 disables the Telegram mirror

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"` // empty disables the metrics listener
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()
	return Parse(env.Options{})
}

// Parse reads the configuration using opts, which tests use to supply an environment map.
func Parse(opts env.Options) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Environment = strings.ToLower(cfg.Environment)
	cfg.DatabaseDriver = strings.ToLower(cfg.DatabaseDriver)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.DefaultCapacity <= 0 {
		return fmt.Errorf("DEFAULT_CAPACITY must be positive, got %d", c.DefaultCapacity)
	}
	if c.EmailBatchSize <= 0 {
		return fmt.Errorf("EMAIL_BATCH_SIZE must be positive, got %d", c.EmailBatchSize)
	}
	if c.EmailRatePerSec < 0 {
		return fmt.Errorf("EMAIL_RATE_PER_SEC must not be negative, got %d", c.EmailRatePerSec)
	}
	if c.SchedulerPassTimeout <= 0 {
		return fmt.Errorf("SCHEDULER_PASS_TIMEOUT must be positive, got %s", c.SchedulerPassTimeout)
	}
	if c.TelegramToken != "" && len(c.AdminTelegramIDs) == 0 {
		return fmt.Errorf("ADMIN_TELEGRAM_IDS is not set")
	}
	return nil
}

// IsProduction reports whether structured JSON logging should be used.
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "staging"
}
