// Package config parses worker and database configuration from environment
// variables using caarlos0/env/v11.
//
// Call [Load] once at startup. Command-line flags override what it returns.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything a delayed-jobs process reads from its environment.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseDriver    string        `env:"DATABASE_DRIVER"       envDefault:"sqlite"`
	DatabaseURL       string        `env:"DATABASE_URL"          envDefault:"delayed_jobs.db"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS"     envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS"     envDefault:"10"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME"  envDefault:"5m"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"1m"`

	// ── Worker ───────────────────────────────────────────────────────────────────
	// WorkerName defaults to "host:<hostname> pid:<pid>" when empty.
	WorkerName  string        `env:"DELAYED_WORKER_NAME"`
	MinPriority *int          `env:"DELAYED_MIN_PRIORITY"`
	MaxPriority *int          `env:"DELAYED_MAX_PRIORITY"`
	MaxRunTime  time.Duration `env:"DELAYED_MAX_RUN_TIME" envDefault:"4h"`
	SleepDelay  time.Duration `env:"DELAYED_SLEEP_DELAY"  envDefault:"5s"`
	ReadAhead   int           `env:"DELAYED_READ_AHEAD"   envDefault:"5"`

	// ── Queue ────────────────────────────────────────────────────────────────────
	MaxAttempts       int  `env:"DELAYED_MAX_ATTEMPTS"        envDefault:"25"`
	DestroyFailedJobs bool `env:"DELAYED_DESTROY_FAILED_JOBS" envDefault:"true"`
	// UTC selects the clock used for run_at and lock timestamps.
	UTC bool `env:"DELAYED_UTC" envDefault:"true"`

	// ── Maintenance ──────────────────────────────────────────────────────────────
	// Zero keeps failed jobs forever.
	FailedRetention time.Duration `env:"DELAYED_FAILED_RETENTION" envDefault:"0s"`
	SweepSchedule   string        `env:"DELAYED_SWEEP_SCHEDULE"   envDefault:"@hourly"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	AppEnv    string `env:"APP_ENV"    envDefault:"production"`
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses Config from the process environment and validates it.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses Config from vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no worker could run with.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.DatabaseDriver) {
	case "sqlite", "sqlite3", "postgres", "postgresql", "pgx":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER: unsupported driver %q", c.DatabaseDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL: must not be empty"))
	}
	if c.MaxRunTime <= 0 {
		errs = append(errs, errors.New("DELAYED_MAX_RUN_TIME: must be positive"))
	}
	if c.SleepDelay <= 0 {
		errs = append(errs, errors.New("DELAYED_SLEEP_DELAY: must be positive"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("DELAYED_MAX_ATTEMPTS: must be at least 1"))
	}
	if c.FailedRetention < 0 {
		errs = append(errs, errors.New("DELAYED_FAILED_RETENTION: must not be negative"))
	}
	if c.MinPriority != nil && c.MaxPriority != nil && *c.MinPriority > *c.MaxPriority {
		errs = append(errs, errors.New("DELAYED_MIN_PRIORITY: greater than DELAYED_MAX_PRIORITY"))
	}
	return errors.Join(errs...)
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
