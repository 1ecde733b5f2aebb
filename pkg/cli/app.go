package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/delayed-jobs/pkg/config"
	"github.com/jdziat/delayed-jobs/pkg/core"
	"github.com/jdziat/delayed-jobs/pkg/queue"
	"github.com/jdziat/delayed-jobs/pkg/storage"
)

// app is what every command needs: configuration, a logger and a queue.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	queue  *queue.Queue
}

func open(cmd *cobra.Command, setup Setup) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log := newLogger(cfg, cmd.ErrOrStderr())
	slog.SetDefault(log)

	clock := core.Clock(core.UTCClock)
	if !cfg.UTC {
		clock = core.LocalClock
	}

	db, err := storage.Open(cfg.DatabaseDriver, cfg.DatabaseURL, clock, gormLogLevel(cfg),
		storage.MaxOpenConns(cfg.DBMaxOpenConns),
		storage.MaxIdleConns(cfg.DBMaxIdleConns),
		storage.ConnMaxLifetime(cfg.DBConnMaxLifetime),
		storage.ConnMaxIdleTime(cfg.DBConnMaxIdleTime),
	)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	st := storage.NewGormStorage(db, storage.WithClock(clock), storage.WithLogger(log))
	q := queue.New(st,
		queue.WithClock(clock),
		queue.WithMaxAttempts(cfg.MaxAttempts),
		queue.WithDestroyFailedJobs(cfg.DestroyFailedJobs),
		queue.WithMaxRunTime(cfg.MaxRunTime),
		queue.WithLogger(log),
	)

	a := &app{cfg: cfg, logger: log, db: db, queue: q}
	if setup != nil {
		if err := setup(q); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	return a, nil
}

func (a *app) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newLogger creates a slog.Logger based on the configured log level and format.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" || cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func gormLogLevel(cfg *config.Config) logger.LogLevel {
	if cfg.LogLevel == "debug" {
		return logger.Info
	}
	return logger.Silent
}
