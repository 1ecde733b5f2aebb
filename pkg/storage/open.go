package storage

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/delayed-jobs/pkg/core"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// sqliteParams makes concurrent workers wait for the write lock instead of
// failing immediately with SQLITE_BUSY.
const sqliteParams = "_busy_timeout=5000&_txlock=immediate"

// PoolConfig holds connection pool configuration.
type PoolConfig struct {
	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 25
	MaxOpenConns int

	// MaxIdleConns is the maximum number of connections in the idle pool.
	// Default: 10
	MaxIdleConns int

	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	// Default: 5 minutes
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime is the maximum amount of time a connection may be idle.
	// Default: 1 minute
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns the pool settings used when no option overrides them.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// PoolOption configures connection pool settings.
type PoolOption interface {
	applyPool(*PoolConfig)
}

type poolOptionFunc func(*PoolConfig)

func (f poolOptionFunc) applyPool(c *PoolConfig) { f(c) }

// MaxOpenConns sets the maximum number of open connections.
// Zero or less keeps the default.
func MaxOpenConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		if n > 0 {
			c.MaxOpenConns = n
		}
	})
}

// MaxIdleConns sets the maximum number of idle connections.
func MaxIdleConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		if n > 0 {
			c.MaxIdleConns = n
		}
	})
}

// ConnMaxLifetime sets the maximum connection lifetime.
func ConnMaxLifetime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		if d > 0 {
			c.ConnMaxLifetime = d
		}
	})
}

// ConnMaxIdleTime sets the maximum idle time for connections.
func ConnMaxIdleTime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		if d > 0 {
			c.ConnMaxIdleTime = d
		}
	})
}

// ConfigurePool applies pool configuration to a GORM database connection.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	config := DefaultPoolConfig()
	for _, opt := range opts {
		opt.applyPool(&config)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(min(config.MaxIdleConns, config.MaxOpenConns))
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return nil
}

// Dialector returns the GORM dialector for driver. SQLite DSNs without query
// parameters get a busy timeout and immediate write transactions.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite, "sqlite3":
		if dsn == "" {
			return nil, fmt.Errorf("delayed: empty sqlite dsn")
		}
		if !strings.Contains(dsn, "?") && !isMemory(dsn) {
			dsn += "?" + sqliteParams
		}
		return sqlite.Open(dsn), nil
	case DriverPostgres, "postgresql", "pgx":
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("delayed: unsupported database driver %q", driver)
	}
}

// Open connects to the database, configures the pool and pins GORM's
// timestamps to clock so they compare correctly with run_at and locked_at.
func Open(driver, dsn string, clock core.Clock, logLevel logger.LogLevel, opts ...PoolOption) (*gorm.DB, error) {
	dialector, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = core.UTCClock
	}
	if logLevel == 0 {
		logLevel = logger.Warn
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logLevel),
		NowFunc: clock,
	})
	if err != nil {
		return nil, fmt.Errorf("delayed: open %s database: %w", driver, err)
	}

	// Every connection to ":memory:" is a separate database.
	if dialector.Name() == DriverSQLite && isMemory(dsn) {
		opts = append(opts, poolOptionFunc(func(c *PoolConfig) {
			c.MaxOpenConns = 1
			c.MaxIdleConns = 1
			c.ConnMaxLifetime = 0
			c.ConnMaxIdleTime = 0
		}))
	}
	if err := ConfigurePool(db, opts...); err != nil {
		return nil, err
	}
	return db, nil
}

// NewGormStorageWithPool creates a GORM-backed storage with connection
// pooling configured.
func NewGormStorageWithPool(db *gorm.DB, pool []PoolOption, opts ...Option) (*GormStorage, error) {
	if err := ConfigurePool(db, pool...); err != nil {
		return nil, err
	}
	return NewGormStorage(db, opts...), nil
}

func isMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}
