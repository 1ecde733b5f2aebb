// Package worker provides the Worker job processor for the delayed package.
package worker

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jdziat/delayed-jobs/pkg/core"
	"github.com/jdziat/delayed-jobs/pkg/security"
)

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds worker configuration. Every worker carries its own
// copy; nothing is shared between workers in a process.
type WorkerConfig struct {
	// Name identifies the worker in locked_by. Default: DefaultName().
	Name string

	// MinPriority and MaxPriority bound the jobs this worker takes.
	MinPriority *int
	MaxPriority *int

	// MaxRunTime is the staleness window after which locks held by other
	// workers are ignored.
	MaxRunTime time.Duration

	// ReadAhead is the number of candidates fetched per poll.
	ReadAhead int

	// SleepDelay is the wait after a pass that found nothing to do.
	SleepDelay time.Duration

	// WorkOff is the number of jobs processed per pass.
	WorkOff int

	// Quiet suppresses status lines on Output.
	Quiet bool

	// ClearLocksOnStart releases locks left under Name by a previous run.
	ClearLocksOnStart bool

	// Output receives human-readable status lines.
	Output io.Writer

	// StorageRetry governs retries of transient store failures.
	StorageRetry RetryConfig

	Logger *slog.Logger
}

// DefaultName returns "host:<hostname> pid:<pid>".
func DefaultName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("host:%s pid:%d", host, os.Getpid())
}

func defaultConfig() WorkerConfig {
	return WorkerConfig{
		MaxRunTime:   core.MaxRunTime,
		ReadAhead:    core.DefaultReadAhead,
		SleepDelay:   core.DefaultSleepDelay,
		WorkOff:      core.DefaultWorkOff,
		Output:       os.Stdout,
		StorageRetry: DefaultRetryConfig(),
	}
}

// WithName sets the worker identity.
func WithName(name string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Name = name
	})
}

// MinPriority skips jobs with a lower priority.
func MinPriority(p int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.MinPriority = &p
	})
}

// MaxPriority skips jobs with a higher priority.
func MaxPriority(p int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.MaxPriority = &p
	})
}

// MaxRunTime sets the staleness window.
func MaxRunTime(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.MaxRunTime = d
		}
	})
}

// ReadAhead sets the selector batch size.
// Values are clamped to [1, security.MaxReadAhead].
func ReadAhead(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.ReadAhead = security.ClampReadAhead(n)
	})
}

// SleepDelay sets the idle wait between empty passes.
func SleepDelay(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.SleepDelay = d
		}
	})
}

// WorkOffBatch sets the number of jobs per pass.
func WorkOffBatch(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if n > 0 {
			c.WorkOff = n
		}
	})
}

// Quiet suppresses status lines.
func Quiet(quiet bool) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Quiet = quiet
	})
}

// ClearLocksOnStart releases the worker's own stale locks when it starts.
func ClearLocksOnStart(clear bool) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.ClearLocksOnStart = clear
	})
}

// Output redirects status lines.
func Output(w io.Writer) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if w != nil {
			c.Output = w
		}
	})
}

// StorageRetry configures retries of transient store failures.
func StorageRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StorageRetry = cfg
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Logger = l
	})
}
