// Package queue provides the Queue orchestrator for the delayed package.
package queue

import (
	"log/slog"
	"time"

	"github.com/jdziat/delayed-jobs/pkg/core"
	"github.com/jdziat/delayed-jobs/pkg/payload"
	"github.com/jdziat/delayed-jobs/pkg/security"
)

// Options holds per-job enqueue settings.
type Options struct {
	Priority int
	Delay    time.Duration
	RunAt    *time.Time
}

// NewOptions creates Options with defaults: priority 0, run now.
func NewOptions() *Options {
	return &Options{}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// Priority sets the job priority (higher = runs first).
func Priority(p int) Option {
	return optionFunc(func(o *Options) {
		o.Priority = p
	})
}

// Delay schedules the job to run after a duration.
func Delay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Delay = d
	})
}

// At schedules the job to run at a specific time. At wins over Delay.
func At(t time.Time) Option {
	return optionFunc(func(o *Options) {
		o.RunAt = &t
	})
}

// QueueOption configures a Queue at construction.
type QueueOption interface {
	applyQueue(*Queue)
}

type queueOptionFunc func(*Queue)

func (f queueOptionFunc) applyQueue(q *Queue) { f(q) }

// WithMaxAttempts sets the failure budget. Values are clamped to
// [1, security.MaxAttempts].
func WithMaxAttempts(n int) QueueOption {
	return queueOptionFunc(func(q *Queue) {
		q.maxAttempts = security.ClampAttempts(n)
	})
}

// WithDestroyFailedJobs selects the exhaustion policy: delete the row (true,
// the default) or keep it with failed_at set.
func WithDestroyFailedJobs(destroy bool) QueueOption {
	return queueOptionFunc(func(q *Queue) {
		q.destroyFailed = destroy
	})
}

// WithBackoff replaces core.DefaultBackoff.
func WithBackoff(fn core.BackoffFunc) QueueOption {
	return queueOptionFunc(func(q *Queue) {
		if fn != nil {
			q.backoff = fn
		}
	})
}

// WithClock sets the time source for run_at and failed_at.
func WithClock(c core.Clock) QueueOption {
	return queueOptionFunc(func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	})
}

// WithMaxRunTime sets the staleness window used by Stats and Peek.
func WithMaxRunTime(d time.Duration) QueueOption {
	return queueOptionFunc(func(q *Queue) {
		if d > 0 {
			q.maxRunTime = d
		}
	})
}

// WithRegistry shares a payload registry between queues.
func WithRegistry(r *payload.Registry) QueueOption {
	return queueOptionFunc(func(q *Queue) {
		if r != nil {
			q.registry = r
		}
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) QueueOption {
	return queueOptionFunc(func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	})
}
