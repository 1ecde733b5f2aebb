// Package delayed is a persistent, database-backed queue for running work
// asynchronously in a pool of worker processes.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	db, _ := delayed.Open(delayed.DriverSQLite, "jobs.db")
//	store := delayed.NewGormStorage(db)
//	store.Migrate(ctx)
//	queue := delayed.New(store)
//
//	// Any type with Perform(ctx) error can be enqueued.
//	queue.Register("mailer.Welcome", &Welcome{})
//	queue.Enqueue(ctx, &Welcome{UserID: 42}, delayed.Priority(5))
//
//	// Or defer a method call on an entity loaded fresh when the job runs.
//	queue.RegisterEntity("users.User", &User{}, delayed.EntityFinder[User](db))
//	queue.SendLater(ctx, user, "SendDigest", "weekly")
//
//	worker := delayed.NewWorker(queue)
//	worker.Start(ctx)
package delayed

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/delayed-jobs/pkg/core"
	"github.com/jdziat/delayed-jobs/pkg/jobctx"
	"github.com/jdziat/delayed-jobs/pkg/payload"
	"github.com/jdziat/delayed-jobs/pkg/queue"
	"github.com/jdziat/delayed-jobs/pkg/security"
	"github.com/jdziat/delayed-jobs/pkg/storage"
	"github.com/jdziat/delayed-jobs/pkg/worker"
)

func init() {
	// Register the worker factory to enable queue.NewWorker()
	queue.WorkerFactory = func(q *queue.Queue, opts ...any) core.Starter {
		workerOpts := make([]worker.WorkerOption, 0, len(opts))
		for _, opt := range opts {
			if wo, ok := opt.(worker.WorkerOption); ok {
				workerOpts = append(workerOpts, wo)
			}
		}
		return worker.NewWorker(q, workerOpts...)
	}
}

type (
	// Job is one persisted unit of deferred work.
	Job = core.Job

	// Storage defines the persistence layer for jobs.
	Storage = core.Storage

	// Stats summarises the queue table.
	Stats = core.Stats

	// Performable is implemented by every enqueueable payload.
	Performable = core.Performable

	// Entity is a record that payloads reference by id instead of embedding.
	Entity = core.Entity

	// Clock returns the current time as the store should see it.
	Clock = core.Clock

	// BackoffFunc maps failed attempts to the delay before the next run.
	BackoffFunc = core.BackoffFunc

	// Event is the interface for all queue events.
	Event = core.Event

	// JobStarted is emitted when a job starts processing.
	JobStarted = core.JobStarted

	// JobCompleted is emitted when a job completes successfully.
	JobCompleted = core.JobCompleted

	// JobFailed is emitted when a job fails permanently.
	JobFailed = core.JobFailed

	// JobRetrying is emitted when a job is rescheduled.
	JobRetrying = core.JobRetrying

	// LockError reports a lost claim race.
	LockError = core.LockError

	// ArgumentError is returned when a descriptor cannot be enqueued.
	ArgumentError = core.ArgumentError

	// DeserializationError means a stored payload could not be rebuilt.
	DeserializationError = core.DeserializationError

	// PanicError carries a recovered panic and its stack.
	PanicError = core.PanicError

	// NoRetryError indicates an error that should not be retried.
	NoRetryError = core.NoRetryError

	// RetryAfterError indicates an error that should be retried after a delay.
	RetryAfterError = core.RetryAfterError

	// Queue owns registration, enqueueing and settlement.
	Queue = queue.Queue

	// Option modifies Options.
	Option = queue.Option

	// Options holds per-job enqueue settings.
	Options = queue.Options

	// QueueOption configures a Queue.
	QueueOption = queue.QueueOption

	// MethodCall is a deferred method invocation.
	MethodCall = payload.MethodCall

	// Resolver registers unknown payload types on demand.
	Resolver = payload.Resolver

	// ResolverFunc adapts a function to Resolver.
	ResolverFunc = payload.ResolverFunc

	// FindFunc loads an entity by id.
	FindFunc = payload.FindFunc

	// Worker processes jobs from the queue.
	Worker = worker.Worker

	// WorkerOption configures a Worker.
	WorkerOption = worker.WorkerOption

	// WorkerConfig holds worker configuration.
	WorkerConfig = worker.WorkerConfig

	// Result tallies one WorkOff pass.
	Result = worker.Result

	// GormStorage implements Storage using GORM.
	GormStorage = storage.GormStorage

	// PoolOption configures the connection pool.
	PoolOption = storage.PoolOption
)

// Queue defaults
const (
	MaxAttempts       = core.MaxAttempts
	MaxRunTime        = core.MaxRunTime
	DefaultReadAhead  = core.DefaultReadAhead
	DefaultSleepDelay = core.DefaultSleepDelay
)

// Database drivers
const (
	DriverSQLite   = storage.DriverSQLite
	DriverPostgres = storage.DriverPostgres
)

// Error variables
var (
	ErrLock            = core.ErrLock
	ErrJobNotOwned     = core.ErrJobNotOwned
	ErrEntityNotFound  = core.ErrEntityNotFound
	ErrInvalidTypeName = core.ErrInvalidTypeName
	ErrTypeNameTooLong = core.ErrTypeNameTooLong
	ErrPayloadTooLarge = core.ErrPayloadTooLarge
)

// New creates a new Queue with the given storage backend.
func New(s Storage, opts ...QueueOption) *Queue {
	return queue.New(s, opts...)
}

// Open connects to a sqlite or postgres database with UTC timestamps.
func Open(driver, dsn string, opts ...PoolOption) (*gorm.DB, error) {
	return storage.Open(driver, dsn, core.UTCClock, logger.Warn, opts...)
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// EntityFinder loads T rows by primary key for RegisterEntity.
func EntityFinder[T any](db *gorm.DB) FindFunc {
	return storage.EntityFinder[T](db)
}

// NewWorker creates a new worker for the given queue.
func NewWorker(q *Queue, opts ...WorkerOption) *Worker {
	return worker.NewWorker(q, opts...)
}

// NoRetry wraps an error so the job fails permanently on this attempt.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// RetryAfter wraps an error to run the job again after d instead of the
// backoff schedule.
func RetryAfter(d time.Duration, err error) error {
	return core.RetryAfter(d, err)
}

// DefaultBackoff waits attempts^4 + 5 seconds.
func DefaultBackoff(attempts int) time.Duration {
	return core.DefaultBackoff(attempts)
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage.
func SanitizeErrorMessage(msg string) string {
	return security.SanitizeErrorMessage(msg)
}

// Job option functions

// Priority sets the job priority (higher = runs first).
func Priority(p int) Option {
	return queue.Priority(p)
}

// Delay schedules the job to run after a duration.
func Delay(d time.Duration) Option {
	return queue.Delay(d)
}

// At schedules the job to run at a specific time.
func At(t time.Time) Option {
	return queue.At(t)
}

// Queue option functions

// WithMaxAttempts sets how many failures make a job permanent.
func WithMaxAttempts(n int) QueueOption {
	return queue.WithMaxAttempts(n)
}

// WithDestroyFailedJobs chooses between deleting and retaining exhausted jobs.
func WithDestroyFailedJobs(destroy bool) QueueOption {
	return queue.WithDestroyFailedJobs(destroy)
}

// WithBackoff replaces the retry delay schedule.
func WithBackoff(fn BackoffFunc) QueueOption {
	return queue.WithBackoff(fn)
}

// WithClock sets the clock used for run_at.
func WithClock(c Clock) QueueOption {
	return queue.WithClock(c)
}

// WithLogger sets the queue's logger.
func WithLogger(l *slog.Logger) QueueOption {
	return queue.WithLogger(l)
}

// Worker option functions

// WorkerName sets the identity recorded in locked_by.
func WorkerName(name string) WorkerOption {
	return worker.WithName(name)
}

// MinPriority skips jobs below p.
func MinPriority(p int) WorkerOption {
	return worker.MinPriority(p)
}

// MaxPriority skips jobs above p.
func MaxPriority(p int) WorkerOption {
	return worker.MaxPriority(p)
}

// SleepDelay sets the idle wait between empty polls.
func SleepDelay(d time.Duration) WorkerOption {
	return worker.SleepDelay(d)
}

// Quiet suppresses worker status lines.
func Quiet(quiet bool) WorkerOption {
	return worker.Quiet(quiet)
}

// JobFromContext returns the running Job, or nil outside a worker.
func JobFromContext(ctx context.Context) *Job {
	return jobctx.JobFromContext(ctx)
}

// JobIDFromContext returns the running job's id, or "".
func JobIDFromContext(ctx context.Context) string {
	return jobctx.JobIDFromContext(ctx)
}

// Logger returns a logger annotated with the running job's id and worker.
func Logger(ctx context.Context) *slog.Logger {
	return jobctx.Logger(ctx)
}
