package core

import (
	"context"
	"time"
)

// Starter is the interface for starting workers.
type Starter interface {
	Start(ctx context.Context) error
}

// Performable is the capability every payload exposes.
type Performable interface {
	Perform(ctx context.Context) error
}

// DisplayNamer lets a payload choose the name used in logs.
type DisplayNamer interface {
	DisplayName() string
}

// Entity is a value stored outside the queue that payloads reference by
// identifier instead of embedding.
type Entity interface {
	EntityID() string
}

// Storage defines the persistence layer for jobs.
type Storage interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Enqueue inserts a new job row.
	Enqueue(ctx context.Context, job *Job) error

	// FindAvailable returns claimable candidates, priority DESC, run_at ASC.
	FindAvailable(ctx context.Context, q AvailableQuery) ([]*Job, error)

	// Lock claims the job for worker with a single conditional write.
	// Returns an error wrapping ErrLock when another worker won.
	Lock(ctx context.Context, job *Job, maxRunTime time.Duration, worker string) error

	// Unlock releases custody without rescheduling.
	Unlock(ctx context.Context, jobID string, worker string) error

	// Reschedule persists attempts, run_at and last_error and clears the lock.
	Reschedule(ctx context.Context, job *Job, worker string) error

	// MarkFailed moves the job to the terminal-failed state.
	MarkFailed(ctx context.Context, job *Job, worker string) error

	// Delete removes the job row.
	Delete(ctx context.Context, jobID string) error

	// Administrative operations
	ClearLocks(ctx context.Context, worker string) (int64, error)
	Peek(ctx context.Context, n int, maxRunTime time.Duration) ([]*Job, error)
	DeleteAll(ctx context.Context) (int64, error)
	PurgeFailed(ctx context.Context, before time.Time) (int64, error)

	// Queries
	GetJob(ctx context.Context, jobID string) (*Job, error)
	Stats(ctx context.Context, maxRunTime time.Duration) (Stats, error)
}
