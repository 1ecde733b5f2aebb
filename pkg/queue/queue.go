package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/delayed-jobs/pkg/core"
	"github.com/jdziat/delayed-jobs/pkg/payload"
)

// Queue encodes work into jobs, settles their outcomes and fans lifecycle
// notifications out to hooks and event subscribers.
type Queue struct {
	storage  core.Storage
	registry *payload.Registry
	mu       sync.RWMutex

	// Hooks
	onStart    []func(context.Context, *core.Job)
	onComplete []func(context.Context, *core.Job)
	onFail     []func(context.Context, *core.Job, error)
	onRetry    []func(context.Context, *core.Job, int, error)

	// Event stream
	eventSubs []chan core.Event

	// Retry/failure policy
	maxAttempts   int
	destroyFailed bool
	backoff       core.BackoffFunc
	clock         core.Clock
	maxRunTime    time.Duration

	logger *slog.Logger
}

// New creates a new Queue with the given storage backend.
func New(s core.Storage, opts ...QueueOption) *Queue {
	q := &Queue{
		storage:       s,
		maxAttempts:   core.MaxAttempts,
		destroyFailed: true,
		backoff:       core.DefaultBackoff,
		clock:         core.UTCClock,
		maxRunTime:    core.MaxRunTime,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt.applyQueue(q)
	}
	if q.registry == nil {
		q.registry = payload.NewRegistry()
	}
	return q
}

// Register makes a payload type decodable under tag.
func (q *Queue) Register(tag string, prototype core.Performable) error {
	return q.registry.Register(tag, prototype)
}

// RegisterEntity registers an externally stored type. Values of it are
// enqueued as references and loaded with find when the job runs.
func (q *Queue) RegisterEntity(tag string, prototype core.Entity, find payload.FindFunc) error {
	return q.registry.RegisterEntity(tag, prototype, find)
}

// SetResolver installs the fallback consulted for unknown payload tags.
func (q *Queue) SetResolver(r payload.Resolver) {
	q.registry.SetResolver(r)
}

// Registry returns the payload registry.
func (q *Queue) Registry() *payload.Registry { return q.registry }

// Storage returns the underlying storage.
func (q *Queue) Storage() core.Storage { return q.storage }

// Logger returns the queue's logger.
func (q *Queue) Logger() *slog.Logger { return q.logger }

// Now reads the queue clock.
func (q *Queue) Now() time.Time { return q.clock() }

// MaxRunTime returns the configured staleness window.
func (q *Queue) MaxRunTime() time.Duration { return q.maxRunTime }

// Migrate creates the job table.
func (q *Queue) Migrate(ctx context.Context) error {
	return q.storage.Migrate(ctx)
}

// Enqueue encodes descriptor and stores it as a new job. The descriptor
// must implement core.Performable; otherwise a *core.ArgumentError is
// returned and nothing is stored.
func (q *Queue) Enqueue(ctx context.Context, descriptor any, opts ...Option) (*core.Job, error) {
	blob, err := q.registry.Encode(descriptor)
	if err != nil {
		return nil, err
	}

	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}

	now := q.clock()
	runAt := now
	if options.Delay > 0 {
		runAt = now.Add(options.Delay)
	}
	if options.RunAt != nil {
		runAt = *options.RunAt
	}

	job := &core.Job{
		ID:       uuid.New().String(),
		Priority: options.Priority,
		Handler:  blob,
		RunAt:    runAt,
	}
	if err := q.storage.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("delayed: failed to enqueue: %w", err)
	}
	q.logger.Debug("job enqueued", "job_id", job.ID, "job", payload.DisplayName(blob), "run_at", runAt)
	return job, nil
}

// Call captures target.method(args...) as a descriptor without enqueueing it.
func (q *Queue) Call(target any, method string, args ...any) (*payload.MethodCall, error) {
	return q.registry.NewMethodCall(target, method, args...)
}

// SendLater enqueues target.method(args...) to run in a worker.
func (q *Queue) SendLater(ctx context.Context, target any, method string, args ...any) (*core.Job, error) {
	mc, err := q.Call(target, method, args...)
	if err != nil {
		return nil, err
	}
	return q.Enqueue(ctx, mc)
}

// Decode turns a job's handler back into something runnable.
func (q *Queue) Decode(job *core.Job) (core.Performable, error) {
	return q.registry.Decode(job.Handler)
}

// Name returns the display name of a job.
func (q *Queue) Name(job *core.Job) string {
	return payload.DisplayName(job.Handler)
}

// Peek lists the next n jobs eligible to run, without locking them.
func (q *Queue) Peek(ctx context.Context, n int) ([]*core.Job, error) {
	return q.storage.Peek(ctx, n, q.maxRunTime)
}

// ClearLocks releases every lock held under worker's name.
func (q *Queue) ClearLocks(ctx context.Context, worker string) (int64, error) {
	n, err := q.storage.ClearLocks(ctx, worker)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Info("cleared locks", "worker", worker, "count", n)
	}
	return n, nil
}

// Clear deletes every job.
func (q *Queue) Clear(ctx context.Context) (int64, error) {
	return q.storage.DeleteAll(ctx)
}

// Stats counts jobs by state using the queue's staleness window.
func (q *Queue) Stats(ctx context.Context) (core.Stats, error) {
	return q.storage.Stats(ctx, q.maxRunTime)
}

// OnJobStart registers a callback for when a job starts.
func (q *Queue) OnJobStart(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onStart = append(q.onStart, fn)
	q.mu.Unlock()
}

// OnJobComplete registers a callback for when a job completes successfully.
func (q *Queue) OnJobComplete(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onComplete = append(q.onComplete, fn)
	q.mu.Unlock()
}

// OnJobFail registers a callback for when a job fails permanently.
func (q *Queue) OnJobFail(fn func(context.Context, *core.Job, error)) {
	q.mu.Lock()
	q.onFail = append(q.onFail, fn)
	q.mu.Unlock()
}

// OnRetry registers a callback for when a failed job is rescheduled.
func (q *Queue) OnRetry(fn func(context.Context, *core.Job, int, error)) {
	q.mu.Lock()
	q.onRetry = append(q.onRetry, fn)
	q.mu.Unlock()
}

// Events returns a channel for receiving queue events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	q.mu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers. Slow subscribers lose events.
func (q *Queue) Emit(e core.Event) {
	q.mu.RLock()
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// CallStartHooks calls all registered start hooks.
func (q *Queue) CallStartHooks(ctx context.Context, job *core.Job) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onStart))
	copy(hooks, q.onStart)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

// CallCompleteHooks calls all registered complete hooks.
func (q *Queue) CallCompleteHooks(ctx context.Context, job *core.Job) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onComplete))
	copy(hooks, q.onComplete)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

// CallFailHooks calls all registered fail hooks.
func (q *Queue) CallFailHooks(ctx context.Context, job *core.Job, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, error), len(q.onFail))
	copy(hooks, q.onFail)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, err)
	}
}

// CallRetryHooks calls all registered retry hooks.
func (q *Queue) CallRetryHooks(ctx context.Context, job *core.Job, attempt int, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, int, error), len(q.onRetry))
	copy(hooks, q.onRetry)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, attempt, err)
	}
}

// WorkerFactory is set by the root package to create workers.
// This avoids import cycles between queue and worker packages.
var WorkerFactory func(q *Queue, opts ...any) core.Starter

// NewWorker creates a new worker for this queue.
// Options should be worker.WorkerOption values.
func (q *Queue) NewWorker(opts ...any) core.Starter {
	if WorkerFactory == nil {
		panic("delayed: WorkerFactory not initialized - import github.com/jdziat/delayed-jobs to initialize")
	}
	return WorkerFactory(q, opts...)
}
