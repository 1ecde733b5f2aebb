package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jdziat/delayed-jobs/pkg/core"
	"github.com/jdziat/delayed-jobs/pkg/jobctx"
	"github.com/jdziat/delayed-jobs/pkg/queue"
)

// Outcome is what happened to a reserved job.
type Outcome int

const (
	// None means no job was claimed.
	None Outcome = iota
	// Succeeded means the job ran and was deleted.
	Succeeded
	// Failed means the job failed and was rescheduled or ended.
	Failed
)

// Result tallies a WorkOff pass.
type Result struct {
	Success int
	Failure int
}

// Total returns the number of jobs processed.
func (r Result) Total() int { return r.Success + r.Failure }

// Worker processes jobs from the queue.
type Worker struct {
	queue  *queue.Queue
	config WorkerConfig
	logger *slog.Logger
}

// NewWorker creates a new worker for the given queue.
func NewWorker(q *queue.Queue, opts ...WorkerOption) *Worker {
	config := defaultConfig()
	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}
	if config.Name == "" {
		config.Name = DefaultName()
	}

	logger := config.Logger
	if logger == nil {
		logger = q.Logger()
	}

	return &Worker{
		queue:  q,
		config: config,
		logger: logger.With("worker", config.Name),
	}
}

// Name returns the worker identity written to locked_by.
func (w *Worker) Name() string { return w.config.Name }

// Config returns a copy of the worker configuration.
func (w *Worker) Config() WorkerConfig { return w.config }

// Start runs passes until ctx is cancelled, sleeping after passes that
// found no work. It returns nil after a stop and an error when the store
// cannot be reached.
func (w *Worker) Start(ctx context.Context) error {
	w.say(fmt.Sprintf("*** Starting job worker %s", w.config.Name))

	if w.config.ClearLocksOnStart {
		err := retryWithBackoff(ctx, w.config.StorageRetry, func() error {
			_, err := w.queue.ClearLocks(ctx, w.config.Name)
			return err
		})
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("delayed: clear locks for %s: %w", w.config.Name, err)
		}
	}

	for ctx.Err() == nil {
		started := time.Now()
		result, err := w.WorkOff(ctx, w.config.WorkOff)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("worker pass aborted", "error", err)
			return err
		}

		count := result.Total()
		if count == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(w.config.SleepDelay):
			}
			continue
		}

		rate := float64(count) / max(time.Since(started).Seconds(), 1e-9)
		w.say(fmt.Sprintf("%d jobs processed at %.4f j/s, %d failed", count, rate, result.Failure))
	}

	w.say("Exiting...")
	return nil
}

// WorkOff reserves up to n jobs, stopping early when none can be claimed or
// ctx is cancelled. Cancellation is checked only between jobs.
func (w *Worker) WorkOff(ctx context.Context, n int) (Result, error) {
	var result Result
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		job, outcome, err := w.Reserve(ctx)
		if err != nil {
			return result, err
		}
		if job == nil {
			break
		}
		switch outcome {
		case Succeeded:
			result.Success++
		case Failed:
			result.Failure++
		}
	}
	return result, nil
}

// Reserve claims the first available candidate, performs it and settles the
// outcome. It returns a nil job when nothing could be claimed.
func (w *Worker) Reserve(ctx context.Context) (*core.Job, Outcome, error) {
	jobs, err := w.findAvailable(ctx)
	if err != nil {
		return nil, None, fmt.Errorf("delayed: find available jobs: %w", err)
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return nil, None, nil
		}

		err := retryWithBackoff(ctx, w.config.StorageRetry, func() error {
			return w.queue.Storage().Lock(ctx, job, w.config.MaxRunTime, w.config.Name)
		})
		if errors.Is(err, core.ErrLock) {
			continue
		}
		if err != nil {
			return nil, None, fmt.Errorf("delayed: lock job %s: %w", job.ID, err)
		}

		outcome, err := w.run(ctx, job)
		return job, outcome, err
	}
	return nil, None, nil
}

func (w *Worker) findAvailable(ctx context.Context) ([]*core.Job, error) {
	var jobs []*core.Job
	err := retryWithBackoff(ctx, w.config.StorageRetry, func() error {
		var findErr error
		jobs, findErr = w.queue.Storage().FindAvailable(ctx, core.AvailableQuery{
			Limit:       w.config.ReadAhead,
			MaxRunTime:  w.config.MaxRunTime,
			WorkerName:  w.config.Name,
			MinPriority: w.config.MinPriority,
			MaxPriority: w.config.MaxPriority,
		})
		return findErr
	})
	return jobs, err
}

// run performs a claimed job and settles it. A stop request does not reach
// the job or its settlement.
func (w *Worker) run(ctx context.Context, job *core.Job) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	name := w.queue.Name(job)

	started := time.Now()
	w.queue.CallStartHooks(ctx, job)
	w.queue.Emit(&core.JobStarted{Job: job, Worker: w.config.Name, Timestamp: started})

	runErr := w.perform(ctx, job)
	took := time.Since(started)

	if runErr == nil {
		err := retryWithBackoff(ctx, w.config.StorageRetry, func() error {
			return w.queue.Complete(ctx, job, w.config.Name, took)
		})
		if err != nil {
			return Succeeded, err
		}
		w.logger.Info(fmt.Sprintf("* [JOB] %s completed after %.4f", name, took.Seconds()),
			"job_id", job.ID, "runtime", took)
		return Succeeded, nil
	}

	w.logger.Error(fmt.Sprintf("* [JOB] %s failed with %s - %d failed attempts", name, runErr, job.Attempts+1),
		"job_id", job.ID, "attempts", job.Attempts+1, "error", runErr)

	// Reschedule advances job.Attempts before writing, so restore it
	// before each retry.
	attempts := job.Attempts
	err := retryWithBackoff(ctx, w.config.StorageRetry, func() error {
		job.Attempts = attempts
		return w.queue.Reschedule(ctx, job, w.config.Name, runErr)
	})
	if errors.Is(err, core.ErrJobNotOwned) {
		w.logger.Warn(fmt.Sprintf("* [JOB] lost custody of %s to another worker", name),
			"job_id", job.ID, "error", runErr)
		return Failed, nil
	}
	return Failed, err
}

// perform decodes and runs the payload, turning a panic into a
// *core.PanicError carrying the stack.
func (w *Worker) perform(ctx context.Context, job *core.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &core.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	p, err := w.queue.Decode(job)
	if err != nil {
		return err
	}

	jctx := jobctx.With(ctx, &jobctx.JobContext{Job: job, Worker: w.config.Name, Logger: w.logger})
	return p.Perform(jctx)
}

func (w *Worker) say(msg string) {
	if !w.config.Quiet && w.config.Output != nil {
		fmt.Fprintln(w.config.Output, msg)
	}
	w.logger.Info(msg)
}

var _ core.Starter = (*Worker)(nil)
