package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jdziat/delayed-jobs/pkg/core"
	"github.com/jdziat/delayed-jobs/pkg/security"
)

// Complete removes a performed job. The delete is the commit point: a crash
// before it means the job runs again after the staleness window.
func (q *Queue) Complete(ctx context.Context, job *core.Job, worker string, took time.Duration) error {
	if err := q.storage.Delete(ctx, job.ID); err != nil {
		return fmt.Errorf("delayed: complete job %s: %w", job.ID, err)
	}
	q.Emit(&core.JobCompleted{Job: job, Worker: worker, Duration: took, Timestamp: q.clock()})
	q.CallCompleteHooks(ctx, job)
	return nil
}

// Reschedule records a failed execution of job. While the failure budget
// lasts the job goes back to pending after a backoff; the failure that uses
// it up (or one wrapped with core.NoRetry) ends the job for good.
func (q *Queue) Reschedule(ctx context.Context, job *core.Job, worker string, cause error) error {
	now := q.clock()
	job.LastError = ErrorMessage(cause)

	var noRetry *core.NoRetryError
	if errors.As(cause, &noRetry) || job.Attempts+1 >= q.maxAttempts {
		job.Attempts++
		return q.exhaust(ctx, job, worker, cause, now)
	}

	delay := q.backoff(job.Attempts)
	var retryAfter *core.RetryAfterError
	if errors.As(cause, &retryAfter) && retryAfter.Delay > 0 {
		delay = retryAfter.Delay
	}

	if delay < 0 {
		delay = 0
	}
	job.Attempts++
	job.RunAt = now.Add(delay)
	if err := q.storage.Reschedule(ctx, job, worker); err != nil {
		return fmt.Errorf("delayed: reschedule job %s: %w", job.ID, err)
	}

	q.Emit(&core.JobRetrying{
		Job:       job,
		Attempts:  job.Attempts,
		Error:     cause,
		NextRunAt: job.RunAt,
		Timestamp: now,
	})
	q.CallRetryHooks(ctx, job, job.Attempts, cause)
	return nil
}

func (q *Queue) exhaust(ctx context.Context, job *core.Job, worker string, cause error, now time.Time) error {
	q.logger.Info(fmt.Sprintf("PERMANENTLY removing %s because of %d consecutive failures.", q.Name(job), job.Attempts),
		"job_id", job.ID, "worker", worker, "destroy", q.destroyFailed)

	if q.destroyFailed {
		if err := q.storage.Delete(ctx, job.ID); err != nil {
			return fmt.Errorf("delayed: destroy job %s: %w", job.ID, err)
		}
	} else {
		job.FailedAt = &now
		if err := q.storage.MarkFailed(ctx, job, worker); err != nil {
			return fmt.Errorf("delayed: mark job %s failed: %w", job.ID, err)
		}
	}

	q.Emit(&core.JobFailed{Job: job, Error: cause, Destroyed: q.destroyFailed, Timestamp: now})
	q.CallFailHooks(ctx, job, cause)
	return nil
}

// ErrorMessage renders cause for the last_error column: the message, then
// the stack when the failure was a panic.
func ErrorMessage(cause error) string {
	if cause == nil {
		return ""
	}
	msg := cause.Error()
	var pe *core.PanicError
	if errors.As(cause, &pe) && len(pe.Stack) > 0 {
		msg += "\n" + pe.Trace()
	}
	return security.SanitizeErrorMessage(msg)
}
