// Package jobctx gives a running payload access to the job it belongs to.
package jobctx

import (
	"context"
	"log/slog"

	"github.com/jdziat/delayed-jobs/pkg/core"
)

type jobContextKey struct{}

// JobContext holds the job being performed and the worker performing it.
type JobContext struct {
	Job    *core.Job
	Worker string
	Logger *slog.Logger
}

// With attaches jc to ctx. Workers call this before Perform.
func With(ctx context.Context, jc *JobContext) context.Context {
	return context.WithValue(ctx, jobContextKey{}, jc)
}

// From returns the job context, or nil outside a job.
func From(ctx context.Context) *JobContext {
	if jc, ok := ctx.Value(jobContextKey{}).(*JobContext); ok {
		return jc
	}
	return nil
}

// JobFromContext returns the current Job from context, or nil if not in a job.
func JobFromContext(ctx context.Context) *core.Job {
	jc := From(ctx)
	if jc == nil {
		return nil
	}
	return jc.Job
}

// JobIDFromContext returns the current job ID, or "" outside a job.
func JobIDFromContext(ctx context.Context) string {
	job := JobFromContext(ctx)
	if job == nil {
		return ""
	}
	return job.ID
}

// WorkerFromContext returns the name of the worker running the job.
func WorkerFromContext(ctx context.Context) string {
	jc := From(ctx)
	if jc == nil {
		return ""
	}
	return jc.Worker
}

// Attempt returns the number of earlier failed executions of the current job.
func Attempt(ctx context.Context) int {
	job := JobFromContext(ctx)
	if job == nil {
		return 0
	}
	return job.Attempts
}

// Logger returns a logger annotated with the job and worker, falling back
// to slog.Default outside a job.
func Logger(ctx context.Context) *slog.Logger {
	jc := From(ctx)
	if jc == nil {
		return slog.Default()
	}
	l := jc.Logger
	if l == nil {
		l = slog.Default()
	}
	if jc.Job != nil {
		l = l.With("job_id", jc.Job.ID, "attempts", jc.Job.Attempts)
	}
	return l.With("worker", jc.Worker)
}
