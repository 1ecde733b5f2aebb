// Package worker provides the Worker type for job processing.
//
// A Worker polls the job table, claims one candidate at a time with a
// conditional write, performs it and settles the outcome through the queue.
// Reserve handles a single job, WorkOff a bounded pass and Start loops until
// its context is cancelled. Cancellation is only observed between jobs;
// a job that has started is always performed and settled.
//
// Most users should import the root package github.com/jdziat/delayed-jobs
// which provides access to worker configuration through queue.NewWorker().
package worker
