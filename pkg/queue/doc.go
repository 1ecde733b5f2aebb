// Package queue provides the Queue type for job orchestration.
//
// This package includes:
//   - Queue: registers payload types, enqueues descriptors and method calls
//   - Settlement: Complete deletes a performed job, Reschedule applies the
//     backoff or the exhaustion policy to a failed one
//   - Option: per-job enqueue settings (Priority, Delay, At)
//   - QueueOption: process-wide retry policy, clock and logger
//   - Hook registration and event subscription for monitoring
//
// Most users should import the root package github.com/jdziat/delayed-jobs
// which re-exports Queue and all option functions.
package queue
