// Package schedule computes fire times for recurring maintenance.
//
// Every gives fixed intervals; Cron accepts five-field expressions and
// descriptors ("@hourly", "@every 30m"). Run drives a callback from a
// Schedule until its context is cancelled.
package schedule
