package core

import "time"

// Event is the interface for all queue events.
type Event interface {
	eventMarker()
}

// JobStarted is emitted when a claimed job starts executing.
type JobStarted struct {
	Job       *Job
	Worker    string
	Timestamp time.Time
}

func (*JobStarted) eventMarker() {}

// JobCompleted is emitted after a successful job has been removed.
type JobCompleted struct {
	Job       *Job
	Worker    string
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when a job fails permanently.
type JobFailed struct {
	Job       *Job
	Error     error
	Destroyed bool
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobRetrying is emitted when a failed job is rescheduled.
type JobRetrying struct {
	Job       *Job
	Attempts  int
	Error     error
	NextRunAt time.Time
	Timestamp time.Time
}

func (*JobRetrying) eventMarker() {}
