package core

import (
	"math"
	"time"
)

// Queue-wide defaults.
const (
	// MaxAttempts is the number of failed executions after which a job is
	// permanently failed.
	MaxAttempts = 25

	// MaxRunTime is the default staleness window: a lock older than this is
	// no longer honoured and the job may be claimed by another worker.
	MaxRunTime = 4 * time.Hour

	// DefaultReadAhead is the number of candidates fetched per poll.
	DefaultReadAhead = 5

	// DefaultSleepDelay is the idle wait between polls that found no work.
	DefaultSleepDelay = 5 * time.Second

	// DefaultWorkOff is the number of jobs a worker processes per pass.
	DefaultWorkOff = 100
)

// Job is one persisted unit of deferred work and its scheduling metadata.
type Job struct {
	ID        string     `gorm:"primaryKey;size:36"`
	Priority  int        `gorm:"index;not null;default:0"`
	Attempts  int        `gorm:"not null;default:0"`
	Handler   string     `gorm:"type:text"` // encoded payload envelope
	LastError string     `gorm:"type:text"`
	RunAt     time.Time  `gorm:"index;not null"`
	LockedAt  *time.Time
	LockedBy  *string    `gorm:"index;size:255"`
	FailedAt  *time.Time `gorm:"index"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
}

// TableName pins the table name independently of GORM's naming strategy.
func (Job) TableName() string { return "delayed_jobs" }

// Failed reports whether the job reached the terminal-failed state.
func (j *Job) Failed() bool { return j.FailedAt != nil }

// Locked reports whether some worker currently claims custody of the job.
// Staleness is not considered; see Eligible.
func (j *Job) Locked() bool { return j.LockedAt != nil }

// LockedByName returns the custodian identity, or "" when unlocked.
func (j *Job) LockedByName() string {
	if j.LockedBy == nil {
		return ""
	}
	return *j.LockedBy
}

// Eligible mirrors the store's claim predicate for a single in-memory job.
func (j *Job) Eligible(now time.Time, maxRunTime time.Duration, worker string) bool {
	if j.Failed() || j.RunAt.After(now) {
		return false
	}
	if j.LockedAt == nil {
		return true
	}
	if j.LockedAt.Before(now.Add(-maxRunTime)) {
		return true
	}
	return worker != "" && j.LockedByName() == worker
}

// AvailableQuery parameterises the selector.
type AvailableQuery struct {
	Limit       int
	MaxRunTime  time.Duration
	WorkerName  string
	MinPriority *int
	MaxPriority *int
}

// Stats summarises the queue table.
type Stats struct {
	Total   int64
	Pending int64
	Locked  int64
	Failed  int64
}

// Clock returns the current time as the store should see it.
type Clock func() time.Time

// UTCClock is the default clock.
func UTCClock() time.Time { return time.Now().UTC() }

// LocalClock reports local wall time.
func LocalClock() time.Time { return time.Now() }

// BackoffFunc maps the number of failed attempts so far to the delay before
// the job may run again.
type BackoffFunc func(attempts int) time.Duration

// DefaultBackoff waits attempts^4 + 5 seconds, spacing repeated failures
// increasingly far apart.
func DefaultBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	secs := math.Pow(float64(attempts), 4) + 5
	return time.Duration(secs) * time.Second
}
