// Package storage provides storage implementations for the delayed package.
package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/delayed-jobs/pkg/core"
)

// eligible is the claim predicate shared by the selector and the lock write.
// Arguments: now, stale cutoff, worker name.
const eligible = "failed_at IS NULL AND run_at <= ? AND (locked_at IS NULL OR locked_at < ? OR locked_by = ?)"

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db     *gorm.DB
	clock  core.Clock
	logger *slog.Logger
}

// Option configures a GormStorage.
type Option interface {
	applyStorage(*GormStorage)
}

type optionFunc func(*GormStorage)

func (f optionFunc) applyStorage(s *GormStorage) { f(s) }

// WithClock sets the time source used for run_at and lock comparisons.
func WithClock(c core.Clock) Option {
	return optionFunc(func(s *GormStorage) {
		if c != nil {
			s.clock = c
		}
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(s *GormStorage) {
		if l != nil {
			s.logger = l
		}
	})
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB, opts ...Option) *GormStorage {
	s := &GormStorage{
		db:     db,
		clock:  core.UTCClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt.applyStorage(s)
	}
	return s
}

// DB exposes the underlying handle, e.g. for entity finders.
func (s *GormStorage) DB() *gorm.DB { return s.db }

// Migrate creates the delayed_jobs table and its indexes.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Job{})
}

// Enqueue inserts a job. A zero RunAt means "now".
func (s *GormStorage) Enqueue(ctx context.Context, job *core.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.RunAt.IsZero() {
		job.RunAt = s.clock()
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// FindAvailable returns up to q.Limit claimable jobs, highest priority first,
// then earliest run_at. Nothing is locked.
func (s *GormStorage) FindAvailable(ctx context.Context, q core.AvailableQuery) ([]*core.Job, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = core.DefaultReadAhead
	}
	maxRunTime := q.MaxRunTime
	if maxRunTime <= 0 {
		maxRunTime = core.MaxRunTime
	}
	now := s.clock()

	tx := s.db.WithContext(ctx).Where(eligible, now, now.Add(-maxRunTime), q.WorkerName)
	if q.MinPriority != nil {
		tx = tx.Where("priority >= ?", *q.MinPriority)
	}
	if q.MaxPriority != nil {
		tx = tx.Where("priority <= ?", *q.MaxPriority)
	}

	var jobs []*core.Job
	err := tx.Order("priority DESC, run_at ASC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// Lock claims job for worker with one conditional write. It fails with a
// *core.LockError when the row is no longer eligible for this worker.
func (s *GormStorage) Lock(ctx context.Context, job *core.Job, maxRunTime time.Duration, worker string) error {
	now := s.clock()
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", job.ID).
		Where(eligible, now, now.Add(-maxRunTime), worker).
		Updates(map[string]any{
			"locked_at": now,
			"locked_by": worker,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		s.logger.Debug("lock contention", "job_id", job.ID, "worker", worker)
		return &core.LockError{JobID: job.ID, Worker: worker}
	}

	job.LockedAt = &now
	job.LockedBy = &worker
	return nil
}

// Unlock releases worker's custody of a job without touching its schedule.
func (s *GormStorage) Unlock(ctx context.Context, jobID string, worker string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ?", jobID, worker).
		Updates(map[string]any{
			"locked_at": nil,
			"locked_by": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// Reschedule persists a failed attempt and releases the lock.
// Validates that the worker owns the job.
func (s *GormStorage) Reschedule(ctx context.Context, job *core.Job, worker string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ?", job.ID, worker).
		Updates(map[string]any{
			"attempts":   job.Attempts,
			"run_at":     job.RunAt,
			"last_error": job.LastError,
			"locked_at":  nil,
			"locked_by":  nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}

	job.LockedAt = nil
	job.LockedBy = nil
	return nil
}

// MarkFailed moves a job to the terminal-failed state and releases the lock.
// Validates that the worker owns the job.
func (s *GormStorage) MarkFailed(ctx context.Context, job *core.Job, worker string) error {
	if job.FailedAt == nil {
		now := s.clock()
		job.FailedAt = &now
	}
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ?", job.ID, worker).
		Updates(map[string]any{
			"attempts":   job.Attempts,
			"failed_at":  *job.FailedAt,
			"last_error": job.LastError,
			"locked_at":  nil,
			"locked_by":  nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}

	job.LockedAt = nil
	job.LockedBy = nil
	return nil
}

// Delete removes a job. Deleting a missing row is not an error.
func (s *GormStorage) Delete(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).Where("id = ?", jobID).Delete(&core.Job{}).Error
}

// ClearLocks releases every lock held under worker's name.
func (s *GormStorage) ClearLocks(ctx context.Context, worker string) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("locked_by = ?", worker).
		Updates(map[string]any{
			"locked_at": nil,
			"locked_by": nil,
		})
	return result.RowsAffected, result.Error
}

// Peek lists the next n jobs an anonymous worker would see, treating locks
// older than maxRunTime as stale.
func (s *GormStorage) Peek(ctx context.Context, n int, maxRunTime time.Duration) ([]*core.Job, error) {
	return s.FindAvailable(ctx, core.AvailableQuery{Limit: n, MaxRunTime: maxRunTime})
}

// DeleteAll empties the queue.
func (s *GormStorage) DeleteAll(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&core.Job{})
	return result.RowsAffected, result.Error
}

// PurgeFailed deletes terminal-failed jobs that failed before the cutoff.
func (s *GormStorage) PurgeFailed(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("failed_at IS NOT NULL AND failed_at < ?", before).
		Delete(&core.Job{})
	return result.RowsAffected, result.Error
}

// GetJob retrieves a job by ID. A missing job yields (nil, nil).
func (s *GormStorage) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Stats counts jobs by state. Locks older than maxRunTime count as pending.
func (s *GormStorage) Stats(ctx context.Context, maxRunTime time.Duration) (core.Stats, error) {
	if maxRunTime <= 0 {
		maxRunTime = core.MaxRunTime
	}
	cutoff := s.clock().Add(-maxRunTime)
	db := s.db.WithContext(ctx).Model(&core.Job{})

	var st core.Stats
	if err := db.Session(&gorm.Session{}).Count(&st.Total).Error; err != nil {
		return st, err
	}
	if err := db.Session(&gorm.Session{}).Where("failed_at IS NOT NULL").Count(&st.Failed).Error; err != nil {
		return st, err
	}
	if err := db.Session(&gorm.Session{}).
		Where("failed_at IS NULL AND locked_at IS NOT NULL AND locked_at >= ?", cutoff).
		Count(&st.Locked).Error; err != nil {
		return st, err
	}
	st.Pending = st.Total - st.Failed - st.Locked
	return st, nil
}

var _ core.Storage = (*GormStorage)(nil)
