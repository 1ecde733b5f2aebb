package worker

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/delayed-jobs/pkg/core"
	"github.com/jdziat/delayed-jobs/pkg/jobctx"
	"github.com/jdziat/delayed-jobs/pkg/payload"
	"github.com/jdziat/delayed-jobs/pkg/queue"
	"github.com/jdziat/delayed-jobs/pkg/storage"
)

// newTestQueue returns a queue over a fresh SQLite file that several
// workers can share.
func newTestQueue(t *testing.T, opts ...queue.QueueOption) (*queue.Queue, *storage.GormStorage) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_txlock=immediate"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: core.UTCClock,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := storage.NewGormStorage(db)
	require.NoError(t, s.Migrate(context.Background()))

	q := queue.New(s, opts...)
	require.NoError(t, q.Register("test.Record", &recordJob{}))
	require.NoError(t, q.Register("test.Failing", &failingJob{}))
	require.NoError(t, q.Register("test.Panicking", &panickingJob{}))
	require.NoError(t, q.Register("test.Blocking", &blockingJob{}))
	require.NoError(t, q.Register("test.TakenOver", &takenOverJob{}))
	takeover = s
	return q, s
}

func newTestWorker(q *queue.Queue, opts ...WorkerOption) *Worker {
	base := []WorkerOption{
		WithName("test-worker"),
		Output(io.Discard),
		SleepDelay(10 * time.Millisecond),
		StorageRetry(fastRetry(2)),
	}
	return NewWorker(q, append(base, opts...)...)
}

func enqueue(t *testing.T, q *queue.Queue, d any, opts ...queue.Option) *core.Job {
	t.Helper()
	job, err := q.Enqueue(context.Background(), d, opts...)
	require.NoError(t, err)
	return job
}

func forceLock(t *testing.T, s *storage.GormStorage, jobID, worker string, at time.Time) {
	t.Helper()
	err := s.DB().Model(&core.Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"locked_at": at,
		"locked_by": worker,
	}).Error
	require.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Payloads
// ---------------------------------------------------------------------------

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) reset() {
	j.mu.Lock()
	j.entries = nil
	j.mu.Unlock()
}

var performed = &journal{}

type recordJob struct {
	Name string `json:"name"`
}

func (r *recordJob) Perform(ctx context.Context) error {
	performed.add(r.Name)
	return nil
}

type failingJob struct{}

func (*failingJob) Perform(ctx context.Context) error {
	return errors.New("always fails")
}

type panickingJob struct{}

func (*panickingJob) Perform(ctx context.Context) error {
	panic("kaboom")
}

var (
	blockingStarted = make(chan struct{}, 1)
	blockingRelease = make(chan struct{})
)

type blockingJob struct{}

func (*blockingJob) Perform(ctx context.Context) error {
	blockingStarted <- struct{}{}
	select {
	case <-blockingRelease:
	case <-ctx.Done():
		return ctx.Err()
	}
	performed.add("blocking")
	return nil
}

// takeover is the store takenOverJob rewrites; newTestQueue points it at
// the latest test store.
var takeover *storage.GormStorage

// takenOverJob hands its own row to another worker, as a stale-lock
// reclaim would while it runs, and then fails.
type takenOverJob struct{}

func (*takenOverJob) Perform(ctx context.Context) error {
	job := jobctx.JobFromContext(ctx)
	err := takeover.DB().Model(&core.Job{}).Where("id = ?", job.ID).Updates(map[string]any{
		"locked_at": time.Now().UTC(),
		"locked_by": "other-worker",
	}).Error
	if err != nil {
		return err
	}
	performed.add("taken-over")
	return errors.New("late failure")
}

// resolverFor registers "late.*" tags as recordJob on demand.
func resolverFor(q *queue.Queue) payload.ResolverFunc {
	return func(name string) error {
		if name == "Record" {
			return q.Register("late.Record", &recordJob{})
		}
		return errors.New("cannot resolve " + name)
	}
}
