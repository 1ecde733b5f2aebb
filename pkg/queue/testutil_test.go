package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/delayed-jobs/pkg/core"
	"github.com/jdziat/delayed-jobs/pkg/storage"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestQueue returns a queue over a fresh SQLite file and the clock both
// the queue and its storage read.
func newTestQueue(t *testing.T, opts ...QueueOption) (*Queue, *storage.GormStorage, *fixedClock) {
	t.Helper()
	clock := &fixedClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	path := filepath.Join(t.TempDir(), "queue.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: clock.Now,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := storage.NewGormStorage(db, storage.WithClock(clock.Now))
	require.NoError(t, s.Migrate(context.Background()))

	q := New(s, append([]QueueOption{WithClock(clock.Now)}, opts...)...)
	return q, s, clock
}

// claim locks job for worker the way a worker would before settling it.
func claim(t *testing.T, s *storage.GormStorage, job *core.Job, worker string) {
	t.Helper()
	require.NoError(t, s.Lock(context.Background(), job, core.MaxRunTime, worker))
}

type sendEmail struct {
	To string `json:"to"`
}

func (s *sendEmail) Perform(ctx context.Context) error { return nil }

type alwaysFails struct{}

func (alwaysFails) Perform(ctx context.Context) error { return errors.New("smtp unavailable") }

type account struct {
	ID string
}

func (a *account) EntityID() string { return a.ID }

func (a *account) Close(ctx context.Context, reason string) error { return nil }
