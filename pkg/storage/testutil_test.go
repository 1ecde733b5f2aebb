package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/delayed-jobs/pkg/core"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh SQLite file so several pool connections share one database.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: core.UTCClock,
	}

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		require.NoError(t, err, "open postgres test db")

		sqlDB, err := db.DB()
		require.NoError(t, err, "get underlying sql.DB")
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(1)

		// Clean before AND after to ensure test isolation.
		cleanupPostgresDB(db)
		t.Cleanup(func() {
			cleanupPostgresDB(db)
			_ = sqlDB.Close()
		})
		return db
	}

	path := filepath.Join(t.TempDir(), "delayed_jobs.db")
	db, err := gorm.Open(sqlite.Open(path+"?"+sqliteParams), cfg)
	require.NoError(t, err, "open sqlite test db")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// cleanupPostgresDB deletes all rows so tests are isolated without a fresh
// database per test.
func cleanupPostgresDB(db *gorm.DB) {
	db.Exec("DELETE FROM delayed_jobs")
}

// testClock is a settable clock shared by a storage and its test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestStorage creates a migrated storage driven by a fixed clock.
func newTestStorage(t *testing.T) (*GormStorage, *testClock) {
	t.Helper()
	clock := newTestClock()
	s := NewGormStorage(openTestDB(t), WithClock(clock.Now))
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s, clock
}

// newTestJob builds a minimal valid Job for insertion in tests.
func newTestJob(handler string) *core.Job {
	return &core.Job{Handler: `{"type":"` + handler + `"}`}
}

// enqueue inserts a job and fails the test on error.
func enqueue(t *testing.T, s *GormStorage, job *core.Job) *core.Job {
	t.Helper()
	require.NoError(t, s.Enqueue(context.Background(), job))
	return job
}

// forceLock sets the lock columns directly, bypassing the claim predicate.
func forceLock(t *testing.T, s *GormStorage, jobID, worker string, at time.Time) {
	t.Helper()
	err := s.DB().Model(&core.Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"locked_at": at,
		"locked_by": worker,
	}).Error
	require.NoError(t, err)
}

func ids(jobs []*core.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func intPtr(n int) *int { return &n }
