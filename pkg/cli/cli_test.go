package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/jdziat/delayed-jobs/pkg/config"
	"github.com/jdziat/delayed-jobs/pkg/core"
	"github.com/jdziat/delayed-jobs/pkg/queue"
	"github.com/jdziat/delayed-jobs/pkg/storage"
)

var (
	deliveredMu sync.Mutex
	delivered   []string
)

type deliver struct {
	To string `json:"to"`
}

func (d *deliver) Perform(ctx context.Context) error {
	deliveredMu.Lock()
	delivered = append(delivered, d.To)
	deliveredMu.Unlock()
	return nil
}

func deliveredTo() []string {
	deliveredMu.Lock()
	defer deliveredMu.Unlock()
	return append([]string(nil), delivered...)
}

func setup(q *queue.Queue) error {
	return q.Register("cli.Deliver", &deliver{})
}

// useDatabase points the command tree at a fresh SQLite file.
func useDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.db")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", path)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DELAYED_SLEEP_DELAY", "10ms")
	return path
}

func run(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand("delayed", setup)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

// testQueue opens a second handle on the same database to enqueue and inspect.
func testQueue(t *testing.T, path string) (*queue.Queue, *storage.GormStorage) {
	t.Helper()
	db, err := storage.Open(storage.DriverSQLite, path, core.UTCClock, logger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := storage.NewGormStorage(db)
	q := queue.New(s)
	require.NoError(t, setup(q))
	return q, s
}

func TestMigrateThenStats(t *testing.T) {
	path := useDatabase(t)
	ctx := context.Background()

	_, err := run(t, ctx, "migrate")
	require.NoError(t, err)

	q, _ := testQueue(t, path)
	_, err = q.Enqueue(ctx, &deliver{To: "a@example.com"})
	require.NoError(t, err)

	out, err := run(t, ctx, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "total:   1")
	assert.Contains(t, out, "pending: 1")
	assert.Contains(t, out, "failed:  0")
}

func TestPeek(t *testing.T) {
	path := useDatabase(t)
	ctx := context.Background()
	_, err := run(t, ctx, "migrate")
	require.NoError(t, err)

	q, _ := testQueue(t, path)
	job, err := q.Enqueue(ctx, &deliver{To: "b@example.com"}, queue.Priority(3))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, &deliver{To: "later@example.com"}, queue.Delay(time.Hour))
	require.NoError(t, err)

	out, err := run(t, ctx, "peek", "5")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2, out)
	assert.Contains(t, lines[0], "PRIORITY")
	assert.Contains(t, lines[1], job.ID)
	assert.Contains(t, lines[1], "cli.Deliver")

	_, err = run(t, ctx, "peek", "zero")
	assert.Error(t, err)
}

func TestClearAndClearLocks(t *testing.T) {
	path := useDatabase(t)
	ctx := context.Background()
	_, err := run(t, ctx, "migrate")
	require.NoError(t, err)

	q, s := testQueue(t, path)
	job, err := q.Enqueue(ctx, &deliver{To: "c@example.com"})
	require.NoError(t, err)
	require.NoError(t, s.Lock(ctx, job, core.MaxRunTime, "box-9"))

	out, err := run(t, ctx, "clear-locks", "box-9")
	require.NoError(t, err)
	assert.Contains(t, out, "Released 1 locks held by box-9")

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LockedBy)

	out, err = run(t, ctx, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 jobs")

	_, err = run(t, ctx, "clear-locks")
	assert.Error(t, err, "name is required")
}

func TestWork_ProcessesUntilCancelled(t *testing.T) {
	path := useDatabase(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := run(t, ctx, "migrate")
	require.NoError(t, err)

	q, s := testQueue(t, path)
	var ids []string
	for _, to := range []string{"w1@example.com", "w2@example.com", "w3@example.com"} {
		job, err := q.Enqueue(ctx, &deliver{To: to})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	done := make(chan error, 1)
	go func() {
		_, err := run(t, ctx, "work", "--workers", "2", "--name", "cli-test", "--quiet")
		done <- err
	}()

	require.Eventually(t, func() bool {
		st, err := s.Stats(context.Background(), core.MaxRunTime)
		return err == nil && st.Total == 0
	}, 10*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("work did not stop")
	}
	assert.Subset(t, deliveredTo(), []string{"w1@example.com", "w2@example.com", "w3@example.com"})
}

func TestWork_RejectsBadFlags(t *testing.T) {
	useDatabase(t)
	_, err := run(t, context.Background(), "work", "--workers", "0")
	assert.Error(t, err)

	t.Setenv("DELAYED_SWEEP_SCHEDULE", "not a schedule")
	_, err = run(t, context.Background(), "work")
	assert.Error(t, err)
}

func TestOpen_ConfigErrorAndSetupError(t *testing.T) {
	useDatabase(t)
	t.Setenv("DATABASE_DRIVER", "oracle")
	_, err := run(t, context.Background(), "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config")

	useDatabase(t)
	root := NewRootCommand("delayed", func(*queue.Queue) error { return errors.New("no types") })
	root.SetArgs([]string{"migrate"})
	root.SetErr(&bytes.Buffer{})
	err = root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup: no types")
}

func TestWorkerOptions_FlagsOverrideEnvironment(t *testing.T) {
	useDatabase(t)
	t.Setenv("DELAYED_MIN_PRIORITY", "1")
	t.Setenv("DELAYED_MAX_PRIORITY", "9")
	t.Setenv("DELAYED_WORKER_NAME", "from-env")

	cmd := workCmd(setup)
	require.NoError(t, cmd.ParseFlags([]string{"--max-priority", "4"}))
	a, err := open(cmd, setup)
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck

	var f workFlags
	f.maxPriority = 4
	assert.Equal(t, "from-env", baseName(a, &f))
	f.name = "from-flag"
	assert.Equal(t, "from-flag", baseName(a, &f))

	assert.Len(t, workerOptions(cmd, a, &f), 9)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&config.Config{LogLevel: "warn", LogFormat: "json"}, &buf)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	log = newLogger(&config.Config{LogLevel: "debug", AppEnv: "development"}, &buf)
	log.Debug("text")
	assert.Contains(t, buf.String(), "msg=text")
}
