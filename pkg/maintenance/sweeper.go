package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/delayed-jobs/pkg/core"
	"github.com/jdziat/delayed-jobs/pkg/queue"
	"github.com/jdziat/delayed-jobs/pkg/schedule"
)

// Counters tallies settlement events seen since the previous sweep.
type Counters struct {
	Completed int64
	Failed    int64
	Retried   int64
}

// Report is what one sweep observed.
type Report struct {
	Purged   int64
	Stats    core.Stats
	Counters Counters
}

// Sweeper periodically purges retained failed jobs and logs queue depth.
type Sweeper struct {
	queue     *queue.Queue
	schedule  schedule.Schedule
	retention time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	counters Counters

	ready     chan struct{}
	readyOnce sync.Once
}

// Option configures a Sweeper.
type Option interface {
	apply(*Sweeper)
}

type optionFunc func(*Sweeper)

func (f optionFunc) apply(s *Sweeper) { f(s) }

// WithSchedule sets when sweeps run. Defaults to hourly.
func WithSchedule(s schedule.Schedule) Option {
	return optionFunc(func(sw *Sweeper) {
		if s != nil {
			sw.schedule = s
		}
	})
}

// WithRetention purges failed jobs older than d. Zero keeps them forever.
func WithRetention(d time.Duration) Option {
	return optionFunc(func(sw *Sweeper) {
		if d >= 0 {
			sw.retention = d
		}
	})
}

// WithLogger sets the sweeper's logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(sw *Sweeper) {
		if l != nil {
			sw.logger = l
		}
	})
}

// NewSweeper creates a sweeper for q.
func NewSweeper(q *queue.Queue, opts ...Option) *Sweeper {
	sw := &Sweeper{
		queue:    q,
		schedule: schedule.Every(time.Hour),
		logger:   q.Logger(),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt.apply(sw)
	}
	return sw
}

// WaitReady blocks until Start has subscribed to queue events.
func (sw *Sweeper) WaitReady() {
	<-sw.ready
}

// Start listens for events and sweeps on schedule until ctx is cancelled.
func (sw *Sweeper) Start(ctx context.Context) error {
	events := sw.queue.Events()
	defer sw.queue.Unsubscribe(events)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		schedule.Run(ctx, sw.schedule, sw.queue.Now, func(ctx context.Context) error {
			_, err := sw.Sweep(ctx)
			return err
		}, func(err error) {
			sw.logger.Error("sweep failed", "error", err)
		})
	}()

	sw.readyOnce.Do(func() { close(sw.ready) })

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case e := <-events:
			sw.observe(e)
		}
	}
}

func (sw *Sweeper) observe(e core.Event) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	switch e.(type) {
	case *core.JobCompleted:
		sw.counters.Completed++
	case *core.JobFailed:
		sw.counters.Failed++
	case *core.JobRetrying:
		sw.counters.Retried++
	}
}

// Sweep runs one maintenance pass.
func (sw *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var rep Report

	sw.mu.Lock()
	rep.Counters = sw.counters
	sw.counters = Counters{}
	sw.mu.Unlock()

	if sw.retention > 0 {
		cutoff := sw.queue.Now().Add(-sw.retention)
		n, err := sw.queue.Storage().PurgeFailed(ctx, cutoff)
		if err != nil {
			return rep, err
		}
		rep.Purged = n
	}

	st, err := sw.queue.Stats(ctx)
	if err != nil {
		return rep, err
	}
	rep.Stats = st

	sw.logger.Info("queue sweep",
		"total", st.Total,
		"pending", st.Pending,
		"locked", st.Locked,
		"failed", st.Failed,
		"purged", rep.Purged,
		"completed", rep.Counters.Completed,
		"retried", rep.Counters.Retried,
		"permanently_failed", rep.Counters.Failed,
	)
	return rep, nil
}

var _ core.Starter = (*Sweeper)(nil)
