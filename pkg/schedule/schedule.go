package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule reports the next fire time after from.
type Schedule interface {
	Next(from time.Time) time.Time
}

type everySchedule struct {
	interval time.Duration
}

// Every fires at a fixed interval. Non-positive intervals fire every minute.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		d = time.Minute
	}
	return &everySchedule{interval: d}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

type cronSchedule struct {
	expr     string
	schedule cron.Schedule
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Cron parses a five-field cron expression or a descriptor such as
// "@hourly" or "@every 15m".
func Cron(expr string) (Schedule, error) {
	s, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("delayed: invalid schedule %q: %w", expr, err)
	}
	return &cronSchedule{expr: expr, schedule: s}, nil
}

// MustCron is Cron for expressions known at compile time.
func MustCron(expr string) Schedule {
	s, err := Cron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

func (s *cronSchedule) String() string { return s.expr }

// Run calls fn at every fire time of s until ctx is done. A failing fn does
// not stop the loop; its error goes to onErr when set.
func Run(ctx context.Context, s Schedule, now func() time.Time, fn func(context.Context) error, onErr func(error)) {
	for {
		current := now()
		next := s.Next(current)
		if next.IsZero() {
			return
		}
		timer := time.NewTimer(next.Sub(current))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := fn(ctx); err != nil && onErr != nil {
			onErr(err)
		}
	}
}
