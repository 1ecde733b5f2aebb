package cli

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/delayed-jobs/pkg/maintenance"
	"github.com/jdziat/delayed-jobs/pkg/schedule"
	"github.com/jdziat/delayed-jobs/pkg/security"
	"github.com/jdziat/delayed-jobs/pkg/worker"
)

type workFlags struct {
	name        string
	minPriority int
	maxPriority int
	quiet       bool
	workers     int
	sweep       bool
	clearLocks  bool
}

func workCmd(setup Setup) *cobra.Command {
	var f workFlags
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run workers until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWork(cmd, setup, &f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.name, "name", "", "worker name (default DELAYED_WORKER_NAME or host:<host> pid:<pid>)")
	flags.IntVar(&f.minPriority, "min-priority", 0, "only run jobs with at least this priority")
	flags.IntVar(&f.maxPriority, "max-priority", 0, "only run jobs with at most this priority")
	flags.BoolVarP(&f.quiet, "quiet", "q", false, "suppress status lines")
	flags.IntVarP(&f.workers, "workers", "n", 1, "number of workers in this process")
	flags.BoolVar(&f.sweep, "sweep", true, "run the maintenance sweeper alongside the workers")
	flags.BoolVar(&f.clearLocks, "clear-locks", false, "release this worker's stale locks on start")
	return cmd
}

func runWork(cmd *cobra.Command, setup Setup, f *workFlags) error {
	if f.workers < 1 {
		return errors.New("--workers must be at least 1")
	}
	workers := security.ClampWorkers(f.workers)

	a, err := open(cmd, setup)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var sweeper *maintenance.Sweeper
	if f.sweep {
		sched, err := schedule.Cron(a.cfg.SweepSchedule)
		if err != nil {
			return err
		}
		sweeper = maintenance.NewSweeper(a.queue,
			maintenance.WithSchedule(sched),
			maintenance.WithRetention(a.cfg.FailedRetention),
			maintenance.WithLogger(a.logger),
		)
	}

	base := workerOptions(cmd, a, f)
	name := baseName(a, f)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		wname := name
		if workers > 1 {
			wname = fmt.Sprintf("%s #%d", name, i+1)
		}
		w := worker.NewWorker(a.queue, append(base, worker.WithName(wname))...)
		g.Go(func() error { return w.Start(gctx) })
	}

	if sweeper != nil {
		g.Go(func() error { return sweeper.Start(gctx) })
	}

	return g.Wait()
}

func baseName(a *app, f *workFlags) string {
	switch {
	case f.name != "":
		return f.name
	case a.cfg.WorkerName != "":
		return a.cfg.WorkerName
	default:
		return worker.DefaultName()
	}
}

// workerOptions layers flags over the environment.
func workerOptions(cmd *cobra.Command, a *app, f *workFlags) []worker.WorkerOption {
	opts := []worker.WorkerOption{
		worker.MaxRunTime(a.cfg.MaxRunTime),
		worker.SleepDelay(a.cfg.SleepDelay),
		worker.ReadAhead(a.cfg.ReadAhead),
		worker.Quiet(f.quiet),
		worker.ClearLocksOnStart(f.clearLocks),
		worker.Output(cmd.OutOrStdout()),
		worker.WithLogger(a.logger),
	}

	switch {
	case cmd.Flags().Changed("min-priority"):
		opts = append(opts, worker.MinPriority(f.minPriority))
	case a.cfg.MinPriority != nil:
		opts = append(opts, worker.MinPriority(*a.cfg.MinPriority))
	}
	switch {
	case cmd.Flags().Changed("max-priority"):
		opts = append(opts, worker.MaxPriority(f.maxPriority))
	case a.cfg.MaxPriority != nil:
		opts = append(opts, worker.MaxPriority(*a.cfg.MaxPriority))
	}
	return opts
}
