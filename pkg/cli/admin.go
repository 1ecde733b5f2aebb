package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func clearCmd(setup Setup) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every job in the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd, setup)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			n, err := a.queue.Clear(cmd.Context())
			if err != nil {
				return fmt.Errorf("clear: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d jobs\n", n)
			return nil
		},
	}
}

func peekCmd(setup Setup) *cobra.Command {
	return &cobra.Command{
		Use:   "peek [n]",
		Short: "List the next jobs due to run without locking them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 10
			if len(args) == 1 {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < 1 {
					return fmt.Errorf("peek: %q is not a positive count", args[0])
				}
				n = v
			}

			a, err := open(cmd, setup)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			jobs, err := a.queue.Peek(cmd.Context(), n)
			if err != nil {
				return fmt.Errorf("peek: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPRIORITY\tATTEMPTS\tRUN AT\tLOCKED BY\tJOB")
			for _, job := range jobs {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n",
					job.ID, job.Priority, job.Attempts,
					job.RunAt.Format(time.RFC3339), job.LockedByName(), a.queue.Name(job))
			}
			return tw.Flush()
		},
	}
}

func clearLocksCmd(setup Setup) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-locks NAME",
		Short: "Release every lock held under a worker name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd, setup)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			n, err := a.queue.ClearLocks(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("clear-locks: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Released %d locks held by %s\n", n, args[0])
			return nil
		},
	}
}

func statsCmd(setup Setup) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count jobs by state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd, setup)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			st, err := a.queue.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "total:   %d\n", st.Total)
			fmt.Fprintf(out, "pending: %d\n", st.Pending)
			fmt.Fprintf(out, "locked:  %d\n", st.Locked)
			fmt.Fprintf(out, "failed:  %d\n", st.Failed)
			return nil
		},
	}
}

func migrateCmd(setup Setup) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the jobs table and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd, setup)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			a.logger.Info("running migrations")
			if err := a.queue.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.logger.Info("migrations complete")
			return nil
		},
	}
}
