// Package cli builds the delayed-jobs command tree.
//
// Applications embed it to get a worker binary that knows their job types:
//
//	func main() {
//		cli.Main("mailer", func(q *queue.Queue) error {
//			return q.Register("mailer.Welcome", &Welcome{})
//		})
//	}
//
// Subcommands:
//
//	work         run workers (and the maintenance sweeper) until interrupted
//	clear        delete every job
//	peek         list the next jobs due to run
//	clear-locks  release locks held under a worker name
//	stats        count jobs by state
//	migrate      create or update the jobs table
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jdziat/delayed-jobs/pkg/queue"
)

// Setup registers an application's job types, entities and resolver on the
// queue before any command runs.
type Setup func(q *queue.Queue) error

// NewRootCommand returns the command tree for a binary called use.
func NewRootCommand(use string, setup Setup) *cobra.Command {
	root := &cobra.Command{
		Use:   use,
		Short: "Persistent delayed job queue",
		// Errors are logged by Main.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		workCmd(setup),
		clearCmd(setup),
		peekCmd(setup),
		clearLocksCmd(setup),
		statsCmd(setup),
		migrateCmd(setup),
	)
	return root
}

// Main runs the command tree and exits non-zero on failure.
func Main(use string, setup Setup) {
	if err := NewRootCommand(use, setup).Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
