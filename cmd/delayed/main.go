// Command delayed administers a delayed-jobs queue.
//
// It registers no application job types, so jobs it works off fail to load
// and are retried. Use it for administration; applications build their own
// worker binary with cli.Main and a Setup that registers their types.
//
// Subcommands:
//
//	work         run workers until SIGINT/SIGTERM
//	clear        delete every job
//	peek         list the next jobs due to run
//	clear-locks  release locks held under a worker name
//	stats        count jobs by state
//	migrate      create or update the jobs table and exit
package main

import "github.com/jdziat/delayed-jobs/pkg/cli"

func main() {
	cli.Main("delayed", nil)
}
