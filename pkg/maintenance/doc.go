// Package maintenance keeps a long-running queue tidy.
//
// A Sweeper counts settlement events and, on a schedule, deletes
// terminal-failed jobs older than the retention window and logs a
// snapshot of the queue.
package maintenance
