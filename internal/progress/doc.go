// Package progress carries harvest milestones (run and project boundaries,
// completed pages, degraded comment threads) from the crawler to pluggable
// sinks. The Hub batches events on a background goroutine so a slow sink such
// as Postgres or Pub/Sub never stalls pagination.
package progress
