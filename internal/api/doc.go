// Package api hosts the status HTTP server for a running harvest. Notable routes:
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress and /v1/progress/{project} for live per-project
//     snapshots from the in-memory tracker.
//   - GET /v1/runs and /v1/runs/{run_id}/projects/{project} for run history
//     via the store.RunRepository interface.
package api
