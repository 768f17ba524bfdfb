// Command harvester incrementally harvests issues and comments from a
// Jira-style REST API and normalizes them into clean JSONL.
//
// Architecture overview:
//   - Crawl loop: internal/crawler walks each project page by page from its checkpoint. Every page is appended to
//     raw_<PROJECT>.jsonl with a single synced write before the checkpoint advances, so a crash never loses or
//     duplicates a record. Comment threads are fetched by a bounded worker pool (internal/comments).
//   - Upstream: internal/httpclient retries network errors, 429 and 5xx with jittered exponential backoff and honors
//     numeric Retry-After headers; internal/jira knows the search and comment endpoints.
//   - Transform: internal/transform turns raw records into the clean schema with text extraction, summaries and
//     question/answer seeds.
//   - Progress & fanout: crawl events flow through a non-blocking hub to log, Prometheus, live status, Postgres run
//     history and Pub/Sub completion sinks. Optional backends are only dialed when configured.
//   - Configuration & plumbing: Viper populates config from files and HARVESTER_* env vars; zap provides structured
//     logging; the chi status API serves /healthz, /readyz, /metrics and /v1/progress while scraping.
//
// Quick checklist:
//   - Run locally: go run . all --project HDFS --output-dir output
//   - Resume: rerun the same command; completed keys and the saved offset are skipped.
//   - Export: set storage.gcs_bucket or storage.local_dir and run `harvester export`.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/JakeFAU/issue-harvester/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd.Execute(ctx)
}
