package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the harvest_runs status column.
type RunStatus string

// Run statuses persisted in harvest_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// ProjectRun is one row of harvest_runs: a single project inside a run.
type ProjectRun struct {
	// RunID groups every project harvested by one process invocation.
	RunID uuid.UUID
	// Project is the upstream project key (e.g. HDFS).
	Project string
	// StartedAt captures when the project crawl began.
	StartedAt time.Time
	// FinishedAt is nil until the project is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status RunStatus
	// StartOffset is the checkpoint offset the crawl resumed from.
	StartOffset int
	// EndOffset is the last saved checkpoint offset.
	EndOffset int
	// Written and Skipped accumulate per-page counts.
	Written int
	Skipped int
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// RunRepository persists per-project harvest history.
type RunRepository interface {
	// StartProjectRun inserts (or idempotently resets) the running row.
	StartProjectRun(ctx context.Context, runID uuid.UUID, project string, startedAt time.Time, startOffset int) error
	// RecordPages applies written/skipped deltas and moves end_offset forward.
	RecordPages(ctx context.Context, runID uuid.UUID, project string, endOffset, deltaWritten, deltaSkipped int) error
	// FinishProjectRun marks the row finished with the provided status and error.
	FinishProjectRun(
		ctx context.Context,
		runID uuid.UUID,
		project string,
		finishedAt time.Time,
		status RunStatus,
		errMsg *string,
	) error

	// GetProjectRun loads a single row or returns ErrNotFound.
	GetProjectRun(ctx context.Context, runID uuid.UUID, project string) (ProjectRun, error)
	// ListProjectRuns returns rows filtered by optional project plus limit/offset.
	ListProjectRuns(ctx context.Context, project *string, limit, offset int) ([]ProjectRun, error)
}
