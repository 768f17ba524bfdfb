// Package progress defines the event structures emitted while a harvest runs.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageProjectStart  Stage = "PROJECT_START"
	StagePageDone      Stage = "PAGE_DONE"
	StageCommentFailed Stage = "COMMENT_FAILED"
	StageProjectDone   Stage = "PROJECT_DONE"
	StageProjectError  Stage = "PROJECT_ERROR"
)

// Event captures a single milestone of a harvest run.
type Event struct {
	// RunID identifies the harvest run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Project scopes every stage except the run-level ones.
	Project string
	// Key is the issue key of a failed comment fetch.
	Key string
	// Offset is the checkpoint offset after the stage completed.
	Offset int
	// Total is the upstream issue count reported by the last page.
	Total int
	// Written and Skipped are per-page deltas for PAGE_DONE and running
	// totals for PROJECT_DONE.
	Written int
	Skipped int
	Dur     time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageProjectStart, StagePageDone, StageProjectDone, StageProjectError:
		if e.Project == "" {
			return fmt.Errorf("%s requires project", e.Stage)
		}
	case StageCommentFailed:
		if e.Project == "" || e.Key == "" {
			return errors.New("comment failure requires project and key")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Offset < 0 || e.Total < 0 || e.Written < 0 || e.Skipped < 0 {
		return errors.New("counters must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
