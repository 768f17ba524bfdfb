package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/issue-harvester/internal/progress"
)

// ProjectState is the coarse lifecycle of a project in the current process.
type ProjectState string

// Project states reported by the Tracker.
const (
	StateRunning ProjectState = "running"
	StateDone    ProjectState = "done"
	StateError   ProjectState = "error"
)

// ProjectStatus is the latest known progress of one project.
type ProjectStatus struct {
	RunID           string       `json:"run_id"`
	Project         string       `json:"project"`
	State           ProjectState `json:"state"`
	StartOffset     int          `json:"start_offset"`
	Offset          int          `json:"offset"`
	Total           int          `json:"total"`
	Pages           int          `json:"pages"`
	Written         int          `json:"written"`
	Skipped         int          `json:"skipped"`
	CommentFailures int          `json:"comment_failures"`
	StartedAt       time.Time    `json:"started_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	FinishedAt      *time.Time   `json:"finished_at,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// Tracker keeps an in-memory snapshot per project for the status API.
type Tracker struct {
	mu       sync.RWMutex
	projects map[string]ProjectStatus
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{projects: make(map[string]ProjectStatus)}
}

// Consume folds the batch into the per-project snapshots.
func (t *Tracker) Consume(_ context.Context, batch []progress.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		if evt.Project == "" {
			continue
		}
		t.apply(evt)
	}
	return nil
}

func (t *Tracker) apply(evt progress.Event) {
	st, seen := t.projects[evt.Project]
	runID := evt.RunUUID().String()
	if evt.Stage == progress.StageProjectStart || !seen || st.RunID != runID {
		st = ProjectStatus{
			RunID:       runID,
			Project:     evt.Project,
			State:       StateRunning,
			StartOffset: evt.Offset,
			Offset:      evt.Offset,
			StartedAt:   evt.TS,
		}
	}
	st.UpdatedAt = evt.TS

	switch evt.Stage {
	case progress.StagePageDone:
		st.Pages++
		st.Offset = evt.Offset
		st.Total = evt.Total
		st.Written += evt.Written
		st.Skipped += evt.Skipped
	case progress.StageCommentFailed:
		st.CommentFailures++
	case progress.StageProjectDone, progress.StageProjectError:
		st.Offset = evt.Offset
		st.Total = evt.Total
		st.Written = evt.Written
		st.Skipped = evt.Skipped
		finished := evt.TS
		st.FinishedAt = &finished
		st.State = StateDone
		if evt.Stage == progress.StageProjectError {
			st.State = StateError
			st.Error = evt.Note
		}
	}
	t.projects[evt.Project] = st
}

// Snapshot returns every known project sorted by name.
func (t *Tracker) Snapshot() []ProjectStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ProjectStatus, 0, len(t.projects))
	for _, st := range t.projects {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out
}

// Project returns the snapshot for one project.
func (t *Tracker) Project(name string) (ProjectStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.projects[name]
	return st, ok
}

// Close implements the Sink interface; it performs no action.
func (t *Tracker) Close(context.Context) error {
	return nil
}
