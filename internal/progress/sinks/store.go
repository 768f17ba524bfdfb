package sinks

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/issue-harvester/internal/progress"
	"github.com/JakeFAU/issue-harvester/internal/store"
)

// StoreSink persists project runs via a store.RunRepository. Page deltas of a
// batch are collapsed per project to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards lifecycle events in order and flushes collapsed page
// deltas for a project before that project's next lifecycle event. It
// respects ctx deadlines and returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[runKey]*pageDelta)

	for _, evt := range batch {
		key := runKey{runID: evt.RunUUID(), project: evt.Project}
		switch evt.Stage {
		case progress.StagePageDone:
			delta := pending[key]
			if delta == nil {
				delta = &pageDelta{}
				pending[key] = delta
			}
			delta.add(evt)
		case progress.StageProjectStart, progress.StageProjectDone, progress.StageProjectError:
			if delta, ok := pending[key]; ok {
				delete(pending, key)
				if err := s.flush(ctx, key, delta); err != nil {
					return err
				}
			}
			if err := s.handleProjectEvent(ctx, key, evt); err != nil {
				return err
			}
		}
	}

	keys := make([]runKey, 0, len(pending))
	for key := range pending {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].project < keys[j].project })
	for _, key := range keys {
		if err := s.flush(ctx, key, pending[key]); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) handleProjectEvent(ctx context.Context, key runKey, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageProjectStart:
		if err := s.repo.StartProjectRun(ctx, key.runID, key.project, evt.TS, evt.Offset); err != nil {
			return fmt.Errorf("start project run: %w", err)
		}
		return nil
	case progress.StageProjectDone:
		return s.finish(ctx, key, evt, store.RunSuccess, nil)
	default:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		return s.finish(ctx, key, evt, store.RunError, note)
	}
}

// finish closes the row. A project that failed before its start event was
// recorded gets a row created on the spot.
func (s *StoreSink) finish(
	ctx context.Context,
	key runKey,
	evt progress.Event,
	status store.RunStatus,
	note *string,
) error {
	err := s.repo.FinishProjectRun(ctx, key.runID, key.project, evt.TS, status, note)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("finishing unrecorded project run", zap.String("project", key.project))
		if err := s.repo.StartProjectRun(ctx, key.runID, key.project, evt.TS, evt.Offset); err != nil {
			return fmt.Errorf("start project run: %w", err)
		}
		err = s.repo.FinishProjectRun(ctx, key.runID, key.project, evt.TS, status, note)
	}
	if err != nil {
		return fmt.Errorf("finish project run: %w", err)
	}
	return nil
}

func (s *StoreSink) flush(ctx context.Context, key runKey, delta *pageDelta) error {
	if err := s.repo.RecordPages(ctx, key.runID, key.project, delta.offset, delta.written, delta.skipped); err != nil {
		return fmt.Errorf("record pages: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type runKey struct {
	runID   uuid.UUID
	project string
}

type pageDelta struct {
	offset  int
	written int
	skipped int
}

func (d *pageDelta) add(evt progress.Event) {
	d.written += evt.Written
	d.skipped += evt.Skipped
	if evt.Offset > d.offset {
		d.offset = evt.Offset
	}
}
