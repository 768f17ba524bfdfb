package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/issue-harvester/internal/progress"
)

// Publisher sends a payload to a topic and returns the broker message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Completion is the notification payload for a finished project.
type Completion struct {
	RunID   string `json:"run_id"`
	Project string `json:"project"`
	Offset  int    `json:"offset"`
	Total   int    `json:"total"`
	Written int    `json:"written"`
	Skipped int    `json:"skipped"`
}

// NotifySink publishes a Completion for every PROJECT_DONE event.
type NotifySink struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// NewNotifySink wires a publisher to the sink interface.
func NewNotifySink(publisher Publisher, topic string, logger *zap.Logger) *NotifySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes completions in batch order. A failed publish does not
// stop the remaining ones; all errors are returned joined.
func (s *NotifySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if evt.Stage != progress.StageProjectDone {
			continue
		}
		payload := Completion{
			RunID:   evt.RunUUID().String(),
			Project: evt.Project,
			Offset:  evt.Offset,
			Total:   evt.Total,
			Written: evt.Written,
			Skipped: evt.Skipped,
		}
		id, err := s.publisher.Publish(ctx, s.topic, payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish completion for %s: %w", evt.Project, err))
			continue
		}
		s.logger.Info("published project completion",
			zap.String("project", evt.Project),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *NotifySink) Close(context.Context) error {
	return nil
}
