package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/issue-harvester/internal/progress"
	"github.com/JakeFAU/issue-harvester/internal/publisher/memory"
)

func TestNotifySinkPublishesCompletions(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewNotifySink(pub, "harvest-complete", nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageProjectStart, Project: "HDFS"},
		{RunID: runID, TS: now, Stage: progress.StagePageDone, Project: "HDFS", Offset: 3, Total: 3, Written: 3},
		{RunID: runID, TS: now, Stage: progress.StageProjectDone, Project: "HDFS", Offset: 3, Total: 3, Written: 3},
		{RunID: runID, TS: now, Stage: progress.StageProjectError, Project: "SPARK"},
	}))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "harvest-complete", msgs[0].Topic)
	assert.Equal(t, Completion{
		RunID:   runUUID.String(),
		Project: "HDFS",
		Offset:  3,
		Total:   3,
		Written: 3,
	}, msgs[0].Payload)
}

type failingPublisher struct {
	calls int
}

func (f *failingPublisher) Publish(context.Context, string, any) (string, error) {
	f.calls++
	return "", errors.New("topic not found")
}

func TestNotifySinkJoinsErrors(t *testing.T) {
	t.Parallel()

	pub := &failingPublisher{}
	sink := NewNotifySink(pub, "t", nil)
	runID := progress.UUIDToBytes(uuid.New())

	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageProjectDone, Project: "HDFS"},
		{RunID: runID, Stage: progress.StageProjectDone, Project: "SPARK"},
	})
	require.Error(t, err)
	assert.Equal(t, 2, pub.calls)
	assert.Contains(t, err.Error(), "HDFS")
	assert.Contains(t, err.Error(), "SPARK")
}
