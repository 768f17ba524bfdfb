//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JakeFAU/issue-harvester/internal/store"
)

func setupPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
}

func TestRunStoreAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	s, err := NewRunStore(ctx, RunStoreConfig{DSN: setupPostgres(t), MaxConns: 2})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "second migrate is a no-op")

	runID, err := uuid.NewV7()
	require.NoError(t, err)
	started := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.StartProjectRun(ctx, runID, "HDFS", started, 50))
	require.NoError(t, s.RecordPages(ctx, runID, "HDFS", 100, 48, 2))
	require.NoError(t, s.RecordPages(ctx, runID, "HDFS", 90, 0, 0))
	require.NoError(t, s.FinishProjectRun(ctx, runID, "HDFS", started.Add(time.Minute), store.RunSuccess, nil))

	run, err := s.GetProjectRun(ctx, runID, "HDFS")
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, run.Status)
	assert.Equal(t, 50, run.StartOffset)
	assert.Equal(t, 100, run.EndOffset, "end offset never moves backwards")
	assert.Equal(t, 48, run.Written)
	assert.Equal(t, 2, run.Skipped)
	require.NotNil(t, run.FinishedAt)

	project := "HDFS"
	runs, err := s.ListProjectRuns(ctx, &project, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)

	_, err = s.GetProjectRun(ctx, runID, "SPARK")
	require.ErrorIs(t, err, store.ErrNotFound)
}
