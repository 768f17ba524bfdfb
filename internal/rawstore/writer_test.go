package rawstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issue(key string) json.RawMessage {
	return json.RawMessage(`{"key":"` + key + `","fields":{"summary":"s <b>"}}`)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestAppendBatchCreatesDirAndWritesLines(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "raw")
	w := New(dir)
	assert.Equal(t, filepath.Join(dir, "raw_HDFS.jsonl"), w.Path("HDFS"))

	err := w.AppendBatch(context.Background(), "HDFS", []Record{
		{Issue: issue("HDFS-1"), Comments: []json.RawMessage{json.RawMessage(`{"id":"1"}`)}},
		{Issue: issue("HDFS-2")},
	})
	require.NoError(t, err)

	lines := readLines(t, w.Path("HDFS"))
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"issue":{"key":"HDFS-1","fields":{"summary":"s <b>"}},"comments":[{"id":"1"}]}`, lines[0])
	assert.JSONEq(t, `{"issue":{"key":"HDFS-2","fields":{"summary":"s <b>"}},"comments":[]}`, lines[1])
	assert.Contains(t, lines[0], "<b>", "HTML must not be escaped")
}

func TestAppendAccumulates(t *testing.T) {
	t.Parallel()

	w := New(t.TempDir())
	ctx := context.Background()
	require.NoError(t, w.Append(ctx, "HDFS", Record{Issue: issue("HDFS-1")}))
	require.NoError(t, w.Append(ctx, "HDFS", Record{Issue: issue("HDFS-2")}))
	require.NoError(t, w.AppendBatch(ctx, "HDFS", nil))

	keys, err := w.Keys("HDFS")
	require.NoError(t, err)
	assert.Equal(t, []string{"HDFS-1", "HDFS-2"}, keys)
}

func TestAppendBatchRejectsEmptyIssueWithoutWriting(t *testing.T) {
	t.Parallel()

	w := New(t.TempDir())
	ctx := context.Background()
	require.NoError(t, w.Append(ctx, "HDFS", Record{Issue: issue("HDFS-1")}))

	err := w.AppendBatch(ctx, "HDFS", []Record{{Issue: issue("HDFS-2")}, {}})
	require.Error(t, err)

	lines := readLines(t, w.Path("HDFS"))
	assert.Len(t, lines, 1)
}

func TestAppendBatchHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	w := New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.Append(ctx, "HDFS", Record{Issue: issue("HDFS-1")})
	require.True(t, errors.Is(err, context.Canceled))
	_, statErr := os.Stat(w.Path("HDFS"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAppendAfterTornTail(t *testing.T) {
	t.Parallel()

	w := New(t.TempDir())
	torn := `{"issue":{"key":"HDFS-1"},"comments":[]}` + "\n" + `{"issue":{"key":"HDF`
	require.NoError(t, os.WriteFile(w.Path("HDFS"), []byte(torn), 0o600))

	require.NoError(t, w.Append(context.Background(), "HDFS", Record{Issue: issue("HDFS-2")}))

	var keys []string
	stats, err := Scan(w.Path("HDFS"), func(rec Record) error {
		var head struct{ Key string }
		require.NoError(t, json.Unmarshal(rec.Issue, &head))
		keys = append(keys, head.Key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"HDFS-1", "HDFS-2"}, keys)
	assert.Equal(t, 3, stats.Lines)
	assert.Equal(t, 1, stats.Malformed)
}

func TestScanMissingFile(t *testing.T) {
	t.Parallel()

	stats, err := Scan(filepath.Join(t.TempDir(), "raw_NONE.jsonl"), func(Record) error {
		t.Fatal("callback must not run")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, stats.Lines)
}

func TestScanStopsOnCallbackError(t *testing.T) {
	t.Parallel()

	w := New(t.TempDir())
	require.NoError(t, w.AppendBatch(context.Background(), "HDFS", []Record{
		{Issue: issue("HDFS-1")}, {Issue: issue("HDFS-2")},
	}))

	stop := errors.New("stop")
	calls := 0
	_, err := Scan(w.Path("HDFS"), func(Record) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestKeysSkipsDuplicatesAndKeyless(t *testing.T) {
	t.Parallel()

	w := New(t.TempDir())
	require.NoError(t, w.AppendBatch(context.Background(), "HDFS", []Record{
		{Issue: issue("HDFS-1")},
		{Issue: json.RawMessage(`{"id":"10"}`)},
		{Issue: issue("HDFS-1")},
		{Issue: issue("HDFS-3")},
	}))

	keys, err := w.Keys("HDFS")
	require.NoError(t, err)
	assert.Equal(t, []string{"HDFS-1", "HDFS-3"}, keys)

	none, err := w.Keys("SPARK")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestProjects(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"raw_SPARK.jsonl", "raw_HDFS.jsonl", "notes.txt", "raw_.jsonl"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	projects, err := Projects(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"HDFS", "SPARK"}, projects)

	empty, err := Projects(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}
