package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/issue-harvester/internal/app"
	"github.com/JakeFAU/issue-harvester/internal/config"
	"github.com/JakeFAU/issue-harvester/internal/crawler"
	"github.com/JakeFAU/issue-harvester/internal/export"
	"github.com/JakeFAU/issue-harvester/internal/transform"
)

type fakeApp struct {
	cfg       config.Config
	scrapeErr error
	exportOn  bool

	calls          []string
	scrapeProjects []string
	listenAddr     string
	closed         int
}

func (f *fakeApp) Close()                { f.closed++ }
func (f *fakeApp) Logger() *zap.Logger   { return zap.NewNop() }
func (f *fakeApp) Config() config.Config { return f.cfg }
func (f *fakeApp) ExportEnabled() bool   { return f.exportOn }

func (f *fakeApp) Scrape(_ context.Context, projects []string) ([]crawler.Summary, error) {
	f.calls = append(f.calls, "scrape")
	f.scrapeProjects = projects
	return []crawler.Summary{{Project: "HDFS", Offset: 3, Total: 3, Pages: 2, Written: 3, Duration: time.Second}}, f.scrapeErr
}

func (f *fakeApp) Transform(context.Context, []string) ([]transform.Stats, error) {
	f.calls = append(f.calls, "transform")
	return []transform.Stats{{Project: "HDFS", Written: 3, OutPath: "clean_HDFS.jsonl"}}, nil
}

func (f *fakeApp) Export(context.Context) ([]export.Artifact, error) {
	f.calls = append(f.calls, "export")
	return []export.Artifact{{Local: "checkpoint.json", URI: "file:///tmp/checkpoint.json", Bytes: 2048, SHA256: "b94d27b9934d3e08a52e"}}, nil
}

func (f *fakeApp) Status([]string) []app.CheckpointStatus {
	return []app.CheckpointStatus{{Project: "HDFS", Offset: 50, Completed: 50, RawFile: "raw_HDFS.jsonl", RawExists: true}}
}

func (f *fakeApp) StartServer(_ context.Context, addr string) error {
	f.listenAddr = addr
	return nil
}

func withFakeApp(t *testing.T, fake *fakeApp) {
	t.Helper()
	color.NoColor = true //nolint:reassign // library global
	prev := newApp
	newApp = func(_ context.Context, cfg config.Config) (App, error) {
		fake.cfg = cfg
		return fake, nil
	}
	t.Cleanup(func() { newApp = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := run(context.Background(), root)
	return out.String(), err
}

func TestScrapePassesFlagsAndCloses(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)
	dir := t.TempDir()

	out, err := execute(t, "scrape", "--project", "HDFS", "--project", "SPARK", "--output-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"HDFS", "SPARK"}, fake.scrapeProjects)
	assert.Equal(t, dir, fake.cfg.Output.Dir)
	assert.Contains(t, out, "offset 3/3")
	assert.Empty(t, fake.listenAddr)
	assert.Equal(t, 1, fake.closed)
}

func TestScrapeFailureStillClosesApp(t *testing.T) {
	fake := &fakeApp{scrapeErr: errors.New("fetch HDFS page at offset 0: boom")}
	withFakeApp(t, fake)

	_, err := execute(t, "scrape", "--output-dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, 1, fake.closed)
}

func TestScrapeStartsStatusServer(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	_, err := execute(t, "scrape", "--listen", "127.0.0.1:9091", "--output-dir", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9091", fake.listenAddr)
}

func TestAllRunsEveryStage(t *testing.T) {
	fake := &fakeApp{exportOn: true}
	withFakeApp(t, fake)

	out, err := execute(t, "all", "--output-dir", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"scrape", "transform", "export"}, fake.calls)
	assert.Contains(t, out, "clean_HDFS.jsonl")
	assert.Contains(t, out, "file:///tmp/checkpoint.json (2.0 kB, sha256 b94d27b9934d)")
}

func TestAllSkipsExportWhenDisabled(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	_, err := execute(t, "all", "--output-dir", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"scrape", "transform"}, fake.calls)
}

func TestAllStopsAfterScrapeFailure(t *testing.T) {
	fake := &fakeApp{scrapeErr: errors.New("boom")}
	withFakeApp(t, fake)

	_, err := execute(t, "all", "--output-dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, []string{"scrape"}, fake.calls)
}

func TestStatusJSON(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	out, err := execute(t, "status", "--json", "--output-dir", t.TempDir())
	require.NoError(t, err)
	var got []app.CheckpointStatus
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 50, got[0].Offset)
}

func TestStatusText(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	out, err := execute(t, "status", "--output-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "HDFS")
	assert.Contains(t, out, "raw_HDFS.jsonl")
	assert.Contains(t, strings.ToLower(out), "1 project(s)")
}

func TestUnknownCommandFails(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	_, err := execute(t, "crawl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
	assert.Zero(t, fake.closed)
}

func TestBadConfigFileFails(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	_, err := execute(t, "status", "--config", "does-not-exist.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
