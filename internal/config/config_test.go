package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source.BaseURL != "https://issues.apache.org/jira" {
		t.Fatalf("unexpected base url %q", cfg.Source.BaseURL)
	}
	if got := strings.Join(cfg.Source.Projects, ","); got != "HDFS,SPARK,HADOOP" {
		t.Fatalf("unexpected default projects %q", got)
	}
	if cfg.HTTP.MaxRetries != 6 || cfg.Crawler.CommentWorkers != 6 || cfg.Crawler.PageSize != 50 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.BackoffBase() != time.Second || cfg.BackoffMax() != time.Minute {
		t.Fatalf("unexpected backoff defaults %v/%v", cfg.BackoffBase(), cfg.BackoffMax())
	}
	if cfg.PageDelay() != 500*time.Millisecond || cfg.CommentCooldown() != 500*time.Millisecond {
		t.Fatalf("unexpected delay defaults %v/%v", cfg.PageDelay(), cfg.CommentCooldown())
	}
	if cfg.CheckpointPath() != filepath.Join("output", "checkpoint.json") {
		t.Fatalf("unexpected checkpoint path %q", cfg.CheckpointPath())
	}
	if cfg.Tracing.Endpoint != "" || cfg.Tracing.SampleRatio != 1 {
		t.Fatalf("unexpected tracing defaults %+v", cfg.Tracing)
	}
	if cfg.KafkaConnectTimeout() != time.Minute || len(cfg.Kafka.Brokers) != 0 {
		t.Fatalf("unexpected kafka defaults %+v", cfg.Kafka)
	}
	if cfg.RawDir() != filepath.Join("output", "raw") || cfg.CleanDir() != filepath.Join("output", "clean") {
		t.Fatalf("unexpected output dirs %q %q", cfg.RawDir(), cfg.CleanDir())
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
source:
  base_url: https://tracker.example.com/jira/
  user_agent: test-agent/0.1
  projects: ["KAFKA"]
http:
  timeout_seconds: 45
  max_retries: 2
  backoff_base_ms: 100
  backoff_max_ms: 500
  requests_per_second: 2.5
crawler:
  page_size: 20
  comment_workers: 3
  page_delay_ms: 0
output:
  dir: /tmp/harvest
server:
  listen: ":9090"
storage:
  gcs_bucket: bucket
pubsub:
  project_id: proj
  topic_name: harvest-events
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source.BaseURL != "https://tracker.example.com/jira" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Source.BaseURL)
	}
	if len(cfg.Source.Projects) != 1 || cfg.Source.Projects[0] != "KAFKA" {
		t.Fatalf("expected project override, got %v", cfg.Source.Projects)
	}
	if cfg.RequestTimeout() != 45*time.Second || cfg.HTTP.MaxRetries != 2 || cfg.HTTP.RequestsPerSecond != 2.5 {
		t.Fatalf("expected http overrides to apply: %+v", cfg.HTTP)
	}
	if cfg.Crawler.PageSize != 20 || cfg.Crawler.CommentWorkers != 3 || cfg.PageDelay() != 0 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Server.Listen != ":9090" || cfg.Storage.GCSBucket != "bucket" || cfg.PubSub.TopicName != "harvest-events" {
		t.Fatalf("expected optional integrations to load: %+v", cfg)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
	// Unset keys keep their defaults.
	if cfg.DB.Table != "harvest_runs" {
		t.Fatalf("expected default table, got %q", cfg.DB.Table)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Source:  SourceConfig{BaseURL: "https://example.com"},
		HTTP:    HTTPConfig{TimeoutSeconds: 10, MaxRetries: 6, BackoffBaseMs: 1000, BackoffMaxMs: 60000},
		Crawler: CrawlerConfig{PageSize: 50, CommentWorkers: 6},
		Output:  OutputConfig{Dir: "output"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "missing base url", mutate: func(c *Config) { c.Source.BaseURL = "" }, want: "source.base_url"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "negative retries", mutate: func(c *Config) { c.HTTP.MaxRetries = -1 }, want: "http.max_retries"},
		{name: "cap below base", mutate: func(c *Config) { c.HTTP.BackoffMaxMs = 10 }, want: "http.backoff_base_ms"},
		{name: "negative rps", mutate: func(c *Config) { c.HTTP.RequestsPerSecond = -1 }, want: "http.requests_per_second"},
		{name: "page size", mutate: func(c *Config) { c.Crawler.PageSize = 0 }, want: "crawler.page_size"},
		{name: "workers", mutate: func(c *Config) { c.Crawler.CommentWorkers = 0 }, want: "crawler.comment_workers"},
		{name: "delays", mutate: func(c *Config) { c.Crawler.PageDelayMs = -5 }, want: "crawler delays"},
		{name: "output dir", mutate: func(c *Config) { c.Output.Dir = " " }, want: "output.dir"},
		{name: "sample ratio", mutate: func(c *Config) { c.Tracing.SampleRatio = 1.5 }, want: "tracing.sample_ratio"},
		{name: "pubsub project", mutate: func(c *Config) { c.PubSub.TopicName = "t" }, want: "pubsub.project_id"},
		{name: "kafka topic", mutate: func(c *Config) { c.Kafka.Brokers = []string{"localhost:9092"} }, want: "kafka.topic"},
		{name: "kafka and pubsub", mutate: func(c *Config) {
			c.Kafka.Brokers = []string{"localhost:9092"}
			c.Kafka.Topic = "t"
			c.PubSub.ProjectID = "p"
			c.PubSub.TopicName = "t"
		}, want: "not both"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
