// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Source  SourceConfig  `mapstructure:"source"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Output  OutputConfig  `mapstructure:"output"`
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// SourceConfig describes the upstream issue tracker.
type SourceConfig struct {
	BaseURL   string   `mapstructure:"base_url"`
	UserAgent string   `mapstructure:"user_agent"`
	Projects  []string `mapstructure:"projects"`
	Fields    []string `mapstructure:"fields"`
}

// HTTPConfig configures the retrying HTTP client.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	BackoffBaseMs     int     `mapstructure:"backoff_base_ms"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CrawlerConfig governs pagination and comment fan-out.
type CrawlerConfig struct {
	PageSize          int `mapstructure:"page_size"`
	CommentWorkers    int `mapstructure:"comment_workers"`
	PageDelayMs       int `mapstructure:"page_delay_ms"`
	CommentCooldownMs int `mapstructure:"comment_cooldown_ms"`
}

// OutputConfig sets the on-disk layout root.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// ServerConfig controls the optional status API. An empty Listen disables it.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// DBConfig controls the optional Postgres run history.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// StorageConfig selects where export uploads go.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// KafkaConfig routes completion notifications to Kafka instead of Pub/Sub.
type KafkaConfig struct {
	Brokers               []string `mapstructure:"brokers"`
	Topic                 string   `mapstructure:"topic"`
	ClientID              string   `mapstructure:"client_id"`
	ConnectTimeoutSeconds int      `mapstructure:"connect_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig points span export at an OTLP collector. An empty endpoint
// disables export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	ServiceName string  `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Source.BaseURL = strings.TrimRight(cfg.Source.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", "https://issues.apache.org/jira")
	v.SetDefault("source.user_agent", "issue-harvester/1.0 (+https://github.com/JakeFAU/issue-harvester)")
	v.SetDefault("source.projects", []string{"HDFS", "SPARK", "HADOOP"})
	v.SetDefault("source.fields", []string{
		"summary", "description", "project", "reporter", "assignee",
		"status", "priority", "labels", "created", "updated",
	})
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 6)
	v.SetDefault("http.backoff_base_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 60000)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("crawler.page_size", 50)
	v.SetDefault("crawler.comment_workers", 6)
	v.SetDefault("crawler.page_delay_ms", 500)
	v.SetDefault("crawler.comment_cooldown_ms", 500)
	v.SetDefault("output.dir", "output")
	v.SetDefault("server.listen", "")
	v.SetDefault("db.table", "harvest_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("storage.prefix", "harvest")
	v.SetDefault("kafka.client_id", "issue-harvester")
	v.SetDefault("kafka.connect_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.service_name", "issue-harvester")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.BackoffBaseMs <= 0 || c.HTTP.BackoffMaxMs < c.HTTP.BackoffBaseMs {
		return fmt.Errorf("http.backoff_base_ms must be > 0 and <= http.backoff_max_ms")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if c.Crawler.PageSize <= 0 {
		return fmt.Errorf("crawler.page_size must be > 0")
	}
	if c.Crawler.CommentWorkers <= 0 {
		return fmt.Errorf("crawler.comment_workers must be > 0")
	}
	if c.Crawler.PageDelayMs < 0 || c.Crawler.CommentCooldownMs < 0 {
		return fmt.Errorf("crawler delays must be >= 0")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic must be set when kafka.brokers is set")
	}
	if len(c.Kafka.Brokers) > 0 && c.PubSub.TopicName != "" {
		return fmt.Errorf("configure either pubsub or kafka notifications, not both")
	}
	return nil
}

// KafkaConnectTimeout bounds the broker connect retries.
func (c Config) KafkaConnectTimeout() time.Duration {
	return time.Duration(c.Kafka.ConnectTimeoutSeconds) * time.Second
}

// RequestTimeout is the per-request HTTP timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffBase is the first retry delay before jitter.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.HTTP.BackoffBaseMs) * time.Millisecond
}

// BackoffMax caps the exponential retry delay.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// PageDelay is the polite pause between issue pages.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Crawler.PageDelayMs) * time.Millisecond
}

// CommentCooldown is the pause a comment worker takes after a failed fetch.
func (c Config) CommentCooldown() time.Duration {
	return time.Duration(c.Crawler.CommentCooldownMs) * time.Millisecond
}

// RawDir is where raw_<project>.jsonl files live.
func (c Config) RawDir() string {
	return filepath.Join(c.Output.Dir, "raw")
}

// CleanDir is where clean_<project>.jsonl files live.
func (c Config) CleanDir() string {
	return filepath.Join(c.Output.Dir, "clean")
}

// CheckpointPath is the single checkpoint file for all projects.
func (c Config) CheckpointPath() string {
	return filepath.Join(c.Output.Dir, "checkpoint.json")
}
