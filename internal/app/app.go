// Package app initializes and holds the long-lived harvester services, acting
// as the dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/issue-harvester/internal/api"
	"github.com/JakeFAU/issue-harvester/internal/checkpoint"
	"github.com/JakeFAU/issue-harvester/internal/comments"
	"github.com/JakeFAU/issue-harvester/internal/config"
	"github.com/JakeFAU/issue-harvester/internal/crawler"
	"github.com/JakeFAU/issue-harvester/internal/export"
	"github.com/JakeFAU/issue-harvester/internal/httpclient"
	idgen "github.com/JakeFAU/issue-harvester/internal/id/uuid"
	"github.com/JakeFAU/issue-harvester/internal/jira"
	"github.com/JakeFAU/issue-harvester/internal/logging"
	"github.com/JakeFAU/issue-harvester/internal/metrics"
	"github.com/JakeFAU/issue-harvester/internal/progress"
	"github.com/JakeFAU/issue-harvester/internal/progress/sinks"
	kafkapublisher "github.com/JakeFAU/issue-harvester/internal/publisher/kafka"
	pubsubpublisher "github.com/JakeFAU/issue-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/issue-harvester/internal/rawstore"
	"github.com/JakeFAU/issue-harvester/internal/storage"
	"github.com/JakeFAU/issue-harvester/internal/storage/gcs"
	"github.com/JakeFAU/issue-harvester/internal/storage/local"
	"github.com/JakeFAU/issue-harvester/internal/storage/postgres"
	"github.com/JakeFAU/issue-harvester/internal/store"
	"github.com/JakeFAU/issue-harvester/internal/telemetry"
	"github.com/JakeFAU/issue-harvester/internal/transform"
)

const closeTimeout = 10 * time.Second

// ErrExportDisabled is returned by Export when no blob store is configured.
var ErrExportDisabled = errors.New("export disabled: set storage.gcs_bucket or storage.local_dir")

// Publisher is a completion publisher the App owns and closes.
type Publisher interface {
	sinks.Publisher
	Close() error
}

// Options overrides collaborators that New would otherwise build from the
// configuration. Zero values select the configured implementation.
type Options struct {
	// Logger replaces the logger built from cfg.Logging.
	Logger *zap.Logger
	// Registerer receives the progress collectors. Defaults to the process
	// registry; collectors already registered there are reused.
	Registerer prometheus.Registerer
	// Transport is handed to the upstream HTTP client.
	Transport http.RoundTripper
	// Runs replaces the Postgres run history.
	Runs store.RunRepository
	// Publisher replaces the Pub/Sub or Kafka completion publisher.
	Publisher Publisher
	// Blobs replaces the GCS or local export target.
	Blobs storage.BlobStore
	// PageDelay overrides the configured polite delay; negative disables it.
	PageDelay time.Duration
	// CommentSleeper replaces the comment worker cooldown timer.
	CommentSleeper comments.Sleeper
}

// CheckpointStatus is the persisted progress of one project.
type CheckpointStatus struct {
	Project   string `json:"project"`
	Offset    int    `json:"offset"`
	Completed int    `json:"completed"`
	RawFile   string `json:"raw_file"`
	RawExists bool   `json:"raw_exists"`
}

// App holds the shared services for one harvester invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  uuid.UUID

	checkpoints *checkpoint.Store
	crawler     *crawler.Crawler
	stage       *transform.Stage
	exporter    *export.Exporter
	hub         *progress.Hub
	tracker     *sinks.Tracker
	runs        store.RunRepository

	closers      []func(ctx context.Context) error
	serveCancel  context.CancelFunc
	serveDone    chan error
	closeOnce    sync.Once
	ownsLogger   bool
	shutdownOTel telemetry.Shutdown
}

// New builds every service needed by the commands. Optional backends (run
// history, notifications, export) are only dialed when configured.
func New(ctx context.Context, cfg config.Config, opts Options) (a *App, err error) {
	logger := opts.Logger
	ownsLogger := false
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		ownsLogger = true
	}

	runID, err := idgen.New().NewRunID()
	if err != nil {
		return nil, err
	}

	a = &App{
		cfg:        cfg,
		logger:     logger.With(zap.String("run_id", runID.String())),
		runID:      runID,
		ownsLogger: ownsLogger,
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.logger.Info("initializing harvester services", zap.String("output_dir", cfg.Output.Dir))

	a.shutdownOTel, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	metrics.Init()

	if err := a.initRuns(ctx, opts.Runs); err != nil {
		return nil, err
	}
	publisher, err := a.initPublisher(ctx, opts.Publisher)
	if err != nil {
		return nil, err
	}
	if err := a.initHub(opts.Registerer, publisher); err != nil {
		return nil, err
	}
	if err := a.initExporter(ctx, opts.Blobs); err != nil {
		return nil, err
	}

	httpClient := httpclient.New(httpclient.Config{
		Timeout:           cfg.RequestTimeout(),
		UserAgent:         cfg.Source.UserAgent,
		MaxRetries:        cfg.HTTP.MaxRetries,
		BackoffBase:       cfg.BackoffBase(),
		BackoffMax:        cfg.BackoffMax(),
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		Transport:         opts.Transport,
	}, a.logger)
	source := jira.NewClient(jira.Config{
		BaseURL:  cfg.Source.BaseURL,
		PageSize: cfg.Crawler.PageSize,
		Fields:   cfg.Source.Fields,
	}, httpClient)

	cooldown := cfg.CommentCooldown()
	if cooldown == 0 {
		cooldown = -1
	}
	var poolOpts []comments.Option
	if opts.CommentSleeper != nil {
		poolOpts = append(poolOpts, comments.WithSleeper(opts.CommentSleeper))
	}
	pool := comments.NewPool(source, comments.Config{
		Workers:  cfg.Crawler.CommentWorkers,
		Cooldown: cooldown,
	}, a.logger, poolOpts...)

	pageDelay := cfg.PageDelay()
	if opts.PageDelay != 0 {
		pageDelay = opts.PageDelay
	}
	if pageDelay == 0 {
		pageDelay = -1
	}

	a.checkpoints = checkpoint.Open(cfg.CheckpointPath(), a.logger.Named("checkpoint"))
	a.crawler = crawler.New(crawler.Deps{
		Pages:       source,
		Comments:    pool,
		Raw:         rawstore.New(cfg.RawDir()),
		Checkpoints: a.checkpoints,
		Progress:    a.hub,
	}, crawler.Config{RunID: runID, PageDelay: pageDelay}, a.logger)
	a.stage = transform.NewStage(a.logger)

	a.logger.Info("harvester services initialized")
	return a, nil
}

func (a *App) initRuns(ctx context.Context, override store.RunRepository) error {
	if override != nil {
		a.runs = override
		return nil
	}
	if a.cfg.DB.DSN == "" {
		return nil
	}
	runStore, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("init run store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		runStore.Close()
		return nil
	})
	if err := runStore.Migrate(ctx); err != nil {
		return fmt.Errorf("init run store: %w", err)
	}
	a.logger.Info("run history enabled", zap.String("table", a.cfg.DB.Table))
	a.runs = runStore
	return nil
}

func (a *App) initPublisher(ctx context.Context, override Publisher) (Publisher, error) {
	publisher := override
	if publisher == nil {
		dialed, err := a.dialPublisher(ctx)
		if err != nil {
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		if dialed == nil {
			return nil, nil
		}
		a.logger.Info("completion notifications enabled", zap.String("topic", a.notifyTopic()))
		publisher = dialed
	}
	a.closers = append(a.closers, func(context.Context) error { return publisher.Close() })
	return publisher, nil
}

func (a *App) dialPublisher(ctx context.Context) (Publisher, error) {
	switch {
	case a.cfg.PubSub.TopicName != "":
		return pubsubpublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	case len(a.cfg.Kafka.Brokers) > 0:
		return kafkapublisher.ConnectWithRetry(ctx, kafkapublisher.Config{
			Brokers:        a.cfg.Kafka.Brokers,
			Topic:          a.cfg.Kafka.Topic,
			ClientID:       a.cfg.Kafka.ClientID,
			ConnectTimeout: a.cfg.KafkaConnectTimeout(),
		}, a.logger.Named("kafka"))
	default:
		return nil, nil
	}
}

// notifyTopic is the destination of completion messages.
func (a *App) notifyTopic() string {
	if a.cfg.PubSub.TopicName != "" {
		return a.cfg.PubSub.TopicName
	}
	return a.cfg.Kafka.Topic
}

func (a *App) initHub(reg prometheus.Registerer, publisher Publisher) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		var already prometheus.AlreadyRegisteredError
		if reg != nil || !errors.As(err, &already) {
			return fmt.Errorf("init progress metrics: %w", err)
		}
		a.logger.Debug("progress collectors already registered; metrics sink disabled")
		promSink = nil
	}

	a.tracker = sinks.NewTracker()
	hubSinks := []progress.Sink{sinks.NewLogSink(a.logger), a.tracker}
	if promSink != nil {
		hubSinks = append(hubSinks, promSink)
	}
	if a.runs != nil {
		hubSinks = append(hubSinks, sinks.NewStoreSink(a.runs, a.logger))
	}
	if publisher != nil {
		hubSinks = append(hubSinks, sinks.NewNotifySink(publisher, a.notifyTopic(), a.logger))
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger}, hubSinks...)
	return nil
}

func (a *App) initExporter(ctx context.Context, override storage.BlobStore) error {
	blobs := override
	switch {
	case blobs != nil:
	case a.cfg.Storage.GCSBucket != "":
		gcsStore, err := gcs.Dial(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs export: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return gcsStore.Close() })
		blobs = gcsStore
	case a.cfg.Storage.LocalDir != "":
		localStore, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("init local export: %w", err)
		}
		blobs = localStore
	default:
		return nil
	}
	a.exporter = export.New(blobs, a.cfg.Storage.Prefix, a.logger)
	return nil
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// RunID identifies this invocation in progress events and run history.
func (a *App) RunID() uuid.UUID {
	return a.runID
}

// Tracker exposes the live per-project snapshots.
func (a *App) Tracker() *sinks.Tracker {
	return a.tracker
}

// Projects returns override when it is non-empty, otherwise the configured
// project list.
func (a *App) Projects(override []string) []string {
	if len(override) > 0 {
		return override
	}
	return a.cfg.Source.Projects
}

// Scrape crawls projects and returns the summaries of those that finished.
func (a *App) Scrape(ctx context.Context, projects []string) ([]crawler.Summary, error) {
	projects = a.Projects(projects)
	if len(projects) == 0 {
		return nil, errors.New("no projects configured")
	}
	summaries, err := a.crawler.Run(ctx, projects)
	if err != nil {
		return summaries, fmt.Errorf("scrape: %w", err)
	}
	return summaries, nil
}

// Transform rebuilds the clean files. With no projects every raw file found
// is transformed.
func (a *App) Transform(ctx context.Context, projects []string) ([]transform.Stats, error) {
	stats, err := a.stage.Run(ctx, a.cfg.RawDir(), a.cfg.CleanDir(), projects...)
	if err != nil {
		return stats, fmt.Errorf("transform: %w", err)
	}
	return stats, nil
}

// ExportEnabled reports whether a blob store is configured.
func (a *App) ExportEnabled() bool {
	return a.exporter != nil
}

// Export uploads the raw, clean and checkpoint files.
func (a *App) Export(ctx context.Context) ([]export.Artifact, error) {
	if a.exporter == nil {
		return nil, ErrExportDisabled
	}
	return a.exporter.Export(ctx, export.Layout{
		RawDir:         a.cfg.RawDir(),
		CleanDir:       a.cfg.CleanDir(),
		CheckpointPath: a.cfg.CheckpointPath(),
	})
}

// Status reports the saved checkpoint of projects, or of every project the
// checkpoint file knows when projects is empty.
func (a *App) Status(projects []string) []CheckpointStatus {
	if len(projects) == 0 {
		projects = a.checkpoints.Projects()
	}
	out := make([]CheckpointStatus, 0, len(projects))
	for _, project := range projects {
		cp := a.checkpoints.Load(project)
		rawFile := rawstore.FilePath(a.cfg.RawDir(), project)
		_, statErr := os.Stat(rawFile)
		out = append(out, CheckpointStatus{
			Project:   project,
			Offset:    cp.Offset,
			Completed: cp.Len(),
			RawFile:   rawFile,
			RawExists: statErr == nil,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out
}

// StartServer serves the status API on addr in the background until Close.
func (a *App) StartServer(ctx context.Context, addr string) error {
	if a.serveCancel != nil {
		return errors.New("status api already started")
	}
	srv := api.NewServer(api.Options{
		Status: a.tracker,
		Runs:   a.runs,
		Ready:  a.ready,
		Logger: a.logger.Named("api"),
	})
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.serveCancel = cancel
	a.serveDone = make(chan error, 1)
	go func() {
		a.serveDone <- srv.Serve(serveCtx, ln)
	}()
	return nil
}

func (a *App) ready(context.Context) error {
	info, err := os.Stat(a.cfg.Output.Dir)
	if err != nil {
		return fmt.Errorf("output dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output dir %s is not a directory", a.cfg.Output.Dir)
	}
	return nil
}

// Close flushes progress, stops the status API and releases backends. It is
// safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		a.logger.Info("shutting down harvester services")
		if a.hub != nil {
			if err := a.hub.Close(ctx); err != nil {
				a.logger.Warn("progress hub close failed", zap.Error(err))
			}
		}
		if a.serveCancel != nil {
			a.serveCancel()
			if err := <-a.serveDone; err != nil {
				a.logger.Warn("status api stopped with error", zap.Error(err))
			}
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](ctx); err != nil {
				a.logger.Warn("service close failed", zap.Error(err))
			}
		}
		if a.shutdownOTel != nil {
			if err := a.shutdownOTel(ctx); err != nil {
				a.logger.Warn("tracing shutdown failed", zap.Error(err))
			}
		}
		if a.ownsLogger {
			_ = a.logger.Sync()
		}
	})
}
