package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/issue-harvester/internal/progress"
)

// PrometheusSink exports harvest progress via Prometheus. It owns collectors
// for projects started/completed/running and per-project page counters.
type PrometheusSink struct {
	projectsStarted   prometheus.Counter
	projectsCompleted *prometheus.CounterVec
	projectsRunning   prometheus.Gauge
	projectRuntime    *prometheus.HistogramVec

	pages           *prometheus.CounterVec
	pageDuration    *prometheus.HistogramVec
	issuesWritten   *prometheus.CounterVec
	issuesSkipped   *prometheus.CounterVec
	commentFailures *prometheus.CounterVec
	offset          *prometheus.GaugeVec
	total           *prometheus.GaugeVec

	tracker *projectTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		projectsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_projects_started_total",
			Help: "Total project crawls that have started.",
		}),
		projectsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_projects_completed_total",
			Help: "Total project crawls completed partitioned by result.",
		}, []string{"result"}),
		projectsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_projects_running",
			Help: "Current number of project crawls in flight.",
		}),
		projectRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_project_runtime_seconds",
			Help:    "Wall time per finished project crawl.",
			Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_pages_total",
			Help: "Issue pages persisted per project.",
		}, []string{"project"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_page_duration_seconds",
			Help:    "Time from page request to checkpoint save.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"project"}),
		issuesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_issues_written_total",
			Help: "Raw records appended per project.",
		}, []string{"project"}),
		issuesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_issues_skipped_total",
			Help: "Issues skipped because they were already harvested.",
		}, []string{"project"}),
		commentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_project_comment_failures_total",
			Help: "Issues stored with an empty thread after a failed comment fetch.",
		}, []string{"project"}),
		offset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harvester_checkpoint_offset",
			Help: "Last saved checkpoint offset per project.",
		}, []string{"project"}),
		total: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harvester_project_issues",
			Help: "Upstream issue total reported by the latest page.",
		}, []string{"project"}),
		tracker: newProjectTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.projectsStarted,
		s.projectsCompleted,
		s.projectsRunning,
		s.projectRuntime,
		s.pages,
		s.pageDuration,
		s.issuesWritten,
		s.issuesSkipped,
		s.commentFailures,
		s.offset,
		s.total,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageProjectStart, progress.StageProjectDone, progress.StageProjectError:
		s.handleProjectEvent(evt)
	case progress.StagePageDone:
		s.handlePageEvent(evt)
	case progress.StageCommentFailed:
		s.commentFailures.WithLabelValues(projectLabel(evt.Project)).Inc()
	}
}

func (s *PrometheusSink) handleProjectEvent(evt progress.Event) {
	key := trackerKey{run: evt.RunID, project: evt.Project}
	switch evt.Stage {
	case progress.StageProjectStart:
		s.projectsStarted.Inc()
		s.offset.WithLabelValues(projectLabel(evt.Project)).Set(float64(evt.Offset))
		if s.tracker.start(key) {
			s.projectsRunning.Inc()
		}
		return
	case progress.StageProjectDone:
		s.projectsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageProjectError:
		s.projectsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if s.tracker.complete(key) {
		s.projectsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.projectRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handlePageEvent(evt progress.Event) {
	project := projectLabel(evt.Project)
	s.pages.WithLabelValues(project).Inc()
	if evt.Written > 0 {
		s.issuesWritten.WithLabelValues(project).Add(float64(evt.Written))
	}
	if evt.Skipped > 0 {
		s.issuesSkipped.WithLabelValues(project).Add(float64(evt.Skipped))
	}
	if evt.Dur > 0 {
		s.pageDuration.WithLabelValues(project).Observe(evt.Dur.Seconds())
	}
	s.offset.WithLabelValues(project).Set(float64(evt.Offset))
	s.total.WithLabelValues(project).Set(float64(evt.Total))
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func projectLabel(project string) string {
	if project == "" {
		return "unknown"
	}
	return project
}

type trackerKey struct {
	run     [16]byte
	project string
}

type projectTracker struct {
	mu      sync.Mutex
	running map[trackerKey]struct{}
}

func newProjectTracker() *projectTracker {
	return &projectTracker{running: make(map[trackerKey]struct{})}
}

func (t *projectTracker) start(key trackerKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *projectTracker) complete(key trackerKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
