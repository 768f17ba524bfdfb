// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Retry reasons reported by the HTTP client.
const (
	ReasonNetwork   = "network"
	ReasonRateLimit = "rate_limit"
	ReasonServer    = "server"
)

var (
	upstreamRequestsTotal      *prometheus.CounterVec
	upstreamRetriesTotal       *prometheus.CounterVec
	upstreamBackoffSeconds     *prometheus.HistogramVec
	upstreamRequestSeconds     *prometheus.HistogramVec
	throttleDelaySeconds       prometheus.Histogram
	commentFetchFailuresTotal  prometheus.Counter
	apiRequestsTotal           *prometheus.CounterVec
	apiRequestDurationSeconds  *prometheus.HistogramVec
	commentWorkersBusy         prometheus.Gauge
	checkpointSaveErrorsTotal  prometheus.Counter
	checkpointSaveDurationSecs prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_upstream_requests_total",
				Help: "Upstream HTTP attempts, labeled by endpoint and status code (0 for network errors).",
			},
			[]string{"endpoint", "code"},
		)

		upstreamRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_upstream_retries_total",
				Help: "Upstream retries scheduled, labeled by endpoint and reason.",
			},
			[]string{"endpoint", "reason"},
		)

		upstreamBackoffSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_upstream_backoff_seconds",
				Help:    "Delay slept before an upstream retry.",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"reason"},
		)

		upstreamRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_upstream_request_seconds",
				Help:    "Latency of single upstream attempts.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		)

		throttleDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_throttle_delay_seconds",
				Help:    "Time spent waiting on the proactive request throttle.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		)

		commentFetchFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_comment_fetch_failures_total",
				Help: "Comment threads replaced by an empty list after the retry budget ran out.",
			},
		)

		commentWorkersBusy = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_comment_workers_busy",
				Help: "Comment workers currently fetching a thread.",
			},
		)

		checkpointSaveErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_checkpoint_save_errors_total",
				Help: "Failed atomic checkpoint writes.",
			},
		)

		checkpointSaveDurationSecs = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_checkpoint_save_seconds",
				Help:    "Duration of atomic checkpoint writes.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		)

		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_api_requests_total",
				Help: "Status API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		apiRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_api_request_duration_seconds",
				Help:    "Status API latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstreamRequest records one upstream attempt. code is 0 when no
// response was received.
func ObserveUpstreamRequest(endpoint string, code int, duration time.Duration) {
	Init()
	upstreamRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	upstreamRequestSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRetry records a scheduled retry and the delay slept before it.
func ObserveRetry(endpoint, reason string, delay time.Duration) {
	Init()
	upstreamRetriesTotal.WithLabelValues(endpoint, reason).Inc()
	upstreamBackoffSeconds.WithLabelValues(reason).Observe(delay.Seconds())
}

// ObserveThrottleDelay records time spent waiting for a throttle token.
func ObserveThrottleDelay(d time.Duration) {
	Init()
	throttleDelaySeconds.Observe(d.Seconds())
}

// ObserveCommentFailure counts a comment thread that degraded to empty.
func ObserveCommentFailure() {
	Init()
	commentFetchFailuresTotal.Inc()
}

// IncCommentWorkers increments the busy comment worker gauge.
func IncCommentWorkers() {
	Init()
	commentWorkersBusy.Inc()
}

// DecCommentWorkers decrements the busy comment worker gauge.
func DecCommentWorkers() {
	Init()
	commentWorkersBusy.Dec()
}

// ObserveCheckpointSave records the outcome of an atomic checkpoint write.
func ObserveCheckpointSave(duration time.Duration, err error) {
	Init()
	if err != nil {
		checkpointSaveErrorsTotal.Inc()
		return
	}
	checkpointSaveDurationSecs.Observe(duration.Seconds())
}

// ObserveAPIRequest increments the status API request metrics.
func ObserveAPIRequest(method, route string, code int, duration time.Duration) {
	Init()
	apiRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	apiRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
