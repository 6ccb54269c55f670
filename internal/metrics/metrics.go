// Package metrics exposes Prometheus collectors for the pulling pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snapscore/pipeline/internal/pulling"
)

var (
	admittedTotal          *prometheus.CounterVec
	duplicateDroppedTotal  *prometheus.CounterVec
	cooldownDeferredTotal  *prometheus.CounterVec
	httpResultTotal        *prometheus.CounterVec
	httpResultDurationSecs *prometheus.HistogramVec
	retryDecisionsTotal    *prometheus.CounterVec

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	sequentialUnprocessedTotal prometheus.Gauge
	sequentialStallTotal       *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors. Safe to call
// multiple times.
func Init() {
	once.Do(func() {
		admittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulling_admitted_total",
				Help: "Total number of feed requests admitted, labeled by priority.",
			},
			[]string{"priority"},
		)

		duplicateDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulling_duplicate_dropped_total",
				Help: "Total number of feed requests dropped as duplicates, labeled by priority.",
			},
			[]string{"priority"},
		)

		cooldownDeferredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulling_cooldown_deferred_total",
				Help: "Total number of feed requests rejected while in cooldown, labeled by priority.",
			},
			[]string{"priority"},
		)

		httpResultTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulling_http_result_total",
				Help: "Total number of dispatched HTTP pulls, labeled by priority and outcome.",
			},
			[]string{"priority", "outcome"},
		)

		httpResultDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulling_http_result_duration_seconds",
				Help:    "Histogram of dispatched HTTP pull latencies, labeled by priority.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"priority"},
		)

		retryDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulling_retry_decisions_total",
				Help: "Total number of retry decisions, labeled by priority and decision.",
			},
			[]string{"priority", "decision"},
		)

		sequentialUnprocessedTotal = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sequential_unprocessed_total",
				Help: "Number of inputs currently enqueued in the ShardedQueueSet, across every shard.",
			},
		)

		sequentialStallTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequential_stall_total",
				Help: "Total number of enqueued inputs that waited past the stall threshold before processing.",
			},
			[]string{"shard"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of admin API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of admin API request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one admin API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Recorder implements pulling.Observer against the package-level
// collectors initialized by Init.
type Recorder struct{}

// OnAdmitted implements pulling.Observer.
func (Recorder) OnAdmitted(p pulling.Priority) { admittedTotal.WithLabelValues(p.String()).Inc() }

// OnDuplicateDropped implements pulling.Observer.
func (Recorder) OnDuplicateDropped(p pulling.Priority) {
	duplicateDroppedTotal.WithLabelValues(p.String()).Inc()
}

// OnCooldownDeferred implements pulling.Observer.
func (Recorder) OnCooldownDeferred(p pulling.Priority) {
	cooldownDeferredTotal.WithLabelValues(p.String()).Inc()
}

// OnHTTPResult implements pulling.Observer.
func (Recorder) OnHTTPResult(p pulling.Priority, success bool, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	httpResultTotal.WithLabelValues(p.String(), outcome).Inc()
	httpResultDurationSecs.WithLabelValues(p.String()).Observe(elapsed.Seconds())
}

// OnRetryDecision implements pulling.Observer.
func (Recorder) OnRetryDecision(p pulling.Priority, gaveUp bool) {
	decision := "retry"
	if gaveUp {
		decision = "give_up"
	}
	retryDecisionsTotal.WithLabelValues(p.String(), decision).Inc()
}

// ObserveSequentialStall records one input crossing the stall threshold on
// the given shard.
func ObserveSequentialStall(shard int) {
	Init()
	sequentialStallTotal.WithLabelValues(strconv.Itoa(shard)).Inc()
}

// ObserveUnprocessedTotal publishes ShardedQueueSet's shared counter, making
// the "unprocessed_total" analytics id queryable as a gauge.
func ObserveUnprocessedTotal(n int64) {
	Init()
	sequentialUnprocessedTotal.Set(float64(n))
}
