// Package metrics exposes Prometheus collectors for the notice poller.
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

var (
	cyclesTotal                *prometheus.CounterVec
	fetchErrorsTotal           *prometheus.CounterVec
	fetchDurationSeconds       prometheus.Histogram
	noticesTotal               *prometheus.CounterVec
	retriesTotal               prometheus.Counter
	schedulerState             *prometheus.GaugeVec
	sleepSeconds               *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	retentionDeletedTotal      prometheus.Counter
	publishErrorsTotal         prometheus.Counter

	once sync.Once
)

// SchedulerStates lists the label values used by the scheduler state gauge.
var SchedulerStates = []string{"running", "night_sleep", "weekend_sleep", "retry_backoff", "stopped"}

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noticepoller_cycles_total",
				Help: "Total number of fetch-extract-ingest cycles, labeled by result.",
			},
			[]string{"result"},
		)

		fetchErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noticepoller_fetch_errors_total",
				Help: "Total number of failed board fetch-and-parse attempts, labeled by kind.",
			},
			[]string{"kind"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "noticepoller_fetch_duration_seconds",
				Help:    "Histogram of board fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5},
			},
		)

		noticesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noticepoller_notices_total",
				Help: "Total number of ingested notices, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		retriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "noticepoller_retries_total",
				Help: "Total number of backoff retries after a failed extraction.",
			},
		)

		schedulerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "noticepoller_scheduler_state",
				Help: "Current scheduler state (1 for the active state, 0 otherwise).",
			},
			[]string{"state"},
		)

		sleepSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "noticepoller_sleep_seconds",
				Help:    "Histogram of scheduler sleep durations, labeled by state.",
				Buckets: []float64{60, 300, 1800, 3600, 4 * 3600, 16 * 3600, 64 * 3600},
			},
			[]string{"state"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "noticepoller_rate_limit_delays_seconds",
				Help:    "Histogram of upstream rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		retentionDeletedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "noticepoller_retention_deleted_total",
				Help: "Total number of notices removed by the retention job.",
			},
		)

		publishErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "noticepoller_publish_errors_total",
				Help: "Total number of failed new-notice publishes.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle increments the cycle counter for the given result.
func ObserveCycle(result string) {
	Init()
	cyclesTotal.WithLabelValues(result).Inc()
}

// ObserveFetchError increments the fetch error counter for the given kind.
func ObserveFetchError(kind string) {
	Init()
	fetchErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveFetchDuration records how long a board fetch took.
func ObserveFetchDuration(d time.Duration) {
	Init()
	fetchDurationSeconds.Observe(d.Seconds())
}

// ObserveNotice increments the ingest counter for the given outcome.
func ObserveNotice(outcome string) {
	Init()
	noticesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRetry increments the backoff retry counter.
func ObserveRetry() {
	Init()
	retriesTotal.Inc()
}

// SetSchedulerState flags state as the active scheduler state.
func SetSchedulerState(state string) {
	Init()
	for _, s := range SchedulerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		schedulerState.WithLabelValues(s).Set(v)
	}
}

// ObserveSleep records a scheduler sleep.
func ObserveSleep(state string, d time.Duration) {
	Init()
	sleepSeconds.WithLabelValues(state).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRetentionDeleted adds n to the retention deletion counter.
func ObserveRetentionDeleted(n int64) {
	Init()
	if n > 0 {
		retentionDeletedTotal.Add(float64(n))
	}
}

// ObservePublishError increments the publish error counter.
func ObservePublishError() {
	Init()
	publishErrorsTotal.Inc()
}
