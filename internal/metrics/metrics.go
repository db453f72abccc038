// Package metrics exposes Prometheus collectors for the lead engine.
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
	webhookCallbacksTotal      *prometheus.CounterVec
	sessionsLaunchedTotal      prometheus.Counter
	sessionsCanceledTotal      prometheus.Counter
	leadsIngestedTotal         prometheus.Counter
	leadsDedupedTotal          prometheus.Counter
	ingestFailuresTotal        prometheus.Counter
	activeWatchers             prometheus.Gauge
	notifyEventsDroppedTotal   prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		webhookCallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadforge_webhook_callbacks_total",
				Help: "Total worker callbacks processed, labeled by target status and whether the transition applied.",
			},
			[]string{"status", "applied"},
		)

		sessionsLaunchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadforge_sessions_launched_total",
				Help: "Total scraping sessions created and dispatched to the worker.",
			},
		)

		sessionsCanceledTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadforge_sessions_canceled_total",
				Help: "Total sessions canceled by users.",
			},
		)

		leadsIngestedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadforge_leads_ingested_total",
				Help: "Total lead records inserted by the ingestion pipeline.",
			},
		)

		leadsDedupedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadforge_leads_deduped_total",
				Help: "Total incoming leads dropped as natural-key duplicates.",
			},
		)

		ingestFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadforge_ingest_failures_total",
				Help: "Batches whose leads could not be persisted after the status transition applied.",
			},
		)

		activeWatchers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadforge_active_watchers",
				Help: "Number of observers currently subscribed to session updates.",
			},
		)

		notifyEventsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadforge_notify_events_dropped_total",
				Help: "Session change events dropped due to subscriber backpressure.",
			},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CallbackProcessed increments the webhook counter.
func CallbackProcessed(status string, applied bool) {
	if webhookCallbacksTotal == nil {
		return
	}
	webhookCallbacksTotal.WithLabelValues(status, strconv.FormatBool(applied)).Inc()
}

// SessionLaunched increments the launch counter.
func SessionLaunched() {
	if sessionsLaunchedTotal != nil {
		sessionsLaunchedTotal.Inc()
	}
}

// SessionCanceled increments the cancellation counter.
func SessionCanceled() {
	if sessionsCanceledTotal != nil {
		sessionsCanceledTotal.Inc()
	}
}

// LeadsIngested records inserted and deduplicated lead counts for one batch.
func LeadsIngested(inserted, deduped int) {
	if leadsIngestedTotal == nil {
		return
	}
	if inserted > 0 {
		leadsIngestedTotal.Add(float64(inserted))
	}
	if deduped > 0 {
		leadsDedupedTotal.Add(float64(deduped))
	}
}

// IngestFailed counts a batch that could not be persisted.
func IngestFailed() {
	if ingestFailuresTotal != nil {
		ingestFailuresTotal.Inc()
	}
}

// IncActiveWatchers increments the watcher gauge.
func IncActiveWatchers() {
	if activeWatchers != nil {
		activeWatchers.Inc()
	}
}

// DecActiveWatchers decrements the watcher gauge.
func DecActiveWatchers() {
	if activeWatchers != nil {
		activeWatchers.Dec()
	}
}

// NotifyEventDropped counts a fan-out drop under backpressure.
func NotifyEventDropped() {
	if notifyEventsDroppedTotal != nil {
		notifyEventsDroppedTotal.Inc()
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
