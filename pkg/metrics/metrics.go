// Package metrics defines the Prometheus collectors exposed on /metrics.
//
// All collectors register against DefaultRegistry, not the global prometheus
// registry, so tests can scrape deterministically and the process never
// inherits collectors from imported libraries.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRegistry is the process-wide registry served by the HTTP layer.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		JobsSubmitted, JobsCompleted, JobPhaseDuration,
		CacheOperations, GeocodeRequests, WebhookDeliveries,
	)
}

// HTTPRequestsTotal counts handled HTTP requests by route and status code.
var HTTPRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "trailtag_http_requests_total",
		Help: "Handled HTTP requests by method, route template and status code.",
	},
	[]string{"method", "path", "status"},
)

// HTTPRequestDuration observes wall-clock latency per route.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "trailtag_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds by method and route template.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "path"},
)

// HTTPRequestsInFlight tracks requests currently being served.
var HTTPRequestsInFlight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "trailtag_http_requests_in_flight",
		Help: "HTTP requests currently being served.",
	},
)

// JobsSubmitted counts analysis jobs accepted for execution.
var JobsSubmitted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "trailtag_jobs_submitted_total",
		Help: "Analysis jobs accepted for execution.",
	},
)

// JobsCompleted counts jobs reaching a terminal state, by outcome.
var JobsCompleted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "trailtag_jobs_completed_total",
		Help: "Jobs reaching a terminal state by outcome.",
	},
	[]string{"status"}, // completed | failed | cancelled
)

// JobPhaseDuration observes how long each pipeline phase ran.
var JobPhaseDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "trailtag_job_phase_duration_seconds",
		Help:    "Pipeline phase duration in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	},
	[]string{"phase"}, // metadata | summary | geocode
)

// CacheOperations counts cache backend calls and whether they hit.
var CacheOperations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "trailtag_cache_operations_total",
		Help: "Cache operations by kind and hit/miss outcome.",
	},
	[]string{"op", "hit"},
)

// GeocodeRequests counts geocoding lookups by outcome.
var GeocodeRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "trailtag_geocode_requests_total",
		Help: "Geocoding lookups by outcome.",
	},
	[]string{"outcome"}, // ok | zero_results | denied | error | rate_limited
)

// WebhookDeliveries counts webhook delivery attempts by final status.
var WebhookDeliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "trailtag_webhook_deliveries_total",
		Help: "Webhook deliveries by final status.",
	},
	[]string{"status"}, // sent | failed
)

// RecordHTTPRequest counts one handled request and its latency.
func RecordHTTPRequest(method, path string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// RecordCacheOperation counts one cache call and its outcome.
func RecordCacheOperation(op string, hit bool) {
	CacheOperations.WithLabelValues(op, strconv.FormatBool(hit)).Inc()
}

// RecordJobCompleted counts one terminal job transition.
func RecordJobCompleted(status string) {
	JobsCompleted.WithLabelValues(status).Inc()
}

// RecordPhaseDuration observes one finished pipeline phase.
func RecordPhaseDuration(phase string, elapsed time.Duration) {
	JobPhaseDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

// RecordGeocodeRequest counts one geocoding lookup outcome.
func RecordGeocodeRequest(outcome string) {
	GeocodeRequests.WithLabelValues(outcome).Inc()
}

// RecordWebhookDelivery counts one finished webhook delivery.
func RecordWebhookDelivery(status string) {
	WebhookDeliveries.WithLabelValues(status).Inc()
}
