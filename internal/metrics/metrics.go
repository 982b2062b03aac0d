// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures request latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// ActiveConnections tracks current active connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of active connections",
		},
	)

	// RateLimitChecksTotal counts admission checks by policy.
	RateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_checks_total",
			Help: "Total number of rate limit checks",
		},
		[]string{"policy"},
	)

	// RateLimitedTotal counts rejected requests by policy.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_rejected_total",
			Help: "Total number of rate-limited requests",
		},
		[]string{"policy"},
	)

	// RateLimitStoreErrorsTotal counts store failures (requests fail open).
	RateLimitStoreErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Total number of rate limit store errors",
		},
	)

	// RateLimitActiveKeys tracks records held by the in-memory store.
	RateLimitActiveKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_active_keys",
			Help: "Number of keys tracked by the rate limit store",
		},
	)

	// RateLimitSweptTotal counts expired records removed by the sweeper.
	RateLimitSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_swept_keys_total",
			Help: "Total number of expired rate limit records removed",
		},
	)

	// CSRFRejectedTotal counts CSRF rejections by reason.
	CSRFRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrf_rejected_total",
			Help: "Total number of requests rejected by CSRF validation",
		},
		[]string{"reason"},
	)

	// CSRFTokensIssuedTotal counts CSRF cookies minted.
	CSRFTokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "csrf_tokens_issued_total",
			Help: "Total number of CSRF tokens issued",
		},
	)

	// SiteGateRedirectsTotal counts requests redirected to the site password page.
	SiteGateRedirectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitegate_redirects_total",
			Help: "Total number of requests redirected by the site gate",
		},
	)

	// AuditFlushedTotal counts rejection events persisted by the audit flusher.
	AuditFlushedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_flushed_events_total",
			Help: "Total number of admission events flushed to storage",
		},
	)

	// AuditDroppedTotal counts rejection events lost to a full audit buffer.
	AuditDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_dropped_events_total",
			Help: "Total number of admission events dropped because the audit buffer was full",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records an HTTP request metric.
func RecordRequest(method, path string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRateLimitCheck records an admission check for policy.
func RecordRateLimitCheck(policy string) {
	RateLimitChecksTotal.WithLabelValues(policy).Inc()
}

// RecordRateLimited records a rate-limited request.
func RecordRateLimited(policy string) {
	RateLimitedTotal.WithLabelValues(policy).Inc()
}

// RecordRateLimitStoreError records a store failure.
func RecordRateLimitStoreError() {
	RateLimitStoreErrorsTotal.Inc()
}

// RecordSweep records records removed by one sweep.
func RecordSweep(removed int) {
	RateLimitSweptTotal.Add(float64(removed))
}

// SetActiveKeys sets the number of tracked rate limit keys.
func SetActiveKeys(n int) {
	RateLimitActiveKeys.Set(float64(n))
}

// RecordCSRFRejected records a CSRF rejection.
func RecordCSRFRejected(reason string) {
	CSRFRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordCSRFTokenIssued records a minted CSRF token.
func RecordCSRFTokenIssued() {
	CSRFTokensIssuedTotal.Inc()
}

// RecordSiteGateRedirect records a site gate redirect.
func RecordSiteGateRedirect() {
	SiteGateRedirectsTotal.Inc()
}

// RecordAuditFlushed records persisted admission events.
func RecordAuditFlushed(n int64) {
	AuditFlushedTotal.Add(float64(n))
}

// RecordAuditDropped records one admission event lost before flushing.
func RecordAuditDropped() {
	AuditDroppedTotal.Inc()
}
