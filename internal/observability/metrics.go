package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration prometheus.Histogram

	sessionsActive prometheus.Gauge
	evictionsTotal *prometheus.CounterVec

	capabilityLoadsTotal *prometheus.CounterVec

	artifactsStoredTotal prometheus.Counter
	artifactBytesTotal   prometheus.Counter
	chartsRenderedTotal  prometheus.Counter

	jobsTotal *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			executionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "script_executions_total",
					Help: "Total script executions by outcome.",
				},
				[]string{"status"},
			),
			executionDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "script_execution_duration_seconds",
					Help:    "Script execution duration in seconds.",
					Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
				},
			),
			sessionsActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "sandbox_sessions_active",
					Help: "Live session kernels.",
				},
			),
			evictionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sandbox_session_evictions_total",
					Help: "Session evictions by reason.",
				},
				[]string{"reason"},
			),
			capabilityLoadsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "capability_loads_total",
					Help: "Capability initializations by name.",
				},
				[]string{"capability"},
			),
			artifactsStoredTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "artifacts_stored_total",
					Help: "Artifacts persisted to the store.",
				},
			),
			artifactBytesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "artifact_bytes_total",
					Help: "Total artifact bytes persisted.",
				},
			),
			chartsRenderedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "charts_rendered_total",
					Help: "Figures rendered by the sweep.",
				},
			),
			jobsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "execution_jobs_total",
					Help: "Queued execution jobs by terminal status.",
				},
				[]string{"status"},
			),
			httpRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "HTTP requests by route, method and status.",
				},
				[]string{"route", "method", "status"},
			),
			httpRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request duration in seconds by route.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"route"},
			),
		}

		prometheus.MustRegister(
			m.executionsTotal,
			m.executionDuration,
			m.sessionsActive,
			m.evictionsTotal,
			m.capabilityLoadsTotal,
			m.artifactsStoredTotal,
			m.artifactBytesTotal,
			m.chartsRenderedTotal,
			m.jobsTotal,
			m.httpRequestsTotal,
			m.httpRequestDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the process metrics endpoint.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordExecution counts one finished execution by outcome.
func RecordExecution(status string, duration time.Duration) {
	m := getMetrics()
	m.executionsTotal.WithLabelValues(status).Inc()
	m.executionDuration.Observe(duration.Seconds())
}

// SetActiveSessions publishes the live kernel count.
func SetActiveSessions(count int) {
	getMetrics().sessionsActive.Set(float64(count))
}

// RecordSessionEvicted counts one eviction by reason.
func RecordSessionEvicted(reason string) {
	getMetrics().evictionsTotal.WithLabelValues(reason).Inc()
}

// RecordCapabilityLoad counts one capability initialization.
func RecordCapabilityLoad(name string) {
	getMetrics().capabilityLoadsTotal.WithLabelValues(name).Inc()
}

// RecordArtifactStored counts one persisted artifact.
func RecordArtifactStored(bytes int) {
	m := getMetrics()
	m.artifactsStoredTotal.Inc()
	m.artifactBytesTotal.Add(float64(bytes))
}

// RecordChartRendered counts one swept figure.
func RecordChartRendered() {
	getMetrics().chartsRenderedTotal.Inc()
}

// RecordJob counts one job reaching a terminal status.
func RecordJob(status string) {
	getMetrics().jobsTotal.WithLabelValues(status).Inc()
}

// RecordHTTPRequest counts one handled request.
func RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	m := getMetrics()
	m.httpRequestsTotal.WithLabelValues(route, method, httpStatusClass(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func httpStatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
