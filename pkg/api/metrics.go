package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds all Prometheus metrics for the API
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec

	// Database operation metrics
	dbOperationsTotal   *prometheus.CounterVec
	dbOperationDuration *prometheus.HistogramVec
	dbThreadsInUse      prometheus.Gauge
	dbDiskUsageBytes    prometheus.Gauge

	authRequestsTotal     *prometheus.CounterVec
	healthChecksTotal     *prometheus.CounterVec
	threadRejectionsTotal prometheus.Counter
}

// NewMetrics creates the API metrics on a registry of their own, so several
// servers can live in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skadi_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skadi_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		httpRequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "skadi_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
			[]string{"method", "endpoint"},
		),

		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skadi_db_operations_total",
				Help: "Total number of database operations issued by the API",
			},
			[]string{"operation", "status"},
		),

		dbOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skadi_db_operation_duration_seconds",
				Help:    "Database operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		dbThreadsInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "skadi_db_threads_in_use",
				Help: "Number of registered store threads",
			},
		),

		dbDiskUsageBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "skadi_db_disk_usage_bytes",
				Help: "Bytes on disk used by the tree engine",
			},
		),

		authRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skadi_auth_requests_total",
				Help: "Total number of authentication requests",
			},
			[]string{"status"},
		),

		healthChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skadi_health_checks_total",
				Help: "Total number of health checks",
			},
			[]string{"status"},
		),

		threadRejectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "skadi_thread_rejections_total",
				Help: "Requests rejected because the thread registry was full",
			},
		),
	}
}

// Registry returns the registry the API metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	statusCodeStr := strconv.Itoa(statusCode)

	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCodeStr).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordDBOperation records a database operation
func (m *Metrics) RecordDBOperation(operation string, success bool, duration time.Duration) {
	status := statusSuccess
	if !success {
		status = statusError
	}

	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
	m.dbOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateDBStats updates database statistics
func (m *Metrics) UpdateDBStats(threads int, diskUsage uint64) {
	m.dbThreadsInUse.Set(float64(threads))
	m.dbDiskUsageBytes.Set(float64(diskUsage))
}

// RecordAuthRequest records an authentication request
func (m *Metrics) RecordAuthRequest(success bool) {
	status := statusSuccess
	if !success {
		status = statusError
	}
	m.authRequestsTotal.WithLabelValues(status).Inc()
}

// RecordHealthCheck records a health check
func (m *Metrics) RecordHealthCheck(success bool) {
	status := statusSuccess
	if !success {
		status = statusError
	}
	m.healthChecksTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordThreadRejection() {
	m.threadRejectionsTotal.Inc()
}

// InstrumentHandler instruments an HTTP handler with metrics
func (m *Metrics) InstrumentHandler(method, endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		gauge := m.httpRequestsInFlight.WithLabelValues(method, endpoint)
		gauge.Inc()
		defer gauge.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(rw, r)

		m.RecordHTTPRequest(method, endpoint, rw.statusCode, time.Since(start))
	}
}

// InstrumentAuthMiddleware instruments the authentication middleware
func (m *Metrics) InstrumentAuthMiddleware(next func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hasAPIKey := r.Header.Get("X-API-Key") != ""

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next(h).ServeHTTP(rw, r)

			if hasAPIKey {
				m.RecordAuthRequest(rw.statusCode != http.StatusUnauthorized)
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
