package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets   = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	engineDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets       = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the workflow service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Engine metrics
	CasesOpenedTotal    *prometheus.CounterVec
	TransitionsTotal    *prometheus.CounterVec
	TransitionDuration  *prometheus.HistogramVec
	GuardFailuresTotal  *prometheus.CounterVec
	ActionFailuresTotal *prometheus.CounterVec

	// Definition metrics
	DefinitionPublishTotal *prometheus.CounterVec
	DefinitionsLoaded      prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseflow_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseflow_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Engine
		CasesOpenedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_cases_opened_total",
			Help: "Total number of cases opened.",
		}, []string{"workflow_id"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_transitions_total",
			Help: "Total number of transition attempts by outcome.",
		}, []string{"workflow_id", "transition_id", "outcome"}),
		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseflow_transition_duration_seconds",
			Help:    "Transition execution duration in seconds.",
			Buckets: engineDurationBuckets,
		}, []string{"workflow_id"}),
		GuardFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_guard_failures_total",
			Help: "Total number of failed guard evaluations.",
		}, []string{"workflow_id", "guard_type"}),
		ActionFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_action_failures_total",
			Help: "Total number of failed action executions.",
		}, []string{"workflow_id", "action_type"}),

		// Definitions
		DefinitionPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_definition_publish_total",
			Help: "Total workflow definition publishes.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "caseflow_definitions_loaded",
			Help: "Number of loaded workflow definitions.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Engine
		m.CasesOpenedTotal,
		m.TransitionsTotal,
		m.TransitionDuration,
		m.GuardFailuresTotal,
		m.ActionFailuresTotal,
		// Definitions
		m.DefinitionPublishTotal,
		m.DefinitionsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordCaseOpened records a newly opened case.
func (m *Metrics) RecordCaseOpened(workflowID string) {
	m.CasesOpenedTotal.WithLabelValues(workflowID).Inc()
}

// RecordTransition records one transition attempt and its outcome.
func (m *Metrics) RecordTransition(workflowID, transitionID, outcome string, duration time.Duration) {
	m.TransitionsTotal.WithLabelValues(workflowID, transitionID, outcome).Inc()
	m.TransitionDuration.WithLabelValues(workflowID).Observe(duration.Seconds())
}

// RecordGuardFailure records a failed guard evaluation.
func (m *Metrics) RecordGuardFailure(workflowID, guardType string) {
	m.GuardFailuresTotal.WithLabelValues(workflowID, guardType).Inc()
}

// RecordActionFailure records a failed action execution.
func (m *Metrics) RecordActionFailure(workflowID, actionType string) {
	m.ActionFailuresTotal.WithLabelValues(workflowID, actionType).Inc()
}

// RecordDefinitionPublish records a definition publish attempt.
func (m *Metrics) RecordDefinitionPublish(status string) {
	m.DefinitionPublishTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
