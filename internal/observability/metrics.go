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

var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds the Prometheus instruments for the dashboard API.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Records and forms
	RecordQueriesTotal     *prometheus.CounterVec
	RecordMutationsTotal   *prometheus.CounterVec
	FormValidationFailures *prometheus.CounterVec
	MockDataServedTotal    *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec
	BackendCircuitBreaker  prometheus.Gauge
	QueryCacheHitsTotal    prometheus.Counter
	QueryCacheMissesTotal  prometheus.Counter
	QueryCacheEntries      prometheus.Gauge

	// Service configs
	ConfigReloadTotal        *prometheus.CounterVec
	ConfigParseFailuresTotal prometheus.Counter
	ServiceConfigsLoaded     prometheus.Gauge
	OpenAPIMismatches        *prometheus.GaugeVec
}

// InitMetrics creates and registers every instrument.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admindash_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "admindash_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "admindash_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		RecordQueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admindash_record_queries_total",
			Help: "Total number of list queries by service and outcome.",
		}, []string{"service", "outcome"}),
		RecordMutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admindash_record_mutations_total",
			Help: "Total number of create, update and delete calls.",
		}, []string{"service", "operation", "outcome"}),
		FormValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admindash_form_validation_failures_total",
			Help: "Total number of rejected form submissions.",
		}, []string{"service"}),
		MockDataServedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admindash_mock_data_served_total",
			Help: "Total number of failed queries answered with mock data.",
		}, []string{"service"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "admindash_backend_request_duration_seconds",
			Help:    "Backend call duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"method"}),
		BackendCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "admindash_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}),
		QueryCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admindash_query_cache_hits_total",
			Help: "Total query cache hits.",
		}),
		QueryCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admindash_query_cache_misses_total",
			Help: "Total query cache misses.",
		}),
		QueryCacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "admindash_query_cache_entries",
			Help: "Number of cached query results.",
		}),

		ConfigReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admindash_service_config_reload_total",
			Help: "Total service config reloads by status.",
		}, []string{"status"}),
		ConfigParseFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admindash_service_config_parse_failures_total",
			Help: "Total service configs dropped because they failed to parse.",
		}),
		ServiceConfigsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "admindash_service_configs_loaded",
			Help: "Number of parsed service configs.",
		}),
		OpenAPIMismatches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "admindash_openapi_mismatches",
			Help: "Derived operations missing from the service's OpenAPI document.",
		}, []string{"service"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSizeBytes,
		m.RecordQueriesTotal,
		m.RecordMutationsTotal,
		m.FormValidationFailures,
		m.MockDataServedTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreaker,
		m.QueryCacheHitsTotal,
		m.QueryCacheMissesTotal,
		m.QueryCacheEntries,
		m.ConfigReloadTotal,
		m.ConfigParseFailuresTotal,
		m.ServiceConfigsLoaded,
		m.OpenAPIMismatches,
	)
	return m
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, respSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordQuery records a list query outcome: ok, stale, mock or error.
func (m *Metrics) RecordQuery(service, outcome string) {
	m.RecordQueriesTotal.WithLabelValues(service, outcome).Inc()
	if outcome == "mock" {
		m.MockDataServedTotal.WithLabelValues(service).Inc()
	}
}

// RecordMutation records a create, update, delete or extra operation call.
func (m *Metrics) RecordMutation(service, operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RecordMutationsTotal.WithLabelValues(service, operation, outcome).Inc()
}

// RecordValidationFailure records a rejected form submission.
func (m *Metrics) RecordValidationFailure(service string) {
	m.FormValidationFailures.WithLabelValues(service).Inc()
}

// ObserveBackend records the duration of one backend call.
func (m *Metrics) ObserveBackend(method string, d time.Duration) {
	m.BackendRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// SetBreakerState mirrors the backend circuit breaker state.
func (m *Metrics) SetBreakerState(state int) {
	m.BackendCircuitBreaker.Set(float64(state))
}

// RecordConfigReload records a service config reload with status ok or error.
func (m *Metrics) RecordConfigReload(status string, loaded int) {
	m.ConfigReloadTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		m.ServiceConfigsLoaded.Set(float64(loaded))
	}
}

// SetOpenAPIMismatches sets the mismatch count for a service.
func (m *Metrics) SetOpenAPIMismatches(service string, n int) {
	m.OpenAPIMismatches.WithLabelValues(service).Set(float64(n))
}

// MetricsMiddleware records request metrics labelled by chi's route pattern
// rather than the raw path to keep label cardinality bounded.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), sw.bytes)
	})
}

// Handler returns the Prometheus scrape handler for reg.
func Handler(reg prometheus.Gatherer) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.TrimSuffix(strings.Join(rctx.RoutePatterns, ""), "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

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
	w.written = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
