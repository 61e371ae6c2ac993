package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return InitMetrics(reg), reg
}

func TestInitMetrics_registersAll(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordHTTPRequest("GET", "/ui/navigation", 200, time.Millisecond, 10)
	m.RecordQuery("users", "ok")
	m.RecordMutation("users", "create", nil)
	m.RecordValidationFailure("users")
	m.ObserveBackend("GET", time.Millisecond)
	m.SetBreakerState(1)
	m.QueryCacheHitsTotal.Inc()
	m.QueryCacheMissesTotal.Inc()
	m.QueryCacheEntries.Set(3)
	m.RecordConfigReload("ok", 2)
	m.ConfigParseFailuresTotal.Inc()
	m.SetOpenAPIMismatches("users", 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"admindash_http_requests_total",
		"admindash_record_queries_total",
		"admindash_record_mutations_total",
		"admindash_form_validation_failures_total",
		"admindash_backend_circuit_breaker_state",
		"admindash_query_cache_hits_total",
		"admindash_service_config_reload_total",
		"admindash_service_config_parse_failures_total",
		"admindash_service_configs_loaded",
		"admindash_openapi_mismatches",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestRecordQuery_mockCountsSeparately(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordQuery("users", "mock")
	m.RecordQuery("users", "ok")

	if got := testutil.ToFloat64(m.MockDataServedTotal.WithLabelValues("users")); got != 1 {
		t.Errorf("mock served = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RecordQueriesTotal.WithLabelValues("users", "ok")); got != 1 {
		t.Errorf("ok queries = %v, want 1", got)
	}
}

func TestRecordMutation_outcome(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordMutation("users", "delete", errors.New("boom"))

	if got := testutil.ToFloat64(m.RecordMutationsTotal.WithLabelValues("users", "delete", "error")); got != 1 {
		t.Errorf("error mutations = %v, want 1", got)
	}
}

func TestRecordConfigReload_errorKeepsGauge(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordConfigReload("ok", 4)
	m.RecordConfigReload("error", 0)

	if got := testutil.ToFloat64(m.ServiceConfigsLoaded); got != 4 {
		t.Errorf("configs loaded = %v, want 4", got)
	}
}

func TestMetricsMiddleware_usesRoutePattern(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/ui/services/{code}/records", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte("{}"))
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/ui/services/users/records", nil))

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/ui/services/{code}/records", "422"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)
	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/raw/path", nil))

	if val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200")); val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesRegistry(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.QueryCacheHitsTotal.Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "admindash_query_cache_hits_total 1") {
		t.Error("metrics response should contain the cache hit counter")
	}
}
