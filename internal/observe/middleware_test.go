package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newEndpoint(m *Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return Middleware(m)(mux)
}

// samples returns the histogram sample count per (route, status) pair.
func samples(t *testing.T, rm metricdata.ResourceMetrics) map[[2]string]uint64 {
	t.Helper()
	met := findMetric(rm, "typeless.http.request.duration")
	if met == nil {
		t.Fatal("typeless.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	out := make(map[[2]string]uint64)
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		out[[2]string{route.AsString(), status.AsString()}] += dp.Count
	}
	return out
}

func TestMiddleware_LabelsByRouteAndStatus(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	h := newEndpoint(m)

	for _, path := range []string{"/healthz", "/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	got := samples(t, collect(t, reader))
	if n := got[[2]string{"GET /healthz", "200"}]; n != 2 {
		t.Errorf("healthz samples = %d, want 2", n)
	}
	if n := got[[2]string{"GET /readyz", "503"}]; n != 1 {
		t.Errorf("readyz samples = %d, want 1", n)
	}
}

func TestMiddleware_UnmatchedPathsCollapse(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	h := newEndpoint(m)

	for _, path := range []string{"/a", "/b/c", "/favicon.ico"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, rec.Code)
		}
	}

	got := samples(t, collect(t, reader))
	if len(got) != 1 {
		t.Errorf("series = %v, want a single unmatched series", got)
	}
	if n := got[[2]string{"unmatched", "404"}]; n != 3 {
		t.Errorf("unmatched samples = %d, want 3", n)
	}
}

func TestMiddleware_PassesResponseThrough(t *testing.T) {
	t.Parallel()
	m, _ := newTestMetrics(t)
	rec := httptest.NewRecorder()
	newEndpoint(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("response = %d %q, want 200 \"ok\"", rec.Code, rec.Body.String())
	}
}
