package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"":                      "/",
		"/":                     "/",
		"/health":               "/health",
		"/api/identity":         "/api/identity",
		"/api/identity/0xabc":   "/api/identity/:address",
		"/api/stats/slot/0xabc": "/api/stats/:game/:account",
		"/api/other/thing":      "/api/other",
	}
	for in, want := range tests {
		if got := canonicalPath(in); got != want {
			t.Errorf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordRead("live")
	RecordFailover()

	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{
		"miniapp_reader_reads_total",
		"miniapp_reader_failovers_total",
		`miniapp_http_requests_total{method="GET",path="/health",status="418"}`,
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
