package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reancirl/car-erp-sub006/internal/metrics"
)

func TestRequestLoggerLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusNotFound, "level=WARN"},
		{http.StatusInternalServerError, "level=ERROR"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		req := httptest.NewRequest("GET", "/api/stats", nil)
		req.Header.Set("CF-Connecting-IP", "203.0.113.7")
		h.ServeHTTP(httptest.NewRecorder(), req)

		out := buf.String()
		if !strings.Contains(out, tt.level) {
			t.Errorf("status %d: log %q missing %s", tt.status, out, tt.level)
		}
		if !strings.Contains(out, "remote=203.0.113.7") || !strings.Contains(out, "path=/api/stats") {
			t.Errorf("status %d: log %q missing request attributes", tt.status, out)
		}
	}
}

func TestStatusRecorderDefaultsToOK(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	if !strings.Contains(buf.String(), "status=200") {
		t.Errorf("log %q missing status=200", buf.String())
	}
}

func requestCount(t *testing.T, reg *prometheus.Registry, method, status string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "compliance_http_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["method"] == method && labels["status"] == status {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRequestLoggerCountsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := requestCount(t, reg, "DELETE", "418")
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("DELETE", "/api/reminders/1", nil))
	if got := requestCount(t, reg, "DELETE", "418"); got != before+1 {
		t.Errorf("requests_total = %v, want %v", got, before+1)
	}
}
