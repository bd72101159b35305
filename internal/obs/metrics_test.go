package obs

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                             "/",
		"/metrics":                     "/metrics",
		"/v1/auth/login":               "/v1/auth/login",
		"/v1/admin/users/abc/active":   "/v1/admin/users/:id/active",
		"/v1/admin/users/abc/role":     "/v1/admin/users/:id/role",
		"/v1/admin/users/abc/extra":    "/v1/admin/users/abc/extra",
		"/v1/users/me?fields=id":       "/v1/users/me",
		"/v1/admin/users/abc/role?x=1": "/v1/admin/users/:id/role",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestObserveAuthCounts(t *testing.T) {
	before := counterValue(t, authOperations.WithLabelValues("login", "ok"))
	ObserveAuth("login", "ok")
	ObserveAuth("login", "ok")
	after := counterValue(t, authOperations.WithLabelValues("login", "ok"))
	if after-before != 2 {
		t.Fatalf("expected counter to grow by 2, got %v", after-before)
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/admin/users/:id/role", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/admin/users/u1/role", nil))
	after := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/admin/users/:id/role", "418"))
	if after-before != 1 {
		t.Fatalf("expected one recorded request, got %v", after-before)
	}
}

func TestLoggerCarriesService(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("sessiond", "warn", &buf)
	log.Info("dropped")
	log.Warn("kept", slog.String("k", "v"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected exactly one json line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "sessiond" || line["msg"] != "kept" || line["k"] != "v" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestSetReadyTogglesGauge(t *testing.T) {
	read := func() float64 {
		var m dto.Metric
		if err := readyGauge.Write(&m); err != nil {
			t.Fatalf("write gauge: %v", err)
		}
		return m.GetGauge().GetValue()
	}
	SetReady(true)
	if read() != 1 {
		t.Fatal("expected ready gauge 1")
	}
	SetReady(false)
	if read() != 0 {
		t.Fatal("expected ready gauge 0")
	}
}
