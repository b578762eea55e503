package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.IngestTick("stored")
	m.IngestTick("stored")
	m.ObserveFetch(150 * time.Millisecond)
	m.ObserveRequest("/api/login", "POST", 200, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	if !strings.Contains(text, `smartmeter_ingest_ticks_total{outcome="stored"} 2`) {
		t.Fatalf("expected ingest counter in output")
	}
	if !strings.Contains(text, `smartmeter_http_requests_total{method="POST",route="/api/login",status="200"} 1`) {
		t.Fatalf("expected http counter in output")
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.IngestTick("stored")
	m.ObserveFetch(time.Second)
	m.ObserveRequest("/", "GET", 200, time.Second)
}
