package observ

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestCanonLabels(t *testing.T) {
	a := canonLabels(map[string]string{"b": "2", "a": "1"})
	b := canonLabels(map[string]string{"a": "1", "b": "2"})
	if a != b || a != "a=1,b=2" {
		t.Fatalf("labels not canonical: %q vs %q", a, b)
	}
	if canonLabels(nil) != "" {
		t.Fatal("nil labels should canonicalize empty")
	}
}

func TestCountersAndGauges(t *testing.T) {
	IncCounter("test_requests_total", map[string]string{"outcome": "ok"})
	IncCounterBy("test_requests_total", map[string]string{"outcome": "ok"}, 2)
	SetGauge("test_depth", 7, nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	var dump struct {
		Counters map[string]map[string]int64   `json:"counters"`
		Gauges   map[string]map[string]float64 `json:"gauges"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &dump); err != nil {
		t.Fatalf("decode metrics dump: %v", err)
	}
	if dump.Counters["test_requests_total"]["outcome=ok"] != 3 {
		t.Fatalf("counter: %v", dump.Counters["test_requests_total"])
	}
	if dump.Gauges["test_depth"][""] != 7 {
		t.Fatalf("gauge: %v", dump.Gauges["test_depth"])
	}
}

func TestHealthStatusFor(t *testing.T) {
	if got := healthStatusFor(HealthMetrics{}); got != "healthy" {
		t.Fatalf("empty metrics: %s", got)
	}
	if got := healthStatusFor(HealthMetrics{TicksTotal: 10, LastTickAgeSecs: 60}); got != "failed" {
		t.Fatalf("stalled simulator: %s", got)
	}
	if got := healthStatusFor(HealthMetrics{TickLatencyP95Ms: 900}); got != "degraded" {
		t.Fatalf("slow ticks: %s", got)
	}
	if got := healthStatusFor(HealthMetrics{EvaluatorRuns: 4, EvaluatorFailures: 3}); got != "degraded" {
		t.Fatalf("failing evaluator: %s", got)
	}
	if got := healthStatusFor(HealthMetrics{TicksTotal: 10, LastTickAgeSecs: 5}); got != "healthy" {
		t.Fatalf("fresh ticks: %s", got)
	}
}
