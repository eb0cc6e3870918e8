package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64
	gauges   map[string]map[string]float64
	hist     map[string]map[string][]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
	hist:     map[string]map[string][]float64{},
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1)
}

func IncCounterBy(name string, labels map[string]string, value int64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)] += value
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	m[k] = append(m[k], value)
}

// RecordDuration records a duration as a millisecond histogram sample.
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// Basic text/JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus summarizes simulator and evaluator health.
type HealthStatus struct {
	Status    string        `json:"status"` // "healthy", "degraded", "failed"
	Timestamp string        `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Version   string        `json:"version"`
	Metrics   HealthMetrics `json:"metrics"`
}

// HealthMetrics holds the key signals for the health endpoint.
type HealthMetrics struct {
	TickLatencyP95Ms  int64   `json:"tick_latency_p95_ms"`  // P95 simulator tick duration
	LastTickAgeSecs   float64 `json:"last_tick_age_secs"`   // Seconds since last completed tick
	TicksTotal        int64   `json:"ticks_total"`          // Completed simulator ticks
	ValuationFailures int64   `json:"valuation_failures"`   // Dropped batched valuation writes
	EvaluatorRuns     int64   `json:"evaluator_runs"`       // Plan evaluator executions
	EvaluatorFailures int64   `json:"evaluator_failures"`   // Plan evaluator failed executions
	AnalystBudgetUsed int     `json:"analyst_budget_used"`  // Analyst API requests used today
	AnalystBudgetCap  int     `json:"analyst_budget_cap"`   // Daily analyst API request cap
}

var (
	startTime = time.Now()
	version   = "dev" // Set via build flags
)

// SetVersion sets the version string for health reports.
func SetVersion(v string) {
	version = v
}

// HealthHandler reports simulator/evaluator health with an HTTP status
// mirroring the overall state.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		m := collectHealthMetrics()
		reg.mu.Unlock()

		health := HealthStatus{
			Status:    healthStatusFor(m),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Version:   version,
			Metrics:   m,
		}

		statusCode := http.StatusOK
		switch health.Status {
		case "degraded":
			statusCode = http.StatusPartialContent
		case "failed":
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	})
}

func collectHealthMetrics() HealthMetrics {
	m := HealthMetrics{}

	m.TickLatencyP95Ms = int64(histP95("sim_tick_latency_ms"))

	if lastTick, ok := firstGauge("sim_last_tick_unix"); ok && lastTick > 0 {
		m.LastTickAgeSecs = time.Since(time.Unix(int64(lastTick), 0)).Seconds()
	}

	m.TicksTotal = sumCounter("sim_ticks_total")
	m.ValuationFailures = sumCounter("sim_valuation_write_failures_total")
	m.EvaluatorRuns = sumCounter("plan_evaluations_total")
	m.EvaluatorFailures = sumCounter("plan_evaluation_failures_total")

	if used, ok := firstGauge("analyst_budget_used"); ok {
		m.AnalystBudgetUsed = int(used)
	}
	if cap, ok := firstGauge("analyst_budget_cap"); ok {
		m.AnalystBudgetCap = int(cap)
	}

	return m
}

func healthStatusFor(m HealthMetrics) string {
	// A simulator that stopped ticking is a failure once it has ever ticked.
	if m.TicksTotal > 0 && m.LastTickAgeSecs > 30 {
		return "failed"
	}
	if m.TickLatencyP95Ms > 500 {
		return "degraded"
	}
	if m.EvaluatorRuns > 0 && float64(m.EvaluatorFailures)/float64(m.EvaluatorRuns) > 0.5 {
		return "degraded"
	}
	return "healthy"
}

// callers must hold reg.mu
func sumCounter(name string) int64 {
	var total int64
	for _, count := range reg.counters[name] {
		total += count
	}
	return total
}

// callers must hold reg.mu
func firstGauge(name string) (float64, bool) {
	for _, v := range reg.gauges[name] {
		return v, true
	}
	return 0, false
}

// callers must hold reg.mu
func histP95(name string) float64 {
	for _, samples := range reg.hist[name] {
		if len(samples) == 0 {
			continue
		}
		sorted := make([]float64, len(samples))
		copy(sorted, samples)
		sort.Float64s(sorted)
		i := int(float64(len(sorted)) * 0.95)
		if i >= len(sorted) {
			i = len(sorted) - 1
		}
		return sorted[i]
	}
	return 0
}

// Simple health handler (liveness only)
func Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
