// Package metrics provides Prometheus instrumentation and a JSON stats
// endpoint for the Ronin defense proxy.
package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxTopEntries = 100

// Metrics collects Prometheus counters and histograms for the defense
// pipeline.
type Metrics struct {
	registry *prometheus.Registry

	callsTotal     *prometheus.CounterVec
	layerHits      *prometheus.CounterVec
	sanitizedSpans *prometheus.CounterVec
	injections     prometheus.Counter
	callLatency    prometheus.Histogram

	mu              sync.Mutex
	startTime       time.Time
	topBlockedTools map[string]int64
	topLayerHits    map[string]int64
	allowedCount    int64
	blockedCount    int64
	errorCount      int64
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	callsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ronin",
		Name:      "calls_total",
		Help:      "Total number of intercepted tool calls by result.",
	}, []string{"result"})

	layerHits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ronin",
		Name:      "layer_hits_total",
		Help:      "Total vetoes by defense layer.",
	}, []string{"layer"})

	sanitizedSpans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ronin",
		Name:      "sanitized_spans_total",
		Help:      "Total payload spans stripped from responses by category.",
	}, []string{"category"})

	injections := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ronin",
		Name:      "injections_detected_total",
		Help:      "Total responses in which injection patterns were detected.",
	})

	callLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ronin",
		Name:      "call_duration_seconds",
		Help:      "End-to-end tool call latency in seconds, defense layers included.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	reg.MustRegister(callsTotal, layerHits, sanitizedSpans, injections, callLatency)

	return &Metrics{
		registry:        reg,
		callsTotal:      callsTotal,
		layerHits:       layerHits,
		sanitizedSpans:  sanitizedSpans,
		injections:      injections,
		callLatency:     callLatency,
		startTime:       time.Now(),
		topBlockedTools: make(map[string]int64),
		topLayerHits:    make(map[string]int64),
	}
}

// RecordAllowed records a tool call that passed all checks and completed.
func (m *Metrics) RecordAllowed(duration time.Duration) {
	m.callsTotal.WithLabelValues("allowed").Inc()
	m.callLatency.Observe(duration.Seconds())

	m.mu.Lock()
	m.allowedCount++
	m.mu.Unlock()
}

// RecordBlocked records a tool call vetoed before dispatch, with the tool
// name and the layer that vetoed it.
func (m *Metrics) RecordBlocked(tool, layer string, duration time.Duration) {
	m.callsTotal.WithLabelValues("blocked").Inc()
	m.layerHits.WithLabelValues(layer).Inc()
	m.callLatency.Observe(duration.Seconds())

	m.mu.Lock()
	m.blockedCount++
	if len(m.topBlockedTools) < maxTopEntries {
		m.topBlockedTools[tool]++
	} else if _, exists := m.topBlockedTools[tool]; exists {
		m.topBlockedTools[tool]++
	}
	if len(m.topLayerHits) < maxTopEntries {
		m.topLayerHits[layer]++
	} else if _, exists := m.topLayerHits[layer]; exists {
		m.topLayerHits[layer]++
	}
	m.mu.Unlock()
}

// RecordError records a backend execution failure.
func (m *Metrics) RecordError(duration time.Duration) {
	m.callsTotal.WithLabelValues("error").Inc()
	m.callLatency.Observe(duration.Seconds())

	m.mu.Lock()
	m.errorCount++
	m.mu.Unlock()
}

// RecordSanitizedSpan records one stripped payload span by category.
func (m *Metrics) RecordSanitizedSpan(category string) {
	m.sanitizedSpans.WithLabelValues(category).Inc()
}

// RecordInjection records a response in which injection patterns were found.
func (m *Metrics) RecordInjection() {
	m.injections.Inc()
}

// PrometheusHandler returns an HTTP handler that serves /metrics in Prometheus text format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatsHandler returns an HTTP handler that serves a JSON stats summary.
func (m *Metrics) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		total := m.allowedCount + m.blockedCount + m.errorCount
		stats := statsResponse{
			UptimeSeconds: time.Since(m.startTime).Seconds(),
			Calls: callStats{
				Total:   total,
				Allowed: m.allowedCount,
				Blocked: m.blockedCount,
				Errors:  m.errorCount,
			},
			TopBlockedTools: topN(m.topBlockedTools),
			TopLayers:       topN(m.topLayerHits),
		}
		if total > 0 {
			stats.Calls.BlockRate = float64(m.blockedCount) / float64(total)
		}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

type statsResponse struct {
	UptimeSeconds   float64       `json:"uptime_seconds"`
	Calls           callStats     `json:"calls"`
	TopBlockedTools []rankedEntry `json:"top_blocked_tools"`
	TopLayers       []rankedEntry `json:"top_layers"`
}

type callStats struct {
	Total     int64   `json:"total"`
	Allowed   int64   `json:"allowed"`
	Blocked   int64   `json:"blocked"`
	Errors    int64   `json:"errors"`
	BlockRate float64 `json:"block_rate"`
}

type rankedEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func topN(m map[string]int64) []rankedEntry {
	entries := make([]rankedEntry, 0, len(m))
	for name, count := range m {
		entries = append(entries, rankedEntry{Name: name, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	return entries
}
