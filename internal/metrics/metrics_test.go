package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRecordAllowed(t *testing.T) {
	m := New()
	m.RecordAllowed(100 * time.Millisecond)
	m.RecordAllowed(200 * time.Millisecond)

	m.mu.Lock()
	if m.allowedCount != 2 {
		t.Errorf("expected 2 allowed, got %d", m.allowedCount)
	}
	m.mu.Unlock()
}

func TestRecordBlocked(t *testing.T) {
	m := New()
	m.RecordBlocked("delete_account", "alignment", 50*time.Millisecond)
	m.RecordBlocked("delete_account", "alignment", 50*time.Millisecond)
	m.RecordBlocked("send_email", "sequence", 30*time.Millisecond)

	m.mu.Lock()
	if m.blockedCount != 3 {
		t.Errorf("expected 3 blocked, got %d", m.blockedCount)
	}
	if m.topBlockedTools["delete_account"] != 2 {
		t.Errorf("expected delete_account=2, got %d", m.topBlockedTools["delete_account"])
	}
	if m.topLayerHits["alignment"] != 2 {
		t.Errorf("expected alignment=2, got %d", m.topLayerHits["alignment"])
	}
	m.mu.Unlock()
}

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.RecordAllowed(100 * time.Millisecond)
	m.RecordBlocked("delete_account", "alignment", 50*time.Millisecond)
	m.RecordSanitizedSpan("HTML_COMMENT")
	m.RecordInjection()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.PrometheusHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	body, _ := io.ReadAll(w.Body)
	text := string(body)

	if !strings.Contains(text, "ronin_calls_total") {
		t.Error("expected ronin_calls_total in /metrics output")
	}
	if !strings.Contains(text, `result="allowed"`) {
		t.Error("expected allowed label in /metrics output")
	}
	if !strings.Contains(text, `result="blocked"`) {
		t.Error("expected blocked label in /metrics output")
	}
	if !strings.Contains(text, "ronin_call_duration_seconds") {
		t.Error("expected ronin_call_duration_seconds in /metrics output")
	}
	if !strings.Contains(text, `ronin_layer_hits_total{layer="alignment"}`) {
		t.Error("expected ronin_layer_hits_total in /metrics output")
	}
	if !strings.Contains(text, `ronin_sanitized_spans_total{category="HTML_COMMENT"}`) {
		t.Error("expected ronin_sanitized_spans_total in /metrics output")
	}
	if !strings.Contains(text, "ronin_injections_detected_total") {
		t.Error("expected ronin_injections_detected_total in /metrics output")
	}
}

func TestStatsHandler(t *testing.T) {
	m := New()
	m.RecordAllowed(100 * time.Millisecond)
	m.RecordAllowed(200 * time.Millisecond)
	m.RecordBlocked("delete_account", "sequence", 50*time.Millisecond)
	m.RecordError(10 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	m.StatsHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	var stats statsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats JSON: %v", err)
	}

	if stats.Calls.Total != 4 {
		t.Errorf("expected total=4, got %d", stats.Calls.Total)
	}
	if stats.Calls.Allowed != 2 {
		t.Errorf("expected allowed=2, got %d", stats.Calls.Allowed)
	}
	if stats.Calls.Blocked != 1 {
		t.Errorf("expected blocked=1, got %d", stats.Calls.Blocked)
	}
	if stats.Calls.Errors != 1 {
		t.Errorf("expected errors=1, got %d", stats.Calls.Errors)
	}
	if stats.UptimeSeconds <= 0 {
		t.Error("expected positive uptime")
	}
	if len(stats.TopBlockedTools) != 1 {
		t.Errorf("expected 1 top blocked tool, got %d", len(stats.TopBlockedTools))
	}
	if len(stats.TopLayers) != 1 {
		t.Errorf("expected 1 top layer, got %d", len(stats.TopLayers))
	}
}

func TestStatsHandler_BlockRate(t *testing.T) {
	m := New()
	m.RecordAllowed(10 * time.Millisecond)
	m.RecordBlocked("send_email", "injection", 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	m.StatsHandler().ServeHTTP(w, req)

	var stats statsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.Calls.BlockRate != 0.5 {
		t.Errorf("expected block_rate=0.5, got %f", stats.Calls.BlockRate)
	}
}

func TestStatsHandler_Empty(t *testing.T) {
	m := New()

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	m.StatsHandler().ServeHTTP(w, req)

	var stats statsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.Calls.Total != 0 {
		t.Errorf("expected total=0, got %d", stats.Calls.Total)
	}
	if stats.Calls.BlockRate != 0 {
		t.Errorf("expected block_rate=0, got %f", stats.Calls.BlockRate)
	}
}

func TestTopToolsCapped(t *testing.T) {
	m := New()
	// Fill to the cap
	for i := 0; i < maxTopEntries; i++ {
		m.RecordBlocked("tool"+string(rune('A'+i%26))+string(rune('0'+i/26)), "alignment", time.Millisecond)
	}

	// This tool should be ignored (cap reached, new key)
	m.RecordBlocked("overflow_tool", "alignment", time.Millisecond)

	m.mu.Lock()
	if len(m.topBlockedTools) > maxTopEntries {
		t.Errorf("expected at most %d tools, got %d", maxTopEntries, len(m.topBlockedTools))
	}
	if _, exists := m.topBlockedTools["overflow_tool"]; exists {
		t.Error("overflow tool should not be tracked after cap")
	}
	m.mu.Unlock()
}

func TestTopToolsExistingKeyStillIncrements(t *testing.T) {
	m := New()
	// Fill to the cap with one tool
	for i := 0; i < maxTopEntries; i++ {
		m.RecordBlocked("same_tool", "alignment", time.Millisecond)
	}
	// Existing key should still increment even after cap
	m.RecordBlocked("same_tool", "alignment", time.Millisecond)

	m.mu.Lock()
	if m.topBlockedTools["same_tool"] != maxTopEntries+1 {
		t.Errorf("expected %d, got %d", maxTopEntries+1, m.topBlockedTools["same_tool"])
	}
	m.mu.Unlock()
}

func TestConcurrentAccess(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			m.RecordAllowed(time.Millisecond)
		}()
		go func() {
			defer wg.Done()
			m.RecordBlocked("x_tool", "sequence", time.Millisecond)
		}()
		go func() {
			defer wg.Done()
			m.RecordSanitizedSpan("BASE64")
		}()
	}
	wg.Wait()

	m.mu.Lock()
	total := m.allowedCount + m.blockedCount
	m.mu.Unlock()

	if total != 200 {
		t.Errorf("expected 200 total, got %d", total)
	}
}

func TestRecordBlocked_MultipleLayers(t *testing.T) {
	m := New()
	m.RecordBlocked("send_email", "alignment", time.Millisecond)
	m.RecordBlocked("send_email", "sequence", time.Millisecond)
	m.RecordBlocked("send_email", "injection", time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.blockedCount != 3 {
		t.Errorf("expected 3 blocked, got %d", m.blockedCount)
	}
	if len(m.topLayerHits) != 3 {
		t.Errorf("expected 3 layer types, got %d", len(m.topLayerHits))
	}
}

func TestTopN_SortedByCount(t *testing.T) {
	m := map[string]int64{
		"low":    1,
		"high":   100,
		"medium": 50,
	}
	result := topN(m)
	if len(result) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(result))
	}
	if result[0].Name != "high" || result[0].Count != 100 {
		t.Errorf("expected high=100 first, got %s=%d", result[0].Name, result[0].Count)
	}
	if result[1].Name != "medium" || result[1].Count != 50 {
		t.Errorf("expected medium=50 second, got %s=%d", result[1].Name, result[1].Count)
	}
}
