// Package sequence tracks the rolling history of tool calls and flags
// call shapes typical of injected-payload escalation: rapid bursts after a
// read, and read-to-action pivots. Detection is heuristic and fails open —
// the tracker only ever vetoes, it never errors.
package sequence

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Defaults for the rolling history bound and the trailing window that scopes
// "recent" calls.
const (
	DefaultMaxHistory  = 10
	DefaultBurstWindow = 5 * time.Second
)

// readKeywords classify a tool as a read/retrieval operation when any of them
// appears (case-insensitively) in the tool name. Everything else is treated
// as a write/action operation.
var readKeywords = []string{
	"get", "read", "fetch", "retrieve", "list", "show", "view",
	"download", "load", "query", "search", "find",
}

// Record is one completed tool call in the history.
type Record struct {
	Name      string
	Timestamp time.Time
	IsRead    bool
}

// Tracker holds a bounded FIFO history of completed tool calls, shared across
// all calls flowing through one pipeline. All methods are safe for concurrent
// use; check-then-record races between concurrent calls are accepted (stale
// anomaly judgments are tolerable, a corrupted history is not).
type Tracker struct {
	mu          sync.Mutex
	maxHistory  int
	burstWindow time.Duration
	history     []Record

	// now is stubbed in tests.
	now func() time.Time
}

// NewTracker creates a Tracker with the given history bound and burst window.
// Non-positive values fall back to the defaults.
func NewTracker(maxHistory int, burstWindow time.Duration) *Tracker {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if burstWindow <= 0 {
		burstWindow = DefaultBurstWindow
	}
	return &Tracker{
		maxHistory:  maxHistory,
		burstWindow: burstWindow,
		now:         time.Now,
	}
}

// Record appends a completed call to the history, evicting the oldest record
// when the bound is exceeded. Callers record only after the backend returned
// successfully — blocked and failed calls never enter history.
func (t *Tracker) Record(toolName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, Record{
		Name:      toolName,
		Timestamp: t.now(),
		IsRead:    IsReadOperation(toolName),
	})
	if len(t.history) > t.maxHistory {
		t.history = t.history[1:]
	}
}

// Len returns the current history length.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history)
}

// Oldest returns the oldest record in history, if any.
func (t *Tracker) Oldest() (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) == 0 {
		return Record{}, false
	}
	return t.history[0], true
}

// CheckSuspicious reports whether dispatching nextToolName now would complete
// a suspicious sequence, with a human-readable reason. Two rules, both scoped
// to calls inside the trailing burst window:
//
//  1. Burst-after-read: the most recent record is a read and at least 3 calls
//     landed inside the window. A single read followed by a rapid flurry
//     suggests automated exfiltration rather than human pacing.
//  2. Read-to-action escalation: the last two windowed records are (read,
//     action) and the proposed call is also an action.
//
// Fewer than 2 records in history always passes. Rule 2 deliberately does not
// fire when the proposed call is itself a read, even after a read-write-write
// history — matching the long-standing shape of this check.
func (t *Tracker) CheckSuspicious(nextToolName string) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.history) < 2 {
		return false, ""
	}

	now := t.now()
	var recent []Record
	for _, r := range t.history {
		if now.Sub(r.Timestamp) < t.burstWindow {
			recent = append(recent, r)
		}
	}

	if len(recent) >= 3 && t.history[len(t.history)-1].IsRead {
		return true, fmt.Sprintf("rapid burst of %d tool calls after read operation", len(recent))
	}

	if len(recent) >= 2 {
		a, b := recent[len(recent)-2], recent[len(recent)-1]
		if a.IsRead && !b.IsRead && !IsReadOperation(nextToolName) {
			return true, "escalation from read to multiple action operations"
		}
	}

	return false, ""
}

// IsReadOperation classifies a tool name as a read/retrieval operation by
// keyword containment.
func IsReadOperation(toolName string) bool {
	lower := strings.ToLower(toolName)
	for _, kw := range readKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
