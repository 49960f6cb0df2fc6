// Package alert pushes high-signal defense events (blocked calls, injection
// detections) to external systems. Delivery is fire-and-forget: an alerting
// failure must never slow down or fail a tool call.
package alert

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Severity ranks an event's urgency.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// ParseSeverity converts a config string to a Severity, case-insensitive.
// Unrecognized values map to SeverityInfo.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "warn":
		return SeverityWarn
	case "critical":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Event types emitted by the pipeline.
const (
	TypeBlocked         = "blocked"
	TypeSequenceAnomaly = "sequence_anomaly"
	TypeInjection       = "injection"
	TypeError           = "error"
)

// eventSeverity maps event types to a fixed severity. Operators tune the
// emission threshold, not the ranking.
var eventSeverity = map[string]Severity{
	TypeBlocked:         SeverityCritical,
	TypeSequenceAnomaly: SeverityCritical,
	TypeInjection:       SeverityWarn,
	TypeError:           SeverityWarn,
}

// Event is one defense verdict prepared for external emission.
type Event struct {
	Severity  Severity
	Type      string
	Timestamp time.Time
	Instance  string
	Fields    map[string]any
}

// DefaultInstance returns the hostname, or "ronin" when unavailable.
func DefaultInstance() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "ronin"
}

// Sink delivers events to one external system. Implementations must be safe
// for concurrent use and must filter by their own minimum severity.
type Sink interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

// Emitter fans events out to its sinks. A nil *Emitter is a no-op, so callers
// never need to branch on whether alerting is configured.
type Emitter struct {
	mu       sync.RWMutex
	sinks    []Sink
	instance string
}

// NewEmitter builds an emitter over the given sinks.
func NewEmitter(instance string, sinks ...Sink) *Emitter {
	return &Emitter{
		sinks:    append([]Sink(nil), sinks...),
		instance: instance,
	}
}

// Emit sends an event to every sink. Sink errors are reported on stderr and
// otherwise ignored.
func (e *Emitter) Emit(ctx context.Context, eventType string, fields map[string]any) {
	if e == nil {
		return
	}

	sev, ok := eventSeverity[eventType]
	if !ok {
		sev = SeverityInfo
	}

	var copied map[string]any
	if fields != nil {
		copied = make(map[string]any, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
	}

	event := Event{
		Severity:  sev,
		Type:      eventType,
		Timestamp: time.Now(),
		Instance:  e.instance,
		Fields:    copied,
	}

	e.mu.RLock()
	sinks := e.sinks
	e.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Emit(ctx, event); err != nil {
			fmt.Fprintf(os.Stderr, "alert: sink error (event=%s): %v\n", eventType, err)
		}
	}
}

// Close closes all sinks and returns the first error encountered.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}

	e.mu.Lock()
	sinks := e.sinks
	e.sinks = nil
	e.mu.Unlock()

	var firstErr error
	for _, s := range sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
