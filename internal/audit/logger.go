// Package audit provides structured JSON audit logging for all Ronin events.
package audit

import (
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// sanitizeString strips control characters and ANSI escape sequences from a
// string before logging. Prevents terminal escape injection via crafted tool
// output (e.g., \x1b[2J to clear screen when tailing audit logs).
func sanitizeString(s string) string {
	// Fast path: most strings have no control characters.
	clean := true
	for _, r := range s {
		if r != '\t' && r != '\n' && (unicode.IsControl(r) || r == '\x1b') {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for _, r := range s {
		if inEscape {
			// ANSI escape sequences end with a letter (A-Z, a-z).
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				inEscape = false
			}
			continue
		}
		if r == '\x1b' {
			inEscape = true
			continue
		}
		if r != '\t' && r != '\n' && unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EventType describes the kind of audit event.
type EventType string

// Event type constants for structured audit log entries.
const (
	EventAllowed         EventType = "allowed"
	EventBlocked         EventType = "blocked"
	EventError           EventType = "error"
	EventSanitized       EventType = "sanitized"
	EventInjection       EventType = "injection"
	EventSequenceAnomaly EventType = "sequence_anomaly"
	EventConfigReload    EventType = "config_reload"
)

// Logger handles structured audit logging using zerolog.
type Logger struct {
	zl             zerolog.Logger
	includeAllowed bool
	fileHandle     *os.File // non-nil if logging to file
}

// New creates a new audit logger. The caller should call Close when done.
func New(format, output, filePath string, includeAllowed bool) (*Logger, error) {
	var writers []io.Writer

	if output == "stderr" || output == "both" {
		if format == "text" {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, os.Stderr)
		}
	}

	var fileHandle *os.File
	if output == "file" || output == "both" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path validated by config layer
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
		fileHandle = f
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(w).With().
		Timestamp().
		Str("component", "ronin").
		Logger()

	return &Logger{
		zl:             zl,
		includeAllowed: includeAllowed,
		fileHandle:     fileHandle,
	}, nil
}

// NewNop returns a no-op logger that discards all events.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// NewWriter returns a logger writing JSON events to w. Used by tests to
// capture audit output.
func NewWriter(w io.Writer) *Logger {
	return &Logger{
		zl:             zerolog.New(w).With().Timestamp().Str("component", "ronin").Logger(),
		includeAllowed: true,
	}
}

// LogAllowed logs a tool call that passed all pre-dispatch checks and completed.
func (l *Logger) LogAllowed(tool, requestID string, alignmentScore float64, duration time.Duration) {
	if !l.includeAllowed {
		return
	}
	l.zl.Info().
		Str("event", string(EventAllowed)).
		Str("tool", sanitizeString(tool)).
		Str("request_id", requestID).
		Float64("alignment_score", alignmentScore).
		Dur("duration_ms", duration).
		Msg("tool call allowed")
}

// LogBlocked logs a tool call vetoed before dispatch, with the layer that
// vetoed it and the reason.
func (l *Logger) LogBlocked(tool, layer, reason, requestID string) {
	l.zl.Warn().
		Str("event", string(EventBlocked)).
		Str("tool", sanitizeString(tool)).
		Str("layer", layer).
		Str("reason", sanitizeString(reason)).
		Str("request_id", requestID).
		Msg("tool call blocked")
}

// LogError logs a backend execution failure.
func (l *Logger) LogError(tool, requestID string, err error) {
	l.zl.Error().
		Str("event", string(EventError)).
		Str("tool", sanitizeString(tool)).
		Str("request_id", requestID).
		Err(err).
		Msg("tool execution failed")
}

// LogSanitizedSpan logs one stripped payload span. Fired exactly once per
// matched span, before removal — this is the sanitizer's audit trail.
func (l *Logger) LogSanitizedSpan(source, category string, length int, snippet string) {
	l.zl.Warn().
		Str("event", string(EventSanitized)).
		Str("source", sanitizeString(source)).
		Str("category", category).
		Int("length", length).
		Str("snippet", sanitizeString(snippet)).
		Msg("payload span stripped")
}

// LogInjection logs a response in which injection patterns were detected.
func (l *Logger) LogInjection(tool, requestID string, patterns []string, instructionScore float64) {
	l.zl.Warn().
		Str("event", string(EventInjection)).
		Str("tool", sanitizeString(tool)).
		Str("request_id", requestID).
		Strs("patterns", patterns).
		Float64("instruction_score", instructionScore).
		Msg("injection patterns detected in response")
}

// LogSequenceAnomaly logs a call vetoed by the sequence tracker.
func (l *Logger) LogSequenceAnomaly(tool, reason, requestID string) {
	l.zl.Warn().
		Str("event", string(EventSequenceAnomaly)).
		Str("tool", sanitizeString(tool)).
		Str("reason", sanitizeString(reason)).
		Str("request_id", requestID).
		Msg("suspicious call sequence")
}

// LogConfigReload logs a configuration reload event.
func (l *Logger) LogConfigReload(status, detail string) {
	l.zl.Info().
		Str("event", string(EventConfigReload)).
		Str("status", status).
		Str("detail", detail).
		Msg("configuration reloaded")
}

// LogStartup logs that the proxy has started.
func (l *Logger) LogStartup(upstream string) {
	l.zl.Info().
		Str("event", "startup").
		Str("upstream", sanitizeString(upstream)).
		Msg("ronin started")
}

// LogShutdown logs that the proxy is shutting down.
func (l *Logger) LogShutdown(reason string) {
	l.zl.Info().
		Str("event", "shutdown").
		Str("reason", reason).
		Msg("ronin stopping")
}

// With returns a sub-logger that includes the given key-value pair in every
// log entry. The sub-logger shares the parent's file handle — only the root
// logger should be Close()'d.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		zl:             l.zl.With().Str(key, value).Logger(),
		includeAllowed: l.includeAllowed,
	}
}

// Close cleans up the logger, flushing and closing any open file handles.
// Idempotent.
func (l *Logger) Close() {
	if l.fileHandle != nil {
		_ = l.fileHandle.Sync()
		_ = l.fileHandle.Close()
		l.fileHandle = nil
	}
}
