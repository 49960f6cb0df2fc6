// Package sanitize strips covert-channel payloads from tool response text:
// HTML comments (a classic hiding spot for injected instructions) and long
// base64 runs (encoded payloads a downstream model might decode and obey).
package sanitize

import (
	"regexp"

	"github.com/roninproxy/ronin/internal/audit"
)

// Span categories reported in audit events and metrics.
const (
	CategoryHTMLComment = "HTML_COMMENT"
	CategoryBase64      = "BASE64"
)

// snippetLen caps the audit-log preview of a stripped span.
const snippetLen = 40

var (
	// (?s) so comments spanning multiple lines are caught whole.
	htmlCommentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	// 20+ base64 alphabet chars with optional padding. Short runs are left
	// alone; they are far more likely to be identifiers than payloads.
	base64Re = regexp.MustCompile(`(?:[A-Za-z0-9+/]{20,})={0,2}`)
)

// Span describes one stripped payload for audit, metrics, and persistence.
type Span struct {
	Category string
	Length   int
	Snippet  string
}

// Sanitizer removes hidden-payload spans from response text, logging each
// stripped span before removal.
type Sanitizer struct {
	audit  *audit.Logger
	onSpan func(category string) // optional metrics hook
}

// New returns a Sanitizer that reports stripped spans to log. onSpan, if
// non-nil, is invoked once per stripped span with its category.
func New(log *audit.Logger, onSpan func(category string)) *Sanitizer {
	if log == nil {
		log = audit.NewNop()
	}
	return &Sanitizer{audit: log, onSpan: onSpan}
}

// Sanitize removes HTML comments and long base64 runs from text. Returns the
// cleaned text and whether anything was removed.
func (s *Sanitizer) Sanitize(text, sourceLabel string) (string, bool) {
	clean, spans := s.SanitizeSpans(text, sourceLabel)
	return clean, len(spans) > 0
}

// SanitizeSpans removes HTML comments and long base64 runs from text and
// returns the stripped spans. Every removed span fires exactly one audit
// event carrying the source label, the span category, its length, and a
// short snippet.
func (s *Sanitizer) SanitizeSpans(text, sourceLabel string) (string, []Span) {
	if text == "" {
		return text, nil
	}

	var spans []Span

	strip := func(in string, re *regexp.Regexp, category string) string {
		return re.ReplaceAllStringFunc(in, func(span string) string {
			spans = append(spans, Span{Category: category, Length: len(span), Snippet: snippet(span)})
			s.audit.LogSanitizedSpan(sourceLabel, category, len(span), snippet(span))
			if s.onSpan != nil {
				s.onSpan(category)
			}
			return ""
		})
	}

	// HTML comments first: base64 payloads are often hidden inside them, and
	// stripping the comment removes both in a single HTML_COMMENT event.
	clean := strip(text, htmlCommentRe, CategoryHTMLComment)
	clean = strip(clean, base64Re, CategoryBase64)

	return clean, spans
}

func snippet(s string) string {
	runes := []rune(s)
	if len(runes) <= snippetLen {
		return s
	}
	return string(runes[:snippetLen])
}
