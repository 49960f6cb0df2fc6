// Package alignment scores tool calls against the caller's apparent intent
// using lexical token overlap. The score is a cheap heuristic, not a semantic
// classifier: it measures what fraction of the intent vocabulary is echoed by
// the tool's name and description.
package alignment

import (
	"sort"
	"strings"
)

// DefaultThreshold is the minimum alignment score required to allow a call
// when a candidate intent text is present.
const DefaultThreshold = 0.12

// minCandidateLen is the minimum trimmed length for an argument string to be
// considered natural-language intent rather than an identifier or path.
const minCandidateLen = 20

// stopwords are dropped during tokenization. Small and fixed on purpose —
// this is vocabulary-overlap scoring, not NLP.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "to": {}, "of": {}, "for": {}, "and": {},
	"or": {}, "in": {}, "on": {}, "with": {}, "from": {}, "by": {}, "is": {},
	"are": {}, "be": {}, "this": {}, "that": {}, "it": {}, "as": {}, "at": {},
	"your": {}, "you": {}, "i": {}, "we": {}, "our": {}, "us": {}, "me": {},
}

// payloadKeys are argument names whose values carry content rather than
// intent (file bodies, HTML, raw data). Excluded from candidate extraction
// so a tool call writing a long document is not scored against the document.
var payloadKeys = map[string]struct{}{
	"body": {}, "content": {}, "data": {}, "payload": {}, "html": {}, "text": {},
}

// Result carries the outcome of an alignment evaluation.
type Result struct {
	Allow bool
	Score float64
}

// Evaluate scores a tool call against the intent text extracted from its
// arguments. Absent or unjudgeable intent fails open (allow, score 1.0);
// a tool with no usable name or description tokens fails closed (block,
// score 0.0) — a nameless tool cannot be judged aligned.
// Pure function of its inputs; never errors.
func Evaluate(arguments map[string]any, toolName, toolDescription string, threshold float64) Result {
	candidate, ok := CandidateIntentText(arguments)
	if !ok {
		return Result{Allow: true, Score: 1.0}
	}

	intentTokens := Tokenize(candidate)
	if len(intentTokens) == 0 {
		return Result{Allow: true, Score: 1.0}
	}

	toolText := toolName
	if toolDescription != "" {
		toolText += " " + toolDescription
	}
	toolTokens := Tokenize(toolText)
	if len(toolTokens) == 0 {
		return Result{Allow: false, Score: 0.0}
	}

	overlap := 0
	for t := range intentTokens {
		if _, ok := toolTokens[t]; ok {
			overlap++
		}
	}

	score := float64(overlap) / float64(len(intentTokens))
	return Result{Allow: score >= threshold, Score: score}
}

// CandidateIntentText extracts the best guess at the caller's natural-language
// intent from the argument map: the longest trimmed top-level string value of
// at least 20 characters containing a space, skipping payload-carrying keys.
// Ties break by sorted key order so extraction is deterministic; Go map
// iteration order is random.
func CandidateIntentText(arguments map[string]any) (string, bool) {
	keys := make([]string, 0, len(arguments))
	for k := range arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best := ""
	for _, k := range keys {
		if _, skip := payloadKeys[strings.ToLower(k)]; skip {
			continue
		}
		s, ok := arguments[k].(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if len(s) < minCandidateLen || !strings.Contains(s, " ") {
			continue
		}
		if len(s) > len(best) {
			best = s
		}
	}

	if best == "" {
		return "", false
	}
	return best, true
}

// Tokenize lowercases text, extracts maximal alphanumeric runs, and drops
// short tokens and stopwords. Returns a set for O(1) overlap checks.
func Tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var b strings.Builder

	flush := func() {
		if b.Len() > 2 {
			tok := b.String()
			if _, stop := stopwords[tok]; !stop {
				tokens[tok] = struct{}{}
			}
		}
		b.Reset()
	}

	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()

	return tokens
}
