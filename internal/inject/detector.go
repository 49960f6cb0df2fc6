// Package inject detects prompt-injection phrasing in tool responses and
// neutralizes it by demoting imperative text to quoted, attributed data.
// Detection is pattern-based and deliberately cheap: one hit is tolerated as
// a potential false positive, two or more distinct hits is treated as intent.
package inject

import (
	"regexp"
	"strings"

	"github.com/roninproxy/ronin/internal/normalize"
)

// minDetectLen is the minimum trimmed text length worth scanning. Anything
// shorter cannot carry a meaningful injection.
const minDetectLen = 10

// minDistinctMatches is the number of distinct pattern hits required to flag
// text as suspicious.
const minDistinctMatches = 2

// Pattern is one named detection regex.
type Pattern struct {
	ID    string
	Regex string
}

// Library groups patterns into the four detection families. Only the
// Authority and Command families are rewritten during neutralization; the
// other two contribute to detection and are left untouched.
type Library struct {
	Authority        []Pattern // false authority-claim markers ("SYSTEM:", "OVERRIDE")
	Command          []Pattern // directive phrasing aimed at the consumer
	ToolManipulation []Pattern // attempts to steer further tool invocations
	FalseClaim       []Pattern // fabricated lockout/denial statements
}

// DefaultLibrary returns the built-in pattern library.
func DefaultLibrary() Library {
	return Library{
		Authority: []Pattern{
			{ID: "authority_prefix", Regex: `\b(SYSTEM|CRITICAL|IMPORTANT|ADMIN|SECURITY ALERT|WARNING|ERROR)\s*:`},
			{ID: "authority_keyword", Regex: `\b(OVERRIDE|EMERGENCY|URGENT)\b`},
		},
		Command: []Pattern{
			{ID: "command_directive", Regex: `\b(you must|you should|you need to|do not|never tell|always respond)\b`},
			{ID: "command_reset", Regex: `\b(ignore previous|forget|from now on|your new role)\b`},
			{ID: "command_relay", Regex: `\b(tell the user|inform the user|say that|respond with)\b`},
		},
		ToolManipulation: []Pattern{
			{ID: "tool_invoke", Regex: `\b(call|invoke|use|execute)\s+\w+\s+(tool|function)`},
			{ID: "tool_name_token", Regex: `\btool_name\s*[=:]`},
		},
		FalseClaim: []Pattern{
			{ID: "claim_lockout", Regex: `\b(security compromised|access denied|account locked|disabled|suspended)\b`},
			{ID: "claim_denial", Regex: `\b(you cannot|you can't|unable to|forbidden)\b`},
		},
	}
}

type compiled struct {
	id string
	re *regexp.Regexp
}

// Detector matches a compiled pattern library against response text.
// Detect is a pure function of its input; construct once and share.
type Detector struct {
	authority []compiled
	command   []compiled
	all       []compiled
}

// NewDetector compiles the default pattern library.
func NewDetector() *Detector {
	d, err := NewDetectorWithLibrary(DefaultLibrary())
	if err != nil {
		// The built-in library is covered by tests; a compile failure here
		// is a programming error.
		panic("inject: default library failed to compile: " + err.Error())
	}
	return d
}

// NewDetectorWithLibrary compiles a custom pattern library. All patterns are
// forced case-insensitive. Returns an error on the first invalid regex.
func NewDetectorWithLibrary(lib Library) (*Detector, error) {
	d := &Detector{}

	compile := func(ps []Pattern) ([]compiled, error) {
		out := make([]compiled, 0, len(ps))
		for _, p := range ps {
			regex := p.Regex
			if !strings.HasPrefix(regex, "(?i)") {
				regex = "(?i)" + regex
			}
			re, err := regexp.Compile(regex)
			if err != nil {
				return nil, err
			}
			out = append(out, compiled{id: p.ID, re: re})
		}
		return out, nil
	}

	var err error
	if d.authority, err = compile(lib.Authority); err != nil {
		return nil, err
	}
	if d.command, err = compile(lib.Command); err != nil {
		return nil, err
	}
	tool, err := compile(lib.ToolManipulation)
	if err != nil {
		return nil, err
	}
	claim, err := compile(lib.FalseClaim)
	if err != nil {
		return nil, err
	}

	d.all = append(d.all, d.authority...)
	d.all = append(d.all, d.command...)
	d.all = append(d.all, tool...)
	d.all = append(d.all, claim...)
	return d, nil
}

// Detect scans text for injection patterns and returns whether it is
// suspicious along with the IDs of every matched pattern. Text under 10
// trimmed characters is never flagged. Matching runs against a normalized
// copy so zero-width and homoglyph evasion does not blind the patterns.
func (d *Detector) Detect(text string) (bool, []string) {
	if len(strings.TrimSpace(text)) < minDetectLen {
		return false, nil
	}

	scanText := normalize.ForScan(text)

	var matched []string
	for _, p := range d.all {
		if p.re.MatchString(scanText) {
			matched = append(matched, p.id)
		}
	}

	return len(matched) >= minDistinctMatches, matched
}

// Neutralize rewrites authority-claim and directive matches in text into
// quoted, attributed forms. The text is rewritten, never truncated — the goal
// is to deny imperative phrasing its syntactic shape while keeping an audit
// trail of what the response actually said. Idempotent on match-free text.
func (d *Detector) Neutralize(text string) string {
	if text == "" {
		return text
	}

	result := text
	for _, p := range d.authority {
		result = p.re.ReplaceAllString(result, `[Content claims: "${1}":]`)
	}
	for _, p := range d.command {
		result = p.re.ReplaceAllString(result, `["${1}"]`)
	}
	return result
}
