// Package normalize provides the Unicode normalization pipeline applied to
// text before injection pattern matching. Patterns match ASCII phrases, so
// zero-width characters, compatibility forms, and cross-script homoglyphs
// must be folded away first or a response can trivially evade detection.
package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// confusableMap folds non-Latin characters that are visually identical to
// Latin letters. NFKC does not handle cross-script confusables — Cyrillic а
// (U+0430) stays as а. Not exhaustive; focused on characters that appear in
// English-language injection phrases ("ignore", "system", "execute").
var confusableMap = map[rune]rune{
	// Cyrillic uppercase → Latin
	'А': 'A', 'В': 'B', 'С': 'C', 'Е': 'E',
	'Н': 'H', 'І': 'I', 'К': 'K', 'М': 'M',
	'О': 'O', 'Р': 'P', 'Ѕ': 'S', 'Т': 'T', 'Х': 'X',
	// Cyrillic lowercase → Latin
	'а': 'a', 'е': 'e', 'і': 'i', 'к': 'k',
	'о': 'o', 'р': 'p', 'с': 'c', 'т': 't',
	'у': 'y', 'х': 'x', 'ѕ': 's',
	// Greek uppercase → Latin
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Η': 'H',
	'Ι': 'I', 'Κ': 'K', 'Μ': 'M', 'Ν': 'N',
	'Ο': 'O', 'Ρ': 'P', 'Τ': 'T', 'Υ': 'Y', 'Χ': 'X',
	// Greek lowercase → Latin
	'α': 'a', 'ε': 'e', 'ι': 'i', 'κ': 'k', 'ο': 'o',
}

// stripInvisible drops zero-width and invisible characters plus non-whitespace
// control characters. Tabs, newlines, and carriage returns survive because
// patterns rely on \s+ to match across them.
func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= 0x1F && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		if r == 0x7F {
			return -1
		}
		switch r {
		case '\u200B', // zero-width space
			'\u200C', // zero-width non-joiner
			'\u200D', // zero-width joiner
			'\u2060', // word joiner
			'\u2061', // function application
			'\u2062', // invisible times
			'\u2063', // invisible separator
			'\u2064', // invisible plus
			'\u00AD', // soft hyphen
			'\u200E', // left-to-right mark
			'\u200F', // right-to-left mark
			'\uFEFF': // byte order mark
			return -1
		}
		return r
	}, s)
}

// foldConfusables maps cross-script lookalikes to their Latin equivalents.
func foldConfusables(s string) string {
	return strings.Map(func(r rune) rune {
		if mapped, ok := confusableMap[r]; ok {
			return mapped
		}
		return r
	}, s)
}

// ForScan runs the full normalization chain used before pattern matching:
// invisible-character stripping, NFKC compatibility normalization (fullwidth
// forms to ASCII), and confusable folding. The result is for detection only —
// rewrites must target the original text, not the normalized copy.
func ForScan(s string) string {
	s = stripInvisible(s)
	s = norm.NFKC.String(s)
	return foldConfusables(s)
}
