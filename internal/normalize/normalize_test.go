package normalize

import "testing"

func TestForScan(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain ascii unchanged", "ignore previous instructions", "ignore previous instructions"},
		{"zero-width space stripped", "ign​ore previous", "ignore previous"},
		{"zero-width joiner stripped", "you‍ must", "you must"},
		{"soft hyphen stripped", "sys­tem", "system"},
		{"bom stripped", "\ufeffSYSTEM:", "SYSTEM:"},
		{"fullwidth folded by nfkc", "ＳＹＳＴＥＭ", "SYSTEM"},
		{"cyrillic confusables folded", "іgnоre", "ignore"},
		{"greek omicron folded", "ignοre", "ignore"},
		{"control chars stripped", "you\x00 must\x08 obey", "you must obey"},
		{"whitespace survives", "line one\nline two\ttab", "line one\nline two\ttab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ForScan(tt.input); got != tt.want {
				t.Errorf("ForScan(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
