package logutil

import "testing"

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain-session-id", "plain-session-id"},
		{"multi\nline\rinjection", "multi line injection"},
		{"tab\tseparated", "tab separated"},
		{"esc\x1b[31mcolored", "esc[31mcolored"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeForLog(tt.in); got != tt.want {
			t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
