// Package logutil holds small helpers for safe log formatting.
package logutil

import "strings"

// SanitizeForLog flattens newlines and strips control characters from
// untrusted strings (session ids, frame fields) before they reach the log,
// so a crafted value cannot forge log entries or emit escape sequences.
func SanitizeForLog(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\t", " ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 32 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
