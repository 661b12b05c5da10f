// Package security holds the small hardening helpers shared by the engine:
// value sanitizing for template substitution, secret scrubbing for anything
// persisted or logged, and permission checks on the rules directory.
package security

import (
	"strings"
	"unicode/utf8"
)

// MaxValueLength caps a single substituted template value.
const MaxValueLength = 4096

// SanitizeValue prepares an event value for substitution into reaction
// parameters: control characters other than tab and newline are stripped and
// the result is truncated to MaxValueLength bytes on a rune boundary.
func SanitizeValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == utf8.RuneError {
			continue
		}
		if (r < 0x20 && r != '\t' && r != '\n') || r == 0x7f {
			continue
		}
		if b.Len()+utf8.RuneLen(r) > MaxValueLength {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}
