// Package textx cleans provider-supplied text before it lands in Postgres.
package textx

import (
	"strings"
)

// SanitizeText strips control characters except tab, newline and carriage
// return, and trims surrounding whitespace. Tourism payloads occasionally
// carry stray control bytes inside overview and homepage fields.
func SanitizeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// NormalizeSpace sanitizes s and collapses every whitespace run to a single
// space. Meant for single-line fields such as names, addresses and venues,
// where embedded newlines break list rendering.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(SanitizeText(s)), " ")
}
