// Package utils holds helpers shared by the distribution packages.
package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultLogLength is the length at which SanitizeForLog truncates.
const DefaultLogLength = 100

const truncatedSuffix = "...[truncated]"

// SanitizeForLog makes an untrusted string, such as a model name or a
// Modelfile line, safe to embed in a log message. Line breaks and tabs are
// escaped, backslashes doubled, and other control or non-printable runes
// replaced with '?'. The result is cut at maxLength bytes (default
// DefaultLogLength) without splitting a rune; zero or less disables
// truncation.
func SanitizeForLog(s string, maxLength ...int) string {
	if s == "" {
		return ""
	}
	limit := DefaultLogLength
	if len(maxLength) > 0 {
		limit = maxLength[0]
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\\':
			b.WriteString(`\\`)
		case r == utf8.RuneError, unicode.IsControl(r), !unicode.IsPrint(r):
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}

	out := b.String()
	if limit <= 0 || len(out) <= limit {
		return out
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut] + truncatedSuffix
}
