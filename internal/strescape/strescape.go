// Package strescape sanitizes peer-supplied strings before they are
// echoed into logs or error replies.
package strescape

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Printable returns s stripped of non-printable runes.
func Printable(s string) string {
	return strings.Map(func(r rune) rune {
		if !strconv.IsPrint(r) {
			return -1
		}
		if r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
}

// CanonicalizeNL converts all newline char sequences to \n and trims
// empty newlines from the right of the string.
func CanonicalizeNL(val string) string {
	val = strings.ReplaceAll(val, "\r\n", "\n")
	val = strings.ReplaceAll(val, "\r", "\n")
	val = strings.TrimRight(val, "\n")
	return val
}
