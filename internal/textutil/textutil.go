// Package textutil provides small display-text helpers for command
// output.
package textutil

import (
	"strings"
	"unicode/utf8"
)

// Truncate shortens s to at most n runes, appending an ellipsis when
// anything was cut. Newlines are flattened so a multi-line prompt
// summary stays on one listing row.
func Truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n <= 3 {
		return string(runes[:n])
	}
	return strings.TrimRight(string(runes[:n-3]), " ") + "..."
}

// Indent prefixes every non-empty line of s.
func Indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
