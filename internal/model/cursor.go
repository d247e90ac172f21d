package model

import "strings"

// NormalizeCursor strips padding so cursors compare and store uniformly.
// An empty cursor is the initial cursor.
func NormalizeCursor(c string) string {
	c = strings.TrimLeft(strings.TrimSpace(c), "0")
	if c == "" {
		return InitialCursor
	}
	return c
}

// ValidCursor reports whether c holds only digits
func ValidCursor(c string) bool {
	c = strings.TrimSpace(c)
	return isDigits(c)
}

// CompareCursor compares two cursors numerically without assuming they fit
// a fixed width integer. It returns -1, 0 or 1.
func CompareCursor(a, b string) int {
	a, b = NormalizeCursor(a), NormalizeCursor(b)
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
