// Package utils provides shared utilities for text, vector math, and logging.
package utils

import "strings"

// Truncate returns s truncated to maxLen bytes, with "..." appended if truncated.
// The cut never splits a UTF-8 sequence. If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// SingleLine collapses all whitespace runs in s into single spaces.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
