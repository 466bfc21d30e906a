package domain

import "unicode/utf8"

// Clip returns the longest prefix of s that fits in max bytes without
// splitting a UTF-8 sequence, and whether anything was cut.
func Clip(s string, max int) (string, bool) {
	if max < 0 || len(s) <= max {
		return s, false
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
