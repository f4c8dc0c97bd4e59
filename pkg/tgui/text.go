package tgui

import "unicode/utf8"

// TruncRunes returns s truncated to at most n runes, appending an ellipsis
// when something was cut. Truncation counts runes, not bytes, so multi-byte
// text never gets split mid-character.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}
