// Package textutil holds text normalization and URL helpers shared by the
// call controller (transcript comparison) and the backend client (redirect
// following, query encoding).
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases text and collapses runs of whitespace to a single
// space, trimming leading/trailing space.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteRune(' ')
				inSpace = true
			}
			continue
		}
		b.WriteRune(unicode.ToLower(r))
		inSpace = false
	}
	return strings.Trim(b.String(), " ")
}

// isEmojiRune covers the common emoji codepoint blocks: emoticons,
// pictographs, transport symbols, flags, and dingbats.
func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F600 && r <= 0x1F64F:
		return true
	case r >= 0x1F300 && r <= 0x1F5FF:
		return true
	case r >= 0x1F680 && r <= 0x1F6FF:
		return true
	case r >= 0x1F700 && r <= 0x1F77F:
		return true
	case r >= 0x1F780 && r <= 0x1F7FF:
		return true
	case r >= 0x1F800 && r <= 0x1F8FF:
		return true
	case r >= 0x1F900 && r <= 0x1F9FF:
		return true
	case r >= 0x1FA00 && r <= 0x1FA6F:
		return true
	case r >= 0x1FA70 && r <= 0x1FAFF:
		return true
	case r >= 0x2702 && r <= 0x27B0:
		return true
	case r >= 0x24C2 && r <= 0x1F251:
		return true
	default:
		return false
	}
}

// RemoveEmojis strips emoji codepoints from text, leaving pure ASCII (and
// any other non-emoji Unicode text) unchanged. Runs the input through NFC
// first, then drops each matching codepoint on its own; a joiner or
// combining mark outside the matched ranges (U+200D, U+20E3) is kept.
func RemoveEmojis(text string) string {
	normalized := norm.NFC.String(text)
	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		if isEmojiRune(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
