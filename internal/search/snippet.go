package search

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultSnippetLength is the snippet window in characters.
	DefaultSnippetLength = 150

	// NoContentPlaceholder replaces snippets of empty messages.
	NoContentPlaceholder = "[No content]"

	ellipsis = "..."
)

// Snippet returns a window of at most length characters of content. The
// window starts at the beginning of the message unless the first occurrence
// of any needle would fall outside it, in which case it is shifted to show
// the hit. Truncated sides are marked with "...". Whitespace runs collapse
// to single spaces.
func Snippet(content string, needles []string, length int) string {
	text := strings.Join(strings.Fields(content), " ")
	if text == "" {
		return NoContentPlaceholder
	}
	if length <= 0 {
		length = DefaultSnippetLength
	}

	runes := []rune(text)
	if len(runes) <= length {
		return text
	}

	start := 0
	if hit, hitLen := firstHit(text, needles); hit >= 0 && hit+hitLen > length {
		start = hit - length/4
		if start+length > len(runes) {
			start = len(runes) - length
		}
		if start < 0 {
			start = 0
		}
	}
	end := start + length

	var b strings.Builder
	if start > 0 {
		b.WriteString(ellipsis)
	}
	b.WriteString(strings.TrimSpace(string(runes[start:end])))
	if end < len(runes) {
		b.WriteString(ellipsis)
	}
	return b.String()
}

// firstHit returns the rune offset and rune length of the earliest needle
// occurrence in text, or -1.
func firstHit(text string, needles []string) (int, int) {
	lower := strings.ToLower(text)
	best, bestLen := -1, 0
	for _, n := range needles {
		if n == "" {
			continue
		}
		if i := strings.Index(lower, n); i >= 0 && (best < 0 || i < best) {
			best, bestLen = i, utf8.RuneCountInString(n)
		}
	}
	if best < 0 {
		return -1, 0
	}
	// Lowercasing can change byte widths; clamp to the original text.
	off := utf8.RuneCountInString(lower[:best])
	if total := utf8.RuneCountInString(text); off > total {
		off = total
	}
	return off, bestLen
}
