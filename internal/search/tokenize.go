package search

import (
	"strings"
	"unicode"
)

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}

// Tokenize lowercases s and splits it on anything that is not a letter,
// digit or underscore.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), isSeparator)
}

// eachToken calls fn for every token of s without building a slice.
func eachToken(s string, fn func(tok string)) {
	lower := strings.ToLower(s)
	start := -1
	for i, r := range lower {
		if isSeparator(r) {
			if start >= 0 {
				fn(lower[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fn(lower[start:])
	}
}
