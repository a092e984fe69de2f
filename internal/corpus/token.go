// Package corpus resolves queries against the local record corpus before any
// provider call is considered.
package corpus

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxTokens caps how many query tokens participate in matching and density
// scoring. Queries longer than this are dominated by their leading terms.
const maxTokens = 8

// minTokenLen drops glue words ("of", "a", "to") that match everything.
const minTokenLen = 3

// quoteRunes are stripped before splitting so exact-phrase operators from
// the query language do not end up inside tokens.
const quoteRunes = `"'` + "“”‘’"

// Tokenize converts a query string into its matching tokens: quotes stripped,
// lowercased, split on non-alphanumeric runes, tokens shorter than three
// characters dropped, duplicates removed, capped at eight.
func Tokenize(query string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(quoteRunes, r) {
			return -1
		}
		return r
	}, query)

	words := splitWords(strings.ToLower(cleaned))

	var tokens []string
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		if utf8.RuneCountInString(w) < minTokenLen {
			continue
		}
		if seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
		if len(tokens) == maxTokens {
			break
		}
	}
	return tokens
}

// splitWords breaks text on any non-letter, non-digit rune.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
