// Package similarity provides text normalization, concept hashing and vector similarity.
package similarity

import (
	"strings"
	"unicode"
)

// stopWords are dropped during normalization so that filler words never
// distinguish two otherwise identical suggestions.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true, "can": true,
	"this": true, "that": true, "these": true, "those": true,
	"and": true, "or": true, "but": true, "if": true, "then": true, "so": true,
	"for": true, "from": true, "with": true, "about": true, "into": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "by": true,
	"it": true, "its": true, "which": true, "who": true, "what": true,
	"when": true, "where": true, "how": true, "why": true,
	"i": true, "me": true, "my": true, "you": true, "your": true,
	"we": true, "our": true, "more": true, "some": true, "just": true,
}

// Tokens returns the normalized tokens of text in their original order.
func Tokens(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := words[:0]
	for _, word := range words {
		if !stopWords[word] {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

// Normalize lowercases text, turns punctuation into whitespace, drops stop-words
// and collapses whitespace. Empty or whitespace-only input yields "".
func Normalize(text string) string {
	return strings.Join(Tokens(text), " ")
}

// NormalizeAll normalizes every text, preserving order.
func NormalizeAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = Normalize(t)
	}
	return out
}
