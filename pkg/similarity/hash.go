package similarity

import (
	"fmt"
	"slices"
	"strings"
)

const (
	conceptHashSeed       uint32 = 0
	conceptHashMultiplier uint32 = 31
)

// ConceptHash fingerprints the concept behind text.
// The unique normalized tokens are sorted before hashing, so texts that differ only by
// case, punctuation, stop-words or word order share a hash. The result is 8 hex chars.
func ConceptHash(text string) string {
	tokens := Tokens(text)
	slices.Sort(tokens)
	tokens = slices.Compact(tokens)
	return rollingHash(strings.Join(tokens, " "))
}

// rollingHash is a multiplicative rolling hash (h = h*31 + b) over the bytes of s.
func rollingHash(s string) string {
	h := conceptHashSeed
	for i := 0; i < len(s); i++ {
		h = h*conceptHashMultiplier + uint32(s[i])
	}
	return fmt.Sprintf("%08x", h)
}
