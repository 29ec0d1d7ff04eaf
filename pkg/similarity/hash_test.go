package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConceptHash_EquivalentTexts(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
	}{
		{name: "stop words and punctuation", a: "Run in the park!", b: "run park"},
		{name: "case", a: "DRINK WATER", b: "drink water"},
		{name: "word order", a: "park run", b: "run park"},
		{name: "repeated tokens", a: "run run park", b: "park run"},
		{name: "empty vs stop words only", a: "", b: "the of and"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ConceptHash(tt.a), ConceptHash(tt.b))
		})
	}
}

func TestConceptHash_DifferentConcepts(t *testing.T) {
	assert.NotEqual(t, ConceptHash("run park"), ConceptHash("walk park"))
	assert.NotEqual(t, ConceptHash("journal nightly"), ConceptHash("journal weekly"))
}

func TestConceptHash_FixedWidthHex(t *testing.T) {
	for _, text := range []string{"", "a", "Run in the park!", "a much longer sentence about sleeping eight hours every single night"} {
		h := ConceptHash(text)
		assert.Len(t, h, 8)
		assert.Regexp(t, "^[0-9a-f]{8}$", h)
	}
}

func TestConceptHash_EmptyIsStable(t *testing.T) {
	assert.Equal(t, "00000000", ConceptHash(""))
	assert.Equal(t, ConceptHash("   "), ConceptHash(""))
}

func TestRollingHash(t *testing.T) {
	// 'a' = 97, 'b' = 98 -> 97*31 + 98 = 3105 = 0xc21
	assert.Equal(t, "00000c21", rollingHash("ab"))
}
