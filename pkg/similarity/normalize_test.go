package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "lowercases and strips punctuation", input: "Run in the Park!", expected: "run park"},
		{name: "collapses whitespace", input: "  drink   water\t\tdaily \n", expected: "drink water daily"},
		{name: "keeps digits", input: "Run 5k three times a week", expected: "run 5k three times week"},
		{name: "punctuation becomes a separator", input: "self-care,journaling", expected: "self care journaling"},
		{name: "only stop words", input: "The and of", expected: ""},
		{name: "empty", input: "", expected: ""},
		{name: "whitespace only", input: "   \t\n", expected: ""},
		{name: "unicode letters survive", input: "Café au lait", expected: "café au lait"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	input := "Meditate for 10 minutes, every morning."
	first := Normalize(input)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Normalize(input))
	}
}

func TestNormalizeAll_PreservesOrder(t *testing.T) {
	out := NormalizeAll([]string{"B text!", "", "A text"})
	assert.Equal(t, []string{"b text", "", "text"}, out)
}

