package similarity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, expected: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, expected: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, expected: -1},
		{name: "scaled", a: []float32{1, 1}, b: []float32{3, 3}, expected: 1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, expected: 0},
		{name: "empty", a: nil, b: []float32{1}, expected: 0},
		{name: "min truncated", a: []float32{1, 0, 5}, b: []float32{1, 0}, expected: 1},
		{name: "truncated to zero magnitude", a: []float32{0, 0, 1}, b: []float32{1, 1}, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}

func TestCosineSimilarity_KnownAngle(t *testing.T) {
	y := float32(math.Sqrt(1 - 0.91*0.91))
	assert.InDelta(t, 0.91, CosineSimilarity([]float32{1, 0}, []float32{0.91, y}), 1e-6)
}

func TestMaxSimilarity(t *testing.T) {
	score, idx := MaxSimilarity([]float32{1, 0}, [][]float32{{0, 1}, {1, 0.1}, {1, 1}})
	assert.Equal(t, 1, idx)
	assert.InDelta(t, 0.995, score, 0.001)

	score, idx = MaxSimilarity([]float32{1, 0}, nil)
	assert.Equal(t, -1, idx)
	assert.Zero(t, score)
}
