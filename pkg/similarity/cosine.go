package similarity

import "math"

// CosineSimilarity computes the cosine similarity between two float32 vectors.
// Vectors of different length are compared over their common prefix.
// Returns 0 when either vector is empty or has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dotProduct += ai * bi
		normA += ai * ai
		normB += bi * bi
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// MaxSimilarity returns the best score of v against candidates and the index of the match.
// The index is -1 when candidates is empty.
func MaxSimilarity(v []float32, candidates [][]float32) (float64, int) {
	best, bestIdx := 0.0, -1
	for i, c := range candidates {
		score := CosineSimilarity(v, c)
		if bestIdx == -1 || score > best {
			best, bestIdx = score, i
		}
	}
	return best, bestIdx
}
