package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

const (
	// HashingModelVersion is the provider key of the built-in feature-hashing model.
	HashingModelVersion = "builtin"
	// HashingDefaultDimension is the vector size of the built-in model.
	HashingDefaultDimension = 384
)

// hashingModel is a dependency-free bag-of-words embedder.
// Each token and adjacent token pair is hashed into a signed bucket, so texts that
// share vocabulary get high cosine similarity. It needs no network and is deterministic,
// which makes it the default for local runs and tests.
type hashingModel struct {
	dimensions int
}

var _ EmbeddingModel = (*hashingModel)(nil)

func init() {
	RegisterModel(ModelMetadata{
		Name:        "Feature Hashing",
		Version:     HashingModelVersion,
		Dimensions:  HashingDefaultDimension,
		Description: "Offline lexical embedding (token and bigram feature hashing)",
		Default:     true,
	}, newHashingModel)
}

func newHashingModel(opts Options) (EmbeddingModel, error) {
	dims := opts.Dimensions
	if dims <= 0 {
		dims = HashingDefaultDimension
	}
	return &hashingModel{dimensions: dims}, nil
}

func (m *hashingModel) Name() string    { return "feature-hashing" }
func (m *hashingModel) Version() string { return HashingModelVersion }
func (m *hashingModel) Dimensions() int { return m.dimensions }
func (m *hashingModel) Close() error    { return nil }

func (m *hashingModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = m.embed(text)
	}
	return results, nil
}

func (m *hashingModel) embed(text string) []float32 {
	vec := make([]float32, m.dimensions)
	tokens := strings.Fields(text)
	for i, tok := range tokens {
		m.add(vec, tok, 1.0)
		if i > 0 {
			m.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return vec
}

func (m *hashingModel) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(m.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}
