package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultEmbedTimeout bounds one shared provider call.
const DefaultEmbedTimeout = 30 * time.Second

// Cache stores vectors keyed by model version and content hash.
type Cache interface {
	GetVectors(ctx context.Context, modelVersion string, keys []string) (map[string][]float32, error)
	PutVectors(ctx context.Context, modelVersion string, vectors map[string][]float32) error
}

// Service provides batched text embedding with model abstraction.
// Blank texts map to zero vectors without reaching the provider, and concurrent
// identical batches (two tabs of the same user) share one provider call.
type Service struct {
	model  EmbeddingModel
	cache  Cache
	group   singleflight.Group
	logger  zerolog.Logger
	timeout time.Duration
}

// NewService creates an embedding service for the named provider.
func NewService(provider string, opts Options, logger zerolog.Logger) (*Service, error) {
	if provider == "" {
		provider = GetDefaultModel()
	}

	model, err := GetModel(provider, opts)
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", provider, err)
	}

	return NewServiceWithModel(model, logger), nil
}

// NewServiceWithModel wraps an already constructed model.
func NewServiceWithModel(model EmbeddingModel, logger zerolog.Logger) *Service {
	return &Service{
		model:   model,
		logger:  logger.With().Str("component", "embedding").Logger(),
		timeout: DefaultEmbedTimeout,
	}
}

// SetCache enables vector caching. A nil cache disables it.
func (s *Service) SetCache(cache Cache) {
	s.cache = cache
}

// Name returns the human-readable model name.
func (s *Service) Name() string {
	return s.model.Name()
}

// Version returns the short version string used for cache keys.
func (s *Service) Version() string {
	return s.model.Version()
}

// Dimensions returns the embedding vector size.
func (s *Service) Dimensions() int {
	return s.model.Dimensions()
}

// Close releases model resources.
func (s *Service) Close() error {
	return s.model.Close()
}

// ContentKey is the cache key of a text.
func ContentKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EmbedBatch embeds texts in one provider call and returns vectors in input order.
// An empty input returns an empty result without contacting the provider.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	positions := make(map[string][]int)
	var order []string
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, s.model.Dimensions())
			continue
		}
		if _, seen := positions[text]; !seen {
			order = append(order, text)
		}
		positions[text] = append(positions[text], i)
	}
	if len(order) == 0 {
		return results, nil
	}

	missing := order
	if s.cache != nil {
		missing = s.fillFromCache(ctx, order, positions, results)
		if len(missing) == 0 {
			return results, nil
		}
	}

	vectors, err := s.embedShared(ctx, missing)
	if err != nil {
		return nil, err
	}

	fresh := make(map[string][]float32, len(missing))
	for i, text := range missing {
		for _, pos := range positions[text] {
			results[pos] = vectors[i]
		}
		fresh[ContentKey(text)] = vectors[i]
	}

	if s.cache != nil {
		if err := s.cache.PutVectors(ctx, s.model.Version(), fresh); err != nil {
			s.logger.Warn().Err(err).Int("count", len(fresh)).Msg("Failed to cache embeddings")
		}
	}

	return results, nil
}

// fillFromCache copies cached vectors into results and returns the texts still missing.
// Cache read failures degrade to a full provider call.
func (s *Service) fillFromCache(ctx context.Context, order []string, positions map[string][]int, results [][]float32) []string {
	keys := make([]string, len(order))
	for i, text := range order {
		keys[i] = ContentKey(text)
	}

	cached, err := s.cache.GetVectors(ctx, s.model.Version(), keys)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Embedding cache lookup failed")
		return order
	}

	missing := make([]string, 0, len(order))
	for i, text := range order {
		vec, ok := cached[keys[i]]
		if !ok || len(vec) == 0 {
			missing = append(missing, text)
			continue
		}
		for _, pos := range positions[text] {
			results[pos] = vec
		}
	}
	return missing
}

// embedShared coalesces concurrent calls for the same batch.
// The provider call runs detached from any single caller, so one cancelled
// request never fails the others sharing the batch. Each caller still returns
// as soon as its own context is done.
func (s *Service) embedShared(ctx context.Context, texts []string) ([][]float32, error) {
	h := sha256.New()
	for _, t := range texts {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	key := hex.EncodeToString(h.Sum(nil))

	ch := s.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		vectors, err := s.model.EmbedBatch(callCtx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch (%d texts): %w", len(texts), err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embedding model returned %d vectors for %d texts", len(vectors), len(texts))
		}
		return vectors, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([][]float32), nil
	}
}
