package gorm

import (
	"context"
	"fmt"
	"time"

	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EmbeddingCache stores vectors keyed by model version and content key.
type EmbeddingCache struct {
	store *Store
	db    *gorm.DB
}

// NewEmbeddingCache creates a new embedding cache.
func NewEmbeddingCache(store *Store) *EmbeddingCache {
	return &EmbeddingCache{store: store, db: store.DB}
}

// GetVectors returns the cached vectors among keys.
func (c *EmbeddingCache) GetVectors(ctx context.Context, modelVersion string, keys []string) (map[string][]float32, error) {
	if len(keys) == 0 {
		return map[string][]float32{}, nil
	}
	ctx, cancel := c.store.WithTimeout(ctx, DefaultQueryTimeout, "embedding_cache_get")
	defer cancel()

	var rows []EmbeddingCacheRow
	err := c.db.WithContext(ctx).
		Where("model_version = ? AND content_key IN ?", modelVersion, keys).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query embedding cache: %w", err)
	}

	out := make(map[string][]float32, len(rows))
	for _, r := range rows {
		out[r.ContentKey] = r.Embedding.Slice()
	}
	return out, nil
}

// PutVectors stores vectors, replacing existing entries.
func (c *EmbeddingCache) PutVectors(ctx context.Context, modelVersion string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	ctx, cancel := c.store.WithTimeout(ctx, DefaultQueryTimeout, "embedding_cache_put")
	defer cancel()

	now := time.Now().UTC()
	rows := make([]EmbeddingCacheRow, 0, len(vectors))
	for key, vec := range vectors {
		if len(vec) == 0 {
			continue
		}
		rows = append(rows, EmbeddingCacheRow{
			ModelVersion: modelVersion,
			ContentKey:   key,
			Embedding:    pgvec.NewVector(vec),
			CreatedAt:    now,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "model_version"}, {Name: "content_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"embedding", "created_at"}),
		}).
		CreateInBatches(rows, 100).Error
}

// Prune deletes vectors cached before cutoff.
func (c *EmbeddingCache) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := c.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&EmbeddingCacheRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune embedding cache: %w", res.Error)
	}
	return res.RowsAffected, nil
}
