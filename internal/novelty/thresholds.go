// Package novelty classifies freshly generated suggestions against a user's
// existing items as duplicate, reinforcement or new.
package novelty

import "github.com/thebtf/suggestd/pkg/models"

// Default similarity bands.
const (
	DefaultDuplicateThreshold = 0.85
	DefaultSimilarThreshold   = 0.75
	DefaultNewGuardThreshold  = 0.86
)

// Thresholds holds the cosine similarity bands used for classification.
type Thresholds struct {
	// Duplicate is the minimum same-scope score for a duplicate (default 0.85).
	Duplicate float64 `json:"duplicate" yaml:"duplicate"`
	// Similar is the minimum same-scope score for a reinforcement (default 0.75).
	Similar float64 `json:"similar" yaml:"similar"`
	// NewGuard drops "new" candidates scoring at or above it against any item (default 0.86).
	NewGuard float64 `json:"new_guard" yaml:"new_guard"`
	// GuardIgnoresScope makes the NewGuard check compare across scopes (default true).
	GuardIgnoresScope bool `json:"guard_ignores_scope" yaml:"guard_ignores_scope"`
}

// DefaultThresholds returns the standard similarity bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Duplicate:         DefaultDuplicateThreshold,
		Similar:           DefaultSimilarThreshold,
		NewGuard:          DefaultNewGuardThreshold,
		GuardIgnoresScope: true,
	}
}

// Valid reports whether the bands are ordered and inside (0, 1].
func (t Thresholds) Valid() bool {
	return t.Similar > 0 && t.Similar <= t.Duplicate && t.Duplicate <= 1 && t.NewGuard > 0 && t.NewGuard <= 1
}

// Classify maps a score to its relation band.
func (t Thresholds) Classify(score float64) models.Relation {
	switch {
	case score >= t.Duplicate:
		return models.RelationDuplicate
	case score >= t.Similar:
		return models.RelationSimilar
	default:
		return models.RelationDistinct
	}
}
