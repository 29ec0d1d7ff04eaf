package novelty

import (
	"fmt"

	"github.com/thebtf/suggestd/pkg/models"
	"github.com/thebtf/suggestd/pkg/similarity"
)

// Disposition is where a candidate ended up after a request.
type Disposition string

const (
	// DispositionArchived means the candidate was a duplicate and was archived.
	DispositionArchived Disposition = "archived_duplicate"
	// DispositionReinforce means the candidate was surfaced next to a similar item.
	DispositionReinforce Disposition = "reinforce"
	// DispositionNew means the candidate was surfaced as new.
	DispositionNew Disposition = "new"
	// DispositionSuppressed means the candidate was withheld from this response.
	DispositionSuppressed Disposition = "suppressed"
)

// Scored is a candidate with its classification.
type Scored struct {
	Candidate models.Candidate
	Decision  models.SimilarityDecision
	// Related is the matched item for reinforce-tagged candidates.
	Related *models.ExistingItem
	// AnyScopeScore is the best score against every active item, scope ignored.
	AnyScopeScore float64
}

// Resolution is the pure outcome of resolving a batch of candidates.
type Resolution struct {
	// New holds distinct candidates that passed the guard band, in input order.
	New []Scored
	// Reinforce holds similar candidates, in input order.
	Reinforce []Scored
	// Duplicates holds every candidate matched as a duplicate of an active item.
	Duplicates []Scored
	// Reinforcements holds one record per existing item matched as duplicate.
	Reinforcements []models.ReinforcementRecord
	// NearDuplicates holds distinct candidates dropped by the guard band.
	NearDuplicates []Scored
	// Dispositions maps candidate ID to its disposition.
	Dispositions map[string]Disposition
	// Intents lists the side effects the caller must apply.
	Intents []Intent
}

// Resolver classifies candidates against the active item pool.
type Resolver struct {
	thresholds Thresholds
}

// NewResolver creates a resolver. Invalid thresholds fall back to the defaults.
func NewResolver(thresholds Thresholds) *Resolver {
	if !thresholds.Valid() {
		thresholds = DefaultThresholds()
	}
	return &Resolver{thresholds: thresholds}
}

// Thresholds returns the bands in use.
func (r *Resolver) Thresholds() Thresholds {
	return r.thresholds
}

// Decide scores one candidate vector against same-scope active items.
// Returns the decision and the index of the matched item (-1 when there is none).
func (r *Resolver) Decide(candidate models.Candidate, vec []float32, existing []models.ExistingItem, existingVecs [][]float32) (models.SimilarityDecision, int) {
	pool, indexes := activeVectors(existing, existingVecs, func(item models.ExistingItem) bool {
		return item.ScopeKey == candidate.ScopeKey
	})
	best, poolIdx := similarity.MaxSimilarity(vec, pool)

	decision := models.SimilarityDecision{
		Score:    best,
		Relation: r.thresholds.Classify(best),
	}
	if poolIdx < 0 {
		return decision, -1
	}
	bestIdx := indexes[poolIdx]
	decision.MatchID = existing[bestIdx].ID
	return decision, bestIdx
}

// activeVectors returns the vectors of active items accepted by keep, and their
// positions in existing.
func activeVectors(existing []models.ExistingItem, existingVecs [][]float32, keep func(models.ExistingItem) bool) ([][]float32, []int) {
	var pool [][]float32
	var indexes []int
	for i, item := range existing {
		if !item.IsActive() || !keep(item) {
			continue
		}
		pool = append(pool, existingVecs[i])
		indexes = append(indexes, i)
	}
	return pool, indexes
}

// Resolve classifies every candidate. Vectors must be aligned with their slices.
//
// Only active items are matched; archived items never hide an active one.
// Duplicates are replaced by a reinforcement record and produce an archive intent.
// Distinct candidates at or above the guard threshold are withheld as near-duplicates.
func (r *Resolver) Resolve(candidates []models.Candidate, candidateVecs [][]float32, existing []models.ExistingItem, existingVecs [][]float32) (*Resolution, error) {
	if len(candidates) != len(candidateVecs) {
		return nil, fmt.Errorf("resolve: %d candidates but %d vectors", len(candidates), len(candidateVecs))
	}
	if len(existing) != len(existingVecs) {
		return nil, fmt.Errorf("resolve: %d existing items but %d vectors", len(existing), len(existingVecs))
	}

	res := &Resolution{Dispositions: make(map[string]Disposition, len(candidates))}
	recordIdx := make(map[string]int)

	for i, cand := range candidates {
		decision, matchIdx := r.Decide(cand, candidateVecs[i], existing, existingVecs)

		var matched *models.ExistingItem
		if matchIdx >= 0 {
			item := existing[matchIdx]
			matched = &item
		}

		switch decision.Relation {
		case models.RelationDuplicate:
			rec := models.ReinforcementRecord{
				ExistingID:          matched.ID,
				ExistingTitle:       matched.Title,
				ExistingDescription: matched.Description,
				CandidateID:         cand.ID,
				SourceID:            cand.SourceID,
				Similarity:          decision.Score,
			}
			if rec.ExistingDescription == "" {
				rec.ExistingDescription = cand.Description
			}
			if idx, ok := recordIdx[rec.ExistingID]; ok {
				if rec.Similarity > res.Reinforcements[idx].Similarity {
					res.Reinforcements[idx] = rec
				}
			} else {
				recordIdx[rec.ExistingID] = len(res.Reinforcements)
				res.Reinforcements = append(res.Reinforcements, rec)
			}
			res.Duplicates = append(res.Duplicates, Scored{Candidate: cand, Decision: decision, Related: matched})
			res.Intents = append(res.Intents, ArchiveIntent(cand.ID, matched.ID))
			res.Dispositions[cand.ID] = DispositionArchived

		case models.RelationSimilar:
			res.Reinforce = append(res.Reinforce, Scored{Candidate: cand, Decision: decision, Related: matched})
			res.Dispositions[cand.ID] = DispositionReinforce

		default:
			scored := Scored{Candidate: cand, Decision: decision, AnyScopeScore: decision.Score}
			if r.thresholds.GuardIgnoresScope {
				scored.AnyScopeScore = anyScopeScore(candidateVecs[i], existing, existingVecs)
			}
			if scored.AnyScopeScore >= r.thresholds.NewGuard {
				res.NearDuplicates = append(res.NearDuplicates, scored)
				res.Dispositions[cand.ID] = DispositionSuppressed
				continue
			}
			res.New = append(res.New, scored)
			res.Dispositions[cand.ID] = DispositionNew
		}
	}

	return res, nil
}

// anyScopeScore is the best score against every active item regardless of scope.
// Negative scores count as 0.
func anyScopeScore(vec []float32, existing []models.ExistingItem, existingVecs [][]float32) float64 {
	pool, _ := activeVectors(existing, existingVecs, func(models.ExistingItem) bool { return true })
	best, _ := similarity.MaxSimilarity(vec, pool)
	return max(best, 0)
}
