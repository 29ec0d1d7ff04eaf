// Package models contains domain models for suggestd.
package models

import "fmt"

// Surface identifies which kind of suggestion a request is about.
type Surface string

const (
	// SurfaceInsight covers AI-generated insights derived from journal entries.
	SurfaceInsight Surface = "insight"
	// SurfaceGoal covers goals proposed from an insight.
	SurfaceGoal Surface = "goal"
	// SurfaceHabit covers habits proposed for a goal.
	SurfaceHabit Surface = "habit"
)

// AllSurfaces lists every supported surface.
var AllSurfaces = []Surface{SurfaceInsight, SurfaceGoal, SurfaceHabit}

// ParseSurface validates a surface name.
func ParseSurface(s string) (Surface, error) {
	for _, surface := range AllSurfaces {
		if string(surface) == s {
			return surface, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSurface, s)
}

// ItemStatus is the lifecycle flag on a durable insight, goal or habit.
type ItemStatus string

const (
	// StatusActive items participate in duplicate detection.
	StatusActive ItemStatus = "active"
	// StatusArchived items are ignored by duplicate detection.
	StatusArchived ItemStatus = "archived"
)

// Relation is the similarity band a candidate falls into.
type Relation string

const (
	// RelationDuplicate means the candidate restates an existing item.
	RelationDuplicate Relation = "duplicate"
	// RelationSimilar means the candidate reinforces an existing item.
	RelationSimilar Relation = "similar"
	// RelationDistinct means the candidate is new.
	RelationDistinct Relation = "distinct"
)

// ItemKind tags an entry in a suggestion response.
type ItemKind string

const (
	// KindNew is a genuinely new candidate.
	KindNew ItemKind = "new"
	// KindReinforce is a candidate shown alongside the existing item it resembles.
	KindReinforce ItemKind = "reinforce"
	// KindExisting is a reinforcement record pointing at an existing item.
	KindExisting ItemKind = "existing"
)

// Candidate is a freshly generated suggestion that has not been accepted yet.
// Text is the comparison text chosen by the surface (usually title, sometimes title+description).
type Candidate struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Text        string `json:"-"`
	ScopeKey    string `json:"scope_key"`
	SourceID    string `json:"source_id,omitempty"`
}

// ExistingItem is a persisted insight, goal or habit a candidate may duplicate.
type ExistingItem struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Text        string     `json:"-"`
	ScopeKey    string     `json:"scope_key"`
	Status      ItemStatus `json:"status"`
}

// IsActive reports whether the item takes part in duplicate detection.
func (e ExistingItem) IsActive() bool {
	return e.Status == StatusActive
}

// SimilarityDecision is the classification of one candidate against the active pool.
type SimilarityDecision struct {
	MatchID  string   `json:"match_id,omitempty"`
	Relation Relation `json:"relation"`
	Score    float64  `json:"score"`
}

// ReinforcementRecord replaces a duplicate candidate in the response.
// It references the matched existing item and keeps the candidate's provenance.
type ReinforcementRecord struct {
	ExistingID          string  `json:"existing_id"`
	ExistingTitle       string  `json:"existing_title"`
	ExistingDescription string  `json:"existing_description"`
	CandidateID         string  `json:"candidate_id"`
	SourceID            string  `json:"source_id,omitempty"`
	Similarity          float64 `json:"similarity"`
}
