package models

import (
	"errors"
	"math"
	"time"
)

// ErrUnknownSurface is returned when a surface name is not recognised.
var ErrUnknownSurface = errors.New("unknown surface")

// SuggestedItem is one entry of the GET /api/suggested response.
// "new" and "reinforce" entries describe a candidate; "existing" entries describe
// a reinforcement record. Field names follow the public API (camelCase).
type SuggestedItem struct {
	Kind                ItemKind `json:"kind"`
	ID                  string   `json:"id,omitempty"`
	Title               string   `json:"title,omitempty"`
	Description         string   `json:"description,omitempty"`
	RelatedID           string   `json:"relatedId,omitempty"`
	RelatedTitle        string   `json:"relatedTitle,omitempty"`
	ExistingID          string   `json:"existingId,omitempty"`
	ExistingTitle       string   `json:"existingTitle,omitempty"`
	ExistingDescription string   `json:"existingDescription,omitempty"`
	SourceInsightID     string   `json:"sourceInsightId,omitempty"`
	Similarity          float64  `json:"similarity"`
}

// RoundSimilarity rounds a cosine score to three decimals for presentation.
func RoundSimilarity(score float64) float64 {
	return math.Round(score*1000) / 1000
}

// NewSuggestedFromCandidate builds a "new" or "reinforce" entry.
func NewSuggestedFromCandidate(c Candidate, kind ItemKind, similarity float64, relatedID, relatedTitle string) SuggestedItem {
	return SuggestedItem{
		Kind:         kind,
		ID:           c.ID,
		Title:        c.Title,
		Description:  c.Description,
		RelatedID:    relatedID,
		RelatedTitle: relatedTitle,
		Similarity:   RoundSimilarity(similarity),
	}
}

// NewSuggestedFromReinforcement builds an "existing" entry.
func NewSuggestedFromReinforcement(r ReinforcementRecord) SuggestedItem {
	return SuggestedItem{
		Kind:                KindExisting,
		ExistingID:          r.ExistingID,
		ExistingTitle:       r.ExistingTitle,
		ExistingDescription: r.ExistingDescription,
		SourceInsightID:     r.SourceID,
		Similarity:          RoundSimilarity(r.Similarity),
	}
}

// CooldownEntry records when a concept was last shown to a user.
// Unique per (UserID, Kind, ConceptHash).
type CooldownEntry struct {
	LastShownAt time.Time `json:"last_shown_at"`
	UserID      string    `json:"user_id"`
	Kind        string    `json:"kind"`
	ConceptHash string    `json:"concept_hash"`
	ItemID      string    `json:"item_id"`
}
