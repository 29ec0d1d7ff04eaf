package novelty

// IntentKind names a side effect requested by the engine.
type IntentKind string

const (
	// IntentArchiveSuggestion archives a duplicate suggestion record.
	IntentArchiveSuggestion IntentKind = "archive_suggestion"
	// IntentMarkShown upserts a cooldown entry for a concept about to be shown.
	IntentMarkShown IntentKind = "mark_shown"
)

// Intent is an idempotent mutation emitted alongside a classification.
// Classification never touches a store; an applier executes intents afterwards,
// and applying the same intent twice converges to the same state.
type Intent struct {
	Kind IntentKind `json:"kind"`

	// Archive fields.
	SuggestionID string `json:"suggestion_id,omitempty"`
	MatchedID    string `json:"matched_id,omitempty"`

	// Cooldown fields.
	UserID       string `json:"user_id,omitempty"`
	CooldownKind string `json:"cooldown_kind,omitempty"`
	ConceptHash  string `json:"concept_hash,omitempty"`
	ItemID       string `json:"item_id,omitempty"`
}

// ArchiveIntent requests archival of a duplicate suggestion.
func ArchiveIntent(suggestionID, matchedID string) Intent {
	return Intent{Kind: IntentArchiveSuggestion, SuggestionID: suggestionID, MatchedID: matchedID}
}

// MarkShownIntent requests a cooldown upsert.
func MarkShownIntent(userID, kind, conceptHash, itemID string) Intent {
	return Intent{Kind: IntentMarkShown, UserID: userID, CooldownKind: kind, ConceptHash: conceptHash, ItemID: itemID}
}
