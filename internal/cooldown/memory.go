// Package cooldown suppresses repeat exposure of the same suggestion concept
// to a user within a time window.
package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/suggestd/pkg/models"
)

// Stream separates cooldown namespaces within a surface, so a reinforcement
// cooldown never suppresses a new suggestion and vice versa.
type Stream string

const (
	// StreamNew covers candidates surfaced as new or reinforce.
	StreamNew Stream = "new"
	// StreamReinforcement covers reinforcement records for existing items.
	StreamReinforcement Stream = "reinforcement"
)

// Kind builds the cooldown namespace for a surface and stream, e.g. "goal:new".
func Kind(surface models.Surface, stream Stream) string {
	return fmt.Sprintf("%s:%s", surface, stream)
}

// Default windows per stream.
const (
	DefaultNewWindow           = 3 * 24 * time.Hour
	DefaultReinforcementWindow = 7 * 24 * time.Hour
)

// Windows holds the suppression window of each stream.
type Windows struct {
	New           time.Duration `json:"new" yaml:"new"`
	Reinforcement time.Duration `json:"reinforcement" yaml:"reinforcement"`
}

// DefaultWindows returns the canonical windows.
func DefaultWindows() Windows {
	return Windows{New: DefaultNewWindow, Reinforcement: DefaultReinforcementWindow}
}

// For returns the window of a stream.
func (w Windows) For(stream Stream) time.Duration {
	if stream == StreamReinforcement {
		return w.Reinforcement
	}
	return w.New
}

// Store persists cooldown entries keyed by (user, kind, concept hash).
type Store interface {
	// ShownSince returns concept hash -> last shown time for entries shown at or after since.
	ShownSince(ctx context.Context, userID, kind string, since time.Time) (map[string]time.Time, error)
	// LastShown returns when a concept was last shown, and false if never.
	LastShown(ctx context.Context, userID, kind, conceptHash string) (time.Time, bool, error)
	// Upsert inserts or refreshes an entry. Repeating it converges to the same row.
	Upsert(ctx context.Context, entry models.CooldownEntry) error
}

// EmptyPolicy decides what happens when filtering would remove everything.
type EmptyPolicy int

const (
	// GuardNonEmpty returns the unfiltered list instead of an empty one.
	GuardNonEmpty EmptyPolicy = iota
	// AllowEmpty returns the filtered list even when it is empty.
	AllowEmpty
)

// Memory is the per-user, per-kind, per-concept suppression memory.
type Memory struct {
	store  Store
	now    func() time.Time
	logger zerolog.Logger
}

// NewMemory creates a cooldown memory on top of a store.
func NewMemory(store Store, logger zerolog.Logger) *Memory {
	return &Memory{
		store:  store,
		now:    time.Now,
		logger: logger.With().Str("component", "cooldown").Logger(),
	}
}

// SetClock overrides the time source.
func (m *Memory) SetClock(now func() time.Time) {
	m.now = now
}

// Now returns the current time of the memory's clock.
func (m *Memory) Now() time.Time {
	return m.now()
}

// IsSuppressed reports whether the concept was shown to the user within window.
func (m *Memory) IsSuppressed(ctx context.Context, userID, kind, conceptHash string, window time.Duration) (bool, error) {
	last, ok, err := m.store.LastShown(ctx, userID, kind, conceptHash)
	if err != nil {
		return false, fmt.Errorf("cooldown lookup: %w", err)
	}
	if !ok {
		return false, nil
	}
	return !last.Before(m.now().Add(-window)), nil
}

// MarkShown records that a concept is being shown. Failures are logged and swallowed.
func (m *Memory) MarkShown(ctx context.Context, userID, kind, conceptHash, itemID string) {
	entry := models.CooldownEntry{
		UserID:      userID,
		Kind:        kind,
		ConceptHash: conceptHash,
		ItemID:      itemID,
		LastShownAt: m.now(),
	}
	if err := m.store.Upsert(ctx, entry); err != nil {
		m.logger.Warn().
			Err(err).
			Str("user_id", userID).
			Str("kind", kind).
			Str("concept_hash", conceptHash).
			Msg("Failed to record cooldown entry")
	}
}

// Keyed is implemented by anything that can be filtered by concept.
type Keyed interface {
	ConceptKey() string
}

// Result is the outcome of a filter pass.
type Result[T Keyed] struct {
	Kept       []T
	Suppressed []T
	// Bypassed is set when GuardNonEmpty restored the unfiltered list.
	Bypassed bool
}

// Filter removes items whose concept was shown within window.
//
// With GuardNonEmpty, a non-empty input is never reduced to nothing: the unfiltered
// list is returned for this response only. Lookup failures disable suppression for
// this call instead of failing it.
func Filter[T Keyed](ctx context.Context, m *Memory, userID, kind string, window time.Duration, items []T, policy EmptyPolicy) Result[T] {
	if len(items) == 0 {
		return Result[T]{}
	}

	shown, err := m.store.ShownSince(ctx, userID, kind, m.now().Add(-window))
	if err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID).Str("kind", kind).Msg("Cooldown lookup failed, not suppressing")
		return Result[T]{Kept: items}
	}

	var res Result[T]
	for _, item := range items {
		if _, recent := shown[item.ConceptKey()]; recent {
			res.Suppressed = append(res.Suppressed, item)
			continue
		}
		res.Kept = append(res.Kept, item)
	}

	if len(res.Kept) == 0 && policy == GuardNonEmpty {
		m.logger.Debug().Str("user_id", userID).Str("kind", kind).Int("items", len(items)).Msg("Cooldown would empty the list, bypassing")
		return Result[T]{Kept: items, Bypassed: true}
	}
	return res
}
