package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/suggestd/pkg/models"
)

// CooldownStore persists cooldown entries in the suggestion_cooldowns table.
type CooldownStore struct {
	store *Store
	db    *gorm.DB
}

// NewCooldownStore creates a new cooldown store.
func NewCooldownStore(store *Store) *CooldownStore {
	return &CooldownStore{store: store, db: store.DB}
}

// ShownSince returns concept hash -> last shown time for entries shown at or after since.
func (s *CooldownStore) ShownSince(ctx context.Context, userID, kind string, since time.Time) (map[string]time.Time, error) {
	ctx, cancel := s.store.WithTimeout(ctx, FastQueryTimeout, "cooldown_shown_since")
	defer cancel()

	var rows []CooldownRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND kind = ? AND last_shown_at >= ?", userID, kind, since.UTC()).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query cooldowns: %w", err)
	}

	out := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		out[r.ConceptHash] = r.LastShownAt
	}
	return out, nil
}

// LastShown returns when a concept was last shown to the user.
func (s *CooldownStore) LastShown(ctx context.Context, userID, kind, conceptHash string) (time.Time, bool, error) {
	ctx, cancel := s.store.WithTimeout(ctx, FastQueryTimeout, "cooldown_last_shown")
	defer cancel()

	var row CooldownRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND kind = ? AND concept_hash = ?", userID, kind, conceptHash).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query cooldown: %w", err)
	}
	return row.LastShownAt, true, nil
}

// Upsert inserts an entry or refreshes its item and timestamp.
func (s *CooldownStore) Upsert(ctx context.Context, entry models.CooldownEntry) error {
	ctx, cancel := s.store.WithTimeout(ctx, FastQueryTimeout, "cooldown_upsert")
	defer cancel()

	row := &CooldownRow{
		UserID:      entry.UserID,
		Kind:        entry.Kind,
		ConceptHash: entry.ConceptHash,
		ItemID:      entry.ItemID,
		LastShownAt: entry.LastShownAt.UTC(),
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "kind"}, {Name: "concept_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"item_id", "last_shown_at"}),
		}).
		Create(row).Error
}

// Prune deletes entries older than cutoff and returns how many were removed.
func (s *CooldownStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("last_shown_at < ?", cutoff.UTC()).Delete(&CooldownRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune cooldowns: %w", res.Error)
	}
	return res.RowsAffected, nil
}
