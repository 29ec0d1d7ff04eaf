package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/suggestd/pkg/models"
)

// ErrAlreadyArchived is returned when accepting a suggestion that was already consumed.
var ErrAlreadyArchived = errors.New("suggestion already archived")

// surfaceTables maps a surface to its tables. Goals and habits only count as
// active while their owning insight or goal is active.
type surfaceTables struct {
	items        string
	suggestions  string
	parentTable  string
	parentColumn string
}

var tablesBySurface = map[models.Surface]surfaceTables{
	models.SurfaceInsight: {items: "insights", suggestions: "suggested_insights"},
	models.SurfaceGoal:    {items: "goals", suggestions: "suggested_goals", parentTable: "insights", parentColumn: "insight_id"},
	models.SurfaceHabit:   {items: "habits", suggestions: "suggested_habits", parentTable: "goals", parentColumn: "goal_id"},
}

func tablesFor(surface models.Surface) (surfaceTables, error) {
	t, ok := tablesBySurface[surface]
	if !ok {
		return surfaceTables{}, fmt.Errorf("%w: %q", models.ErrUnknownSurface, surface)
	}
	return t, nil
}

// ItemStore reads and mutates insights, goals, habits and their suggestions.
type ItemStore struct {
	store *Store
	db    *gorm.DB
}

// NewItemStore creates a new item store.
func NewItemStore(store *Store) *ItemStore {
	return &ItemStore{store: store, db: store.DB}
}

type itemRow struct {
	ID          string
	Title       string
	Description string
	LifeMetric  string
	Status      string
}

type suggestionRow struct {
	ID          string
	UserID      string
	Title       string
	Description string
	LifeMetric  string
	SourceID    string
	Archived    bool
}

// ActiveItems returns the user's active items of a surface, oldest first.
func (s *ItemStore) ActiveItems(ctx context.Context, surface models.Surface, userID string) ([]models.ExistingItem, error) {
	t, err := tablesFor(surface)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "active_items")
	defer cancel()

	q := s.db.WithContext(ctx).
		Table(t.items+" AS i").
		Select("i.id, i.title, i.description, i.life_metric, i.status").
		Where("i.user_id = ? AND i.status = ?", userID, string(models.StatusActive))
	if t.parentTable != "" {
		q = q.Joins("LEFT JOIN "+t.parentTable+" AS p ON p.id = i."+t.parentColumn).
			Where("(p.id IS NULL OR p.status = ?)", string(models.StatusActive))
	}

	var rows []itemRow
	if err := q.Order("i.created_at ASC, i.id ASC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query %s: %w", t.items, err)
	}

	items := make([]models.ExistingItem, len(rows))
	for i, r := range rows {
		items[i] = models.ExistingItem{
			ID:          r.ID,
			Title:       r.Title,
			Description: r.Description,
			ScopeKey:    r.LifeMetric,
			Status:      models.ItemStatus(r.Status),
		}
	}
	return items, nil
}

// PendingCandidates returns the user's unarchived suggestions of a surface, oldest first.
func (s *ItemStore) PendingCandidates(ctx context.Context, surface models.Surface, userID string) ([]models.Candidate, error) {
	t, err := tablesFor(surface)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "pending_candidates")
	defer cancel()

	var rows []suggestionRow
	err = s.db.WithContext(ctx).
		Table(t.suggestions).
		Where("user_id = ? AND archived = ?", userID, false).
		Order("created_at ASC, id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.suggestions, err)
	}

	candidates := make([]models.Candidate, len(rows))
	for i, r := range rows {
		candidates[i] = toCandidate(r)
	}
	return candidates, nil
}

func toCandidate(r suggestionRow) models.Candidate {
	return models.Candidate{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		ScopeKey:    r.LifeMetric,
		SourceID:    r.SourceID,
	}
}

// ArchiveSuggestion flags a suggestion as archived. Archiving an archived or
// missing suggestion is a no-op.
func (s *ItemStore) ArchiveSuggestion(ctx context.Context, surface models.Surface, id string) error {
	t, err := tablesFor(surface)
	if err != nil {
		return err
	}
	ctx, cancel := s.store.WithTimeout(ctx, FastQueryTimeout, "archive_suggestion")
	defer cancel()

	err = s.db.WithContext(ctx).
		Table(t.suggestions).
		Where("id = ? AND archived = ?", id, false).
		Update("archived", true).Error
	if err != nil {
		return fmt.Errorf("archive %s %s: %w", surface, id, err)
	}
	return nil
}

// DismissSuggestion archives a suggestion the user rejected. Suggestions owned by
// another user are reported as ErrNotFound.
func (s *ItemStore) DismissSuggestion(ctx context.Context, surface models.Surface, userID, id string) error {
	t, err := tablesFor(surface)
	if err != nil {
		return err
	}

	var count int64
	if err := s.db.WithContext(ctx).Table(t.suggestions).Where("id = ? AND user_id = ?", id, userID).Count(&count).Error; err != nil {
		return fmt.Errorf("lookup %s %s: %w", surface, id, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return s.ArchiveSuggestion(ctx, surface, id)
}

// SetItemStatus flips the status of a durable item owned by userID.
func (s *ItemStore) SetItemStatus(ctx context.Context, surface models.Surface, userID, id string, status models.ItemStatus) error {
	t, err := tablesFor(surface)
	if err != nil {
		return err
	}
	if status != models.StatusActive && status != models.StatusArchived {
		return fmt.Errorf("invalid status %q", status)
	}

	res := s.db.WithContext(ctx).Table(t.items).Where("id = ? AND user_id = ?", id, userID).Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("update %s %s: %w", t.items, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AcceptSuggestion turns a suggestion into a durable item and archives the suggestion,
// in one transaction. Returns the new item.
func (s *ItemStore) AcceptSuggestion(ctx context.Context, surface models.Surface, userID, id string) (models.ExistingItem, error) {
	t, err := tablesFor(surface)
	if err != nil {
		return models.ExistingItem{}, err
	}

	var created ItemBase
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row suggestionRow
		res := tx.Table(t.suggestions).Where("id = ? AND user_id = ?", id, userID).Limit(1).Scan(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if row.Archived {
			return ErrAlreadyArchived
		}

		base := ItemBase{
			UserID:      row.UserID,
			Title:       row.Title,
			Description: row.Description,
			LifeMetric:  row.LifeMetric,
			Status:      string(models.StatusActive),
		}
		switch surface {
		case models.SurfaceInsight:
			item := &Insight{ItemBase: base}
			if err := tx.Create(item).Error; err != nil {
				return err
			}
			created = item.ItemBase
		case models.SurfaceGoal:
			item := &Goal{ItemBase: base, InsightID: row.SourceID}
			if err := tx.Create(item).Error; err != nil {
				return err
			}
			created = item.ItemBase
		case models.SurfaceHabit:
			item := &Habit{ItemBase: base, GoalID: row.SourceID}
			if err := tx.Create(item).Error; err != nil {
				return err
			}
			created = item.ItemBase
		}

		return tx.Table(t.suggestions).Where("id = ? AND user_id = ?", id, userID).Update("archived", true).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyArchived) {
			return models.ExistingItem{}, err
		}
		return models.ExistingItem{}, fmt.Errorf("accept %s %s: %w", surface, id, err)
	}

	return models.ExistingItem{
		ID:          created.ID,
		Title:       created.Title,
		Description: created.Description,
		ScopeKey:    created.LifeMetric,
		Status:      models.ItemStatus(created.Status),
	}, nil
}

// CreateItem stores a durable item. parentID links goals to an insight and habits to a goal.
func (s *ItemStore) CreateItem(ctx context.Context, surface models.Surface, userID string, item models.ExistingItem, parentID string) (models.ExistingItem, error) {
	base := ItemBase{
		ID:          item.ID,
		UserID:      userID,
		Title:       item.Title,
		Description: item.Description,
		LifeMetric:  item.ScopeKey,
		Status:      string(item.Status),
	}

	var err error
	switch surface {
	case models.SurfaceInsight:
		row := &Insight{ItemBase: base}
		err = s.db.WithContext(ctx).Create(row).Error
		base = row.ItemBase
	case models.SurfaceGoal:
		row := &Goal{ItemBase: base, InsightID: parentID}
		err = s.db.WithContext(ctx).Create(row).Error
		base = row.ItemBase
	case models.SurfaceHabit:
		row := &Habit{ItemBase: base, GoalID: parentID}
		err = s.db.WithContext(ctx).Create(row).Error
		base = row.ItemBase
	default:
		return models.ExistingItem{}, fmt.Errorf("%w: %q", models.ErrUnknownSurface, surface)
	}
	if err != nil {
		return models.ExistingItem{}, fmt.Errorf("create %s: %w", surface, err)
	}

	item.ID = base.ID
	item.Status = models.ItemStatus(base.Status)
	return item, nil
}

// CreateSuggestions stores generated candidates for a user and returns them with IDs assigned.
func (s *ItemStore) CreateSuggestions(ctx context.Context, surface models.Surface, userID string, candidates []models.Candidate) ([]models.Candidate, error) {
	if _, err := tablesFor(surface); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	bases := make([]SuggestionBase, len(candidates))
	for i, c := range candidates {
		bases[i] = SuggestionBase{
			ID:          c.ID,
			UserID:      userID,
			Title:       c.Title,
			Description: c.Description,
			LifeMetric:  c.ScopeKey,
			SourceID:    c.SourceID,
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range bases {
			var err error
			switch surface {
			case models.SurfaceInsight:
				row := &SuggestedInsight{SuggestionBase: bases[i]}
				err = tx.Create(row).Error
				bases[i] = row.SuggestionBase
			case models.SurfaceGoal:
				row := &SuggestedGoal{SuggestionBase: bases[i]}
				err = tx.Create(row).Error
				bases[i] = row.SuggestionBase
			case models.SurfaceHabit:
				row := &SuggestedHabit{SuggestionBase: bases[i]}
				err = tx.Create(row).Error
				bases[i] = row.SuggestionBase
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create %s suggestions: %w", surface, err)
	}

	out := make([]models.Candidate, len(bases))
	for i, b := range bases {
		out[i] = models.Candidate{ID: b.ID, Title: b.Title, Description: b.Description, ScopeKey: b.LifeMetric, SourceID: b.SourceID}
	}
	return out, nil
}

// PruneArchivedSuggestions deletes archived suggestions created before cutoff on every surface.
func (s *ItemStore) PruneArchivedSuggestions(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, surface := range models.AllSurfaces {
		t := tablesBySurface[surface]
		res := s.db.WithContext(ctx).
			Exec("DELETE FROM "+t.suggestions+" WHERE archived = ? AND created_at < ?", true, cutoff.UTC())
		if res.Error != nil {
			return total, fmt.Errorf("prune %s: %w", t.suggestions, res.Error)
		}
		total += res.RowsAffected
	}
	return total, nil
}
