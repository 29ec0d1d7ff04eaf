package gorm

import (
	"time"

	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// ItemBase holds the columns shared by insights, goals and habits.
type ItemBase struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	UserID      string `gorm:"type:varchar(64);not null;index"`
	Title       string `gorm:"type:text;not null"`
	Description string `gorm:"type:text"`
	LifeMetric  string `gorm:"type:varchar(64);index"`
	Status      string `gorm:"type:varchar(16);not null;default:active;index"`
}

// BeforeCreate assigns a UUID and the default status.
func (b *ItemBase) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = "active"
	}
	return nil
}

// Insight is a durable insight the user kept.
type Insight struct {
	ItemBase
}

func (Insight) TableName() string { return "insights" }

// Goal is a durable goal, optionally derived from an insight.
type Goal struct {
	ItemBase
	InsightID string `gorm:"type:varchar(36);index"`
}

func (Goal) TableName() string { return "goals" }

// Habit is a durable habit serving a goal.
type Habit struct {
	ItemBase
	GoalID string `gorm:"type:varchar(36);index"`
}

func (Habit) TableName() string { return "habits" }

// SuggestionBase holds the columns shared by generated suggestions.
// SourceID is the provenance: journal entry for insights, insight for goals, goal for habits.
type SuggestionBase struct {
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	UserID      string `gorm:"type:varchar(64);not null;index"`
	Title       string `gorm:"type:text;not null"`
	Description string `gorm:"type:text"`
	LifeMetric  string `gorm:"type:varchar(64)"`
	SourceID    string `gorm:"type:varchar(36);index"`
	Archived    bool   `gorm:"not null;default:false;index"`
}

// BeforeCreate assigns a UUID.
func (b *SuggestionBase) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// SuggestedInsight is a generated insight awaiting review.
type SuggestedInsight struct {
	SuggestionBase
}

func (SuggestedInsight) TableName() string { return "suggested_insights" }

// SuggestedGoal is a generated goal awaiting review.
type SuggestedGoal struct {
	SuggestionBase
}

func (SuggestedGoal) TableName() string { return "suggested_goals" }

// SuggestedHabit is a generated habit awaiting review.
type SuggestedHabit struct {
	SuggestionBase
}

func (SuggestedHabit) TableName() string { return "suggested_habits" }

// CooldownRow records when a concept was last shown to a user.
type CooldownRow struct {
	LastShownAt time.Time `gorm:"not null;index"`
	UserID      string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_cooldown_key,priority:1"`
	Kind        string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_cooldown_key,priority:2"`
	ConceptHash string    `gorm:"type:varchar(16);not null;uniqueIndex:idx_cooldown_key,priority:3"`
	ItemID      string    `gorm:"type:varchar(36)"`
	ID          int64     `gorm:"primaryKey;autoIncrement"`
}

func (CooldownRow) TableName() string { return "suggestion_cooldowns" }

// EmbeddingCacheRow is a cached vector. The table is created by a dialect-specific
// migration: a pgvector column on PostgreSQL, text on SQLite.
type EmbeddingCacheRow struct {
	CreatedAt    time.Time
	ModelVersion string       `gorm:"column:model_version;primaryKey"`
	ContentKey   string       `gorm:"column:content_key;primaryKey"`
	Embedding    pgvec.Vector `gorm:"column:embedding"`
}

func (EmbeddingCacheRow) TableName() string { return "embedding_cache" }
