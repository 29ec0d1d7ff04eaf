package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB, dialect string) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: durable items
		{
			ID: "001_items",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Insight{}, &Goal{}, &Habit{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("habits", "goals", "insights")
			},
		},

		// Migration 002: generated suggestions
		{
			ID: "002_suggestions",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&SuggestedInsight{}, &SuggestedGoal{}, &SuggestedHabit{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("suggested_habits", "suggested_goals", "suggested_insights")
			},
		},

		// Migration 003: cooldown entries
		{
			ID: "003_suggestion_cooldowns",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&CooldownRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("suggestion_cooldowns")
			},
		},

		// Migration 004: embedding cache
		{
			ID: "004_embedding_cache",
			Migrate: func(tx *gorm.DB) error {
				column := "TEXT"
				if dialect == "postgres" {
					if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
						log.Warn().Err(err).Msg("pgvector extension unavailable, caching embeddings as text")
					} else {
						column = "vector"
					}
				}
				return tx.Exec(`CREATE TABLE IF NOT EXISTS embedding_cache (
					model_version VARCHAR(128) NOT NULL,
					content_key   VARCHAR(64)  NOT NULL,
					embedding     ` + column + ` NOT NULL,
					created_at    TIMESTAMP,
					PRIMARY KEY (model_version, content_key)
				)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("embedding_cache")
			},
		},
	})

	return m.Migrate()
}
