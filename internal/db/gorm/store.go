// Package gorm provides the GORM-backed item, cooldown and embedding cache stores.
package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store represents the GORM database connection (PostgreSQL or SQLite).
type Store struct {
	healthCacheTime time.Time
	DB              *gorm.DB
	sqlDB           *sql.DB
	cachedHealth    *HealthInfo
	dialect         string
	healthCacheTTL  time.Duration
	healthCacheMu   sync.RWMutex
}

// Config holds database configuration.
type Config struct {
	DSN      string          // postgres://... for PostgreSQL, anything else is a SQLite path
	MaxConns int             // Maximum number of open connections (default: 10)
	LogLevel logger.LogLevel // GORM log level (logger.Silent for production)
}

// IsPostgresDSN reports whether dsn addresses a PostgreSQL server.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// NewStore opens the database and runs migrations.
func NewStore(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	dialect := "sqlite"
	switch {
	case IsPostgresDSN(cfg.DSN):
		dialector, dialect = postgres.Open(cfg.DSN), "postgres"
	case strings.Contains(cfg.DSN, "?"):
		dialector = sqlite.Open(cfg.DSN)
	default:
		dialector = sqlite.Open(cfg.DSN + "?_busy_timeout=5000&_journal_mode=WAL")
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
		// Timestamps are compared as text on SQLite, so keep them all in UTC.
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm %s: %w", dialect, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	if dialect == "sqlite" {
		// SQLite allows a single writer.
		maxConns = 1
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(max(maxConns/2, 1))
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	store := &Store{
		DB:             db,
		sqlDB:          sqlDB,
		dialect:        dialect,
		healthCacheTTL: 5 * time.Second,
	}

	if err := runMigrations(db, dialect); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Debug().Str("dialect", dialect).Int("max_conns", maxConns).Msg("Database ready")
	return store, nil
}

// Dialect returns "postgres" or "sqlite".
func (s *Store) Dialect() string {
	return s.dialect
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Stats returns database connection pool statistics.
func (s *Store) Stats() sql.DBStats {
	return s.sqlDB.Stats()
}

// HealthCheck measures query latency. Results are cached for a few seconds so
// frequent readiness probes do not load the database.
func (s *Store) HealthCheck(ctx context.Context) *HealthInfo {
	s.healthCacheMu.RLock()
	if s.cachedHealth != nil && time.Since(s.healthCacheTime) < s.healthCacheTTL {
		cached := s.cachedHealth
		s.healthCacheMu.RUnlock()
		return cached
	}
	s.healthCacheMu.RUnlock()

	info := s.performHealthCheck(ctx)

	s.healthCacheMu.Lock()
	s.cachedHealth = info
	s.healthCacheTime = time.Now()
	s.healthCacheMu.Unlock()

	return info
}

func (s *Store) performHealthCheck(ctx context.Context) *HealthInfo {
	info := &HealthInfo{
		Status:    "healthy",
		Dialect:   s.dialect,
		Timestamp: time.Now(),
	}

	stats := s.sqlDB.Stats()
	info.OpenConnections = stats.OpenConnections
	info.InUse = stats.InUse

	start := time.Now()
	var dummy int
	err := s.sqlDB.QueryRowContext(ctx, "SELECT 1").Scan(&dummy)
	info.QueryLatency = time.Since(start)

	if err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
		return info
	}

	if stats.OpenConnections > 0 && float64(stats.InUse)/float64(stats.OpenConnections) > 0.8 {
		info.Status = "degraded"
		info.Warning = "Connection pool heavily utilized"
	}
	if info.QueryLatency > 10*time.Millisecond && info.Status == "healthy" {
		info.Status = "degraded"
		info.Warning = fmt.Sprintf("Slow query latency: %v", info.QueryLatency)
	}
	return info
}

// HealthInfo contains database health check results.
type HealthInfo struct {
	Timestamp       time.Time     `json:"timestamp"`
	Status          string        `json:"status"`
	Dialect         string        `json:"dialect"`
	Error           string        `json:"error,omitempty"`
	Warning         string        `json:"warning,omitempty"`
	QueryLatency    time.Duration `json:"query_latency_ns"`
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
}

// QueryTimeout constants for different query types.
const (
	// DefaultQueryTimeout is the default timeout for regular queries.
	DefaultQueryTimeout = 5 * time.Second
	// FastQueryTimeout is for point lookups and upserts.
	FastQueryTimeout = 1 * time.Second
)

// WithTimeout wraps a context with the given timeout and logs slow queries.
func (s *Store) WithTimeout(ctx context.Context, timeout time.Duration, operation string) (context.Context, context.CancelFunc) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()

	return timeoutCtx, func() {
		elapsed := time.Since(start)
		cancel()

		if elapsed > 100*time.Millisecond {
			log.Warn().
				Str("operation", operation).
				Dur("elapsed", elapsed).
				Dur("timeout", timeout).
				Msg("Slow database operation")
		}
	}
}

// Optimize refreshes planner statistics.
func (s *Store) Optimize(ctx context.Context) error {
	stmt := "PRAGMA optimize"
	if s.dialect == "postgres" {
		stmt = "ANALYZE"
	}
	return s.DB.WithContext(ctx).Exec(stmt).Error
}
