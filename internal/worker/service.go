package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/suggestd/internal/config"
	"github.com/thebtf/suggestd/internal/cooldown"
	gormdb "github.com/thebtf/suggestd/internal/db/gorm"
	"github.com/thebtf/suggestd/internal/embedding"
	"github.com/thebtf/suggestd/internal/maintenance"
	"github.com/thebtf/suggestd/internal/novelty"
	"github.com/thebtf/suggestd/internal/suggest"
	"github.com/thebtf/suggestd/internal/watcher"
	"github.com/thebtf/suggestd/pkg/models"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// MaxRequestBodySize caps candidate ingest payloads.
	MaxRequestBodySize = 1 << 20

	// UserRequestRate and UserRequestBurst bound suggestion calls per user.
	UserRequestRate  = 5.0
	UserRequestBurst = 20

	// cooldownRetention multiplies the longest window to get the prune cutoff.
	cooldownRetention = 4

	// MaintenanceInitialDelay postpones the first maintenance run after startup.
	MaintenanceInitialDelay = time.Minute

	redisKeyPrefix = "suggestd"
)

// SuggestionEngine produces suggestion lists for a surface.
type SuggestionEngine interface {
	Suggest(ctx context.Context, req suggest.Request) (*suggest.Result, error)
}

// ItemManager manages pending suggestions and durable items.
type ItemManager interface {
	CreateSuggestions(ctx context.Context, surface models.Surface, userID string, candidates []models.Candidate) ([]models.Candidate, error)
	AcceptSuggestion(ctx context.Context, surface models.Surface, userID, id string) (models.ExistingItem, error)
	DismissSuggestion(ctx context.Context, surface models.Surface, userID, id string) error
	SetItemStatus(ctx context.Context, surface models.Surface, userID, id string, status models.ItemStatus) error
}

// configurable is implemented by engines that accept live threshold updates.
type configurable interface {
	Configure(thresholds novelty.Thresholds, windows cooldown.Windows)
}

// Service is the main worker service orchestrator.
type Service struct {
	// Version of the worker binary
	version string

	// Configuration
	config *config.Config

	// Database
	store *gormdb.Store

	// Domain services
	engine   SuggestionEngine
	items    ItemManager
	embedder    *embedding.Service
	redis       *cooldown.RedisStore
	maintenance *maintenance.Service

	// HTTP server
	router    *chi.Mux
	server    *http.Server
	limiter   *PerClientRateLimiter
	startTime time.Time

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Initialization state
	ready     atomic.Bool
	initError error
	initMu    sync.RWMutex

	// File watchers
	configWatcher *watcher.Watcher
}

// NewService creates a new worker service with deferred initialization.
// The service starts immediately with health endpoint available,
// while database and embedding initialization happens in the background.
func NewService(version string, cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.Get()
	}

	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:   version,
		config:    cfg,
		router:    chi.NewRouter(),
		limiter:   NewPerClientRateLimiter(UserRequestRate, UserRequestBurst),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	// Setup middleware and routes (health endpoint works immediately)
	svc.setupMiddleware()
	svc.setupRoutes()

	go svc.initializeAsync()

	return svc, nil
}

// initializeAsync performs heavy initialization in the background.
func (s *Service) initializeAsync() {
	log.Info().Msg("Starting async initialization...")

	if !gormdb.IsPostgresDSN(s.config.DSN) {
		if err := config.EnsureAll(); err != nil {
			s.setInitError(fmt.Errorf("ensure data dir: %w", err))
			return
		}
	}

	// Initialize database (this includes migrations - can be slow)
	store, err := gormdb.NewStore(gormdb.Config{
		DSN:      s.config.DSN,
		MaxConns: s.config.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		s.setInitError(fmt.Errorf("init database: %w", err))
		return
	}
	s.store = store
	items := gormdb.NewItemStore(store)

	cooldownStore, err := s.openCooldownStore(store)
	if err != nil {
		s.setInitError(err)
		return
	}

	embedder, err := embedding.NewService(s.config.EmbeddingProvider, embedding.Options{
		BaseURL:    s.config.EmbeddingBaseURL,
		APIKey:     s.config.EmbeddingAPIKey,
		ModelName:  s.config.EmbeddingModel,
		Dimensions: s.config.EmbeddingDimensions,
		MaxTokens:  s.config.EmbeddingMaxTokens,
	}, log.Logger)
	if err != nil {
		s.setInitError(fmt.Errorf("init embeddings: %w", err))
		return
	}
	var cache *gormdb.EmbeddingCache
	if s.config.EmbeddingCacheEnabled {
		cache = gormdb.NewEmbeddingCache(store)
		embedder.SetCache(cache)
	}
	s.embedder = embedder

	memory := cooldown.NewMemory(cooldownStore, log.Logger)
	s.engine = suggest.NewEngine(items, embedder, memory, suggest.Options{
		Thresholds: thresholdsFrom(s.config),
		Windows:    windowsFrom(s.config),
	}, log.Logger)
	s.items = items

	if s.config.MaintenanceEnabled {
		s.startMaintenance(store, items, cooldownStore, cache)
	}

	s.ready.Store(true)
	log.Info().
		Str("dialect", store.Dialect()).
		Str("embedding_model", embedder.Name()).
		Str("cooldown_backend", s.config.CooldownBackend).
		Msg("Async initialization complete")

	s.startWatchers()
}

// openCooldownStore picks the cooldown backend named in the config.
func (s *Service) openCooldownStore(store *gormdb.Store) (cooldown.Store, error) {
	switch s.config.CooldownBackend {
	case config.CooldownBackendRedis:
		rs := cooldown.NewRedisStore(cooldown.NewRedisPool(s.config.RedisAddr, 4), redisKeyPrefix, cooldownRetention*maxWindow(s.config))
		s.redis = rs
		return rs, nil
	case config.CooldownBackendMemory:
		log.Warn().Msg("Cooldown memory is process-local and will be lost on restart")
		return cooldown.NewMemStore(), nil
	case config.CooldownBackendDB, "":
		return gormdb.NewCooldownStore(store), nil
	default:
		return nil, fmt.Errorf("unknown cooldown backend %q", s.config.CooldownBackend)
	}
}

// startMaintenance schedules pruning of expired cooldowns, consumed
// suggestions and cached vectors. Redis and memory cooldowns expire on their own.
func (s *Service) startMaintenance(store *gormdb.Store, items *gormdb.ItemStore, cooldownStore cooldown.Store, cache *gormdb.EmbeddingCache) {
	tasks := []maintenance.Task{{
		Name:      "suggestions",
		Pruner:    maintenance.PrunerFunc(items.PruneArchivedSuggestions),
		Retention: s.config.SuggestionRetention,
	}}
	if pruner, ok := cooldownStore.(*gormdb.CooldownStore); ok {
		tasks = append(tasks, maintenance.Task{Name: "cooldowns", Pruner: pruner, Retention: cooldownRetention * maxWindow(s.config)})
	}
	if cache != nil {
		tasks = append(tasks, maintenance.Task{Name: "embeddings", Pruner: cache, Retention: s.config.EmbeddingRetention})
	}

	s.maintenance = maintenance.NewService(tasks, store, maintenance.Options{
		Interval:     s.config.MaintenanceInterval,
		InitialDelay: MaintenanceInitialDelay,
	}, log.Logger)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.maintenance.Start(s.ctx)
	}()
}

// startWatchers watches the settings file and applies threshold changes live.
func (s *Service) startWatchers() {
	configPath := config.SettingsPath()
	configWatcher, err := watcher.New(configPath, func() {
		log.Info().Str("path", configPath).Msg("Config file changed, reloading...")
		s.reloadConfig()
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher")
		return
	}
	s.configWatcher = configWatcher
	if err := configWatcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
		return
	}
	log.Info().Str("path", configPath).Msg("Config file watcher started")
}

// reloadConfig re-reads settings and pushes thresholds and windows into the engine.
// Storage and listener settings need a restart.
func (s *Service) reloadConfig() {
	cfg, err := config.Reload()
	if err != nil {
		log.Warn().Err(err).Msg("Config reload failed, keeping previous settings")
		return
	}
	s.applyConfig(cfg)
}

func (s *Service) applyConfig(cfg *config.Config) {
	engine, ok := s.engine.(configurable)
	if !ok {
		return
	}
	engine.Configure(thresholdsFrom(cfg), windowsFrom(cfg))
	log.Info().
		Float64("duplicate", cfg.DuplicateThreshold).
		Float64("similar", cfg.SimilarThreshold).
		Float64("new_guard", cfg.NewGuardThreshold).
		Dur("new_window", cfg.CooldownNewWindow).
		Dur("reinforcement_window", cfg.CooldownReinforcementWindow).
		Msg("Suggestion settings reloaded")
}

func thresholdsFrom(cfg *config.Config) novelty.Thresholds {
	return novelty.Thresholds{
		Duplicate:         cfg.DuplicateThreshold,
		Similar:           cfg.SimilarThreshold,
		NewGuard:          cfg.NewGuardThreshold,
		GuardIgnoresScope: cfg.GuardIgnoresScope,
	}
}

func windowsFrom(cfg *config.Config) cooldown.Windows {
	return cooldown.Windows{
		New:           cfg.CooldownNewWindow,
		Reinforcement: cfg.CooldownReinforcementWindow,
	}
}

func maxWindow(cfg *config.Config) time.Duration {
	w := windowsFrom(cfg)
	def := cooldown.DefaultWindows()
	longest := max(w.New, w.Reinforcement)
	return max(longest, def.Reinforcement)
}

// setInitError records an initialization error.
func (s *Service) setInitError(err error) {
	s.initMu.Lock()
	s.initError = err
	s.initMu.Unlock()
	log.Error().Err(err).Msg("Async initialization failed")
}

// GetInitError returns any initialization error.
func (s *Service) GetInitError() error {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	return s.initError
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(middleware.RealIP)
	s.router.Use(SecurityHeaders)
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	// Health check (both root and API-prefixed for compatibility)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/version", s.handleVersion)

	// Readiness check - returns 200 only when fully initialized
	s.router.Get("/api/ready", s.handleReady)

	// Routes that require DB to be ready
	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)
		r.Use(RequireUser)
		r.Use(PerUserRateLimitMiddleware(s.limiter))
		r.Use(MaxBodySize(MaxRequestBodySize))
		r.Use(RequireJSONContentType)

		r.Route("/api/suggested/{surface}", func(r chi.Router) {
			r.Get("/", s.handleGetSuggested)
			r.Post("/", s.handleCreateSuggestions)
			r.Get("/plan", s.handleGetSuggestedPlan)
			r.Post("/{id}/accept", s.handleAcceptSuggestion)
			r.Post("/{id}/dismiss", s.handleDismissSuggestion)
		})

		r.Post("/api/items/{surface}/{id}/archive", s.handleArchiveItem)
		r.Post("/api/items/{surface}/{id}/restore", s.handleRestoreItem)
	})
}

// Start starts the worker service.
// The HTTP server starts immediately; database initialization happens async.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().
		Str("addr", s.config.Addr()).
		Msg("Worker HTTP server started (initialization in progress)")

	return nil
}

// Shutdown gracefully shuts down the service.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	if s.configWatcher != nil {
		_ = s.configWatcher.Stop()
	}

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.embedder != nil {
		if err := s.embedder.Close(); err != nil {
			log.Error().Err(err).Msg("Embedding model close error")
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Error().Err(err).Msg("Redis close error")
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Error().Err(err).Msg("Database close error")
		}
	}

	log.Info().Msg("Worker service shutdown complete")
	return nil
}
