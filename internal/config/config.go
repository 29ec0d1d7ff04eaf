// Package config provides configuration management for suggestd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker service.
	DefaultWorkerPort = 38480

	// DefaultEmbeddingProvider needs no network access.
	DefaultEmbeddingProvider = "builtin"

	// EnvPrefix prefixes every settings key and environment variable.
	EnvPrefix = "SUGGESTD_"
)

// Cooldown backends.
const (
	CooldownBackendDB     = "db"
	CooldownBackendRedis  = "redis"
	CooldownBackendMemory = "memory"
)

// Config holds the application configuration.
type Config struct {
	// Worker settings
	WorkerHost string `json:"worker_host"`
	WorkerPort int    `json:"worker_port"`
	LogLevel   string `json:"log_level"`

	// Database settings
	DSN      string `json:"dsn"`
	MaxConns int    `json:"max_conns"`

	// Embedding settings
	EmbeddingProvider     string `json:"embedding_provider"` // builtin or openai
	EmbeddingBaseURL      string `json:"embedding_base_url"`
	EmbeddingModel        string `json:"embedding_model"`
	EmbeddingAPIKey       string `json:"-"`
	EmbeddingDimensions   int    `json:"embedding_dimensions"`
	EmbeddingMaxTokens    int    `json:"embedding_max_tokens"`
	EmbeddingCacheEnabled bool   `json:"embedding_cache_enabled"`

	// Cooldown settings
	CooldownBackend             string        `json:"cooldown_backend"` // db, redis or memory
	RedisAddr                   string        `json:"redis_addr"`
	CooldownNewWindow           time.Duration `json:"cooldown_new_window"`
	CooldownReinforcementWindow time.Duration `json:"cooldown_reinforcement_window"`

	// Similarity bands
	DuplicateThreshold float64 `json:"duplicate_threshold"`
	SimilarThreshold   float64 `json:"similar_threshold"`
	NewGuardThreshold  float64 `json:"new_guard_threshold"`
	GuardIgnoresScope  bool    `json:"guard_ignores_scope"`

	// Maintenance settings
	MaintenanceEnabled  bool          `json:"maintenance_enabled"`
	MaintenanceInterval time.Duration `json:"maintenance_interval"`
	SuggestionRetention time.Duration `json:"suggestion_retention"` // archived suggestions
	EmbeddingRetention  time.Duration `json:"embedding_retention"`  // cached vectors
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path ($SUGGESTD_DATA_DIR or ~/.suggestd).
func DataDir() string {
	if dir := os.Getenv(EnvPrefix + "DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".suggestd")
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "suggestd.db")
}

// SettingsPath returns the settings file path. A settings.yaml takes precedence
// over settings.json when both exist.
func SettingsPath() string {
	yamlPath := filepath.Join(DataDir(), "settings.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings creates a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	defaultSettings := `{
  "SUGGESTD_WORKER_PORT": 38480,
  "SUGGESTD_EMBEDDING_PROVIDER": "builtin",
  "SUGGESTD_COOLDOWN_BACKEND": "db",
  "SUGGESTD_COOLDOWN_NEW_WINDOW": "72h",
  "SUGGESTD_COOLDOWN_REINFORCEMENT_WINDOW": "168h"
}
`
	return os.WriteFile(path, []byte(defaultSettings), 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		WorkerHost:                  "127.0.0.1",
		WorkerPort:                  DefaultWorkerPort,
		LogLevel:                    "info",
		DSN:                         DBPath(),
		MaxConns:                    10,
		EmbeddingProvider:           DefaultEmbeddingProvider,
		EmbeddingBaseURL:            "https://api.openai.com/v1",
		EmbeddingModel:              "text-embedding-3-small",
		EmbeddingMaxTokens:          8191,
		CooldownBackend:             CooldownBackendDB,
		RedisAddr:                   "127.0.0.1:6379",
		CooldownNewWindow:           72 * time.Hour,
		CooldownReinforcementWindow: 7 * 24 * time.Hour,
		DuplicateThreshold:          0.85,
		SimilarThreshold:            0.75,
		NewGuardThreshold:           0.86,
		GuardIgnoresScope:           true,
		MaintenanceEnabled:          true,
		MaintenanceInterval:         24 * time.Hour,
		SuggestionRetention:         30 * 24 * time.Hour,
		EmbeddingRetention:          90 * 24 * time.Hour,
	}
}

// Load loads configuration from the settings file and the environment, merging with defaults.
func Load() (*Config, error) {
	return LoadFrom(SettingsPath())
}

// LoadFrom loads configuration from path (JSON or YAML by extension) and the environment.
// A missing file yields defaults plus environment overrides.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	settings, err := readSettings(path)
	if err != nil {
		return nil, err
	}
	cfg.apply(settings)
	cfg.apply(envSettings())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readSettings reads the flat key/value settings map.
func readSettings(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	settings := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &settings)
	default:
		err = json.Unmarshal(data, &settings)
	}
	if err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", filepath.Base(path), err)
	}
	return settings, nil
}

// envSettings collects SUGGESTD_* environment variables as raw strings.
func envSettings() map[string]any {
	settings := map[string]any{}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(key, EnvPrefix) {
			settings[key] = value
		}
	}
	return settings
}

// apply maps known keys onto the config. Values of the wrong type are ignored.
func (c *Config) apply(settings map[string]any) {
	if len(settings) == 0 {
		return
	}
	get := func(name string) (any, bool) {
		v, ok := settings[EnvPrefix+name]
		return v, ok
	}

	if v, ok := get("WORKER_HOST"); ok {
		setString(&c.WorkerHost, v)
	}
	if v, ok := get("WORKER_PORT"); ok {
		setInt(&c.WorkerPort, v)
	}
	if v, ok := get("LOG_LEVEL"); ok {
		setString(&c.LogLevel, v)
	}
	if v, ok := get("DSN"); ok {
		setString(&c.DSN, v)
	}
	if v, ok := get("MAX_CONNS"); ok {
		setInt(&c.MaxConns, v)
	}
	if v, ok := get("EMBEDDING_PROVIDER"); ok {
		setString(&c.EmbeddingProvider, v)
	}
	if v, ok := get("EMBEDDING_BASE_URL"); ok {
		setString(&c.EmbeddingBaseURL, v)
	}
	if v, ok := get("EMBEDDING_MODEL"); ok {
		setString(&c.EmbeddingModel, v)
	}
	if v, ok := get("EMBEDDING_API_KEY"); ok {
		setString(&c.EmbeddingAPIKey, v)
	}
	if v, ok := get("EMBEDDING_DIMENSIONS"); ok {
		setInt(&c.EmbeddingDimensions, v)
	}
	if v, ok := get("EMBEDDING_MAX_TOKENS"); ok {
		setInt(&c.EmbeddingMaxTokens, v)
	}
	if v, ok := get("EMBEDDING_CACHE"); ok {
		setBool(&c.EmbeddingCacheEnabled, v)
	}
	if v, ok := get("COOLDOWN_BACKEND"); ok {
		setString(&c.CooldownBackend, v)
	}
	if v, ok := get("REDIS_ADDR"); ok {
		setString(&c.RedisAddr, v)
	}
	if v, ok := get("COOLDOWN_NEW_WINDOW"); ok {
		setDuration(&c.CooldownNewWindow, v)
	}
	if v, ok := get("COOLDOWN_REINFORCEMENT_WINDOW"); ok {
		setDuration(&c.CooldownReinforcementWindow, v)
	}
	if v, ok := get("DUPLICATE_THRESHOLD"); ok {
		setFloat(&c.DuplicateThreshold, v)
	}
	if v, ok := get("SIMILAR_THRESHOLD"); ok {
		setFloat(&c.SimilarThreshold, v)
	}
	if v, ok := get("NEW_GUARD_THRESHOLD"); ok {
		setFloat(&c.NewGuardThreshold, v)
	}
	if v, ok := get("GUARD_IGNORES_SCOPE"); ok {
		setBool(&c.GuardIgnoresScope, v)
	}
	if v, ok := get("MAINTENANCE_ENABLED"); ok {
		setBool(&c.MaintenanceEnabled, v)
	}
	if v, ok := get("MAINTENANCE_INTERVAL"); ok {
		setDuration(&c.MaintenanceInterval, v)
	}
	if v, ok := get("SUGGESTION_RETENTION"); ok {
		setDuration(&c.SuggestionRetention, v)
	}
	if v, ok := get("EMBEDDING_RETENTION"); ok {
		setDuration(&c.EmbeddingRetention, v)
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.WorkerPort <= 0 || c.WorkerPort > 65535 {
		return fmt.Errorf("invalid worker port %d", c.WorkerPort)
	}
	switch c.CooldownBackend {
	case CooldownBackendDB, CooldownBackendRedis, CooldownBackendMemory:
	default:
		return fmt.Errorf("invalid cooldown backend %q", c.CooldownBackend)
	}
	if c.SimilarThreshold <= 0 || c.SimilarThreshold > c.DuplicateThreshold || c.DuplicateThreshold > 1 {
		return fmt.Errorf("invalid thresholds: similar %.3f, duplicate %.3f", c.SimilarThreshold, c.DuplicateThreshold)
	}
	if c.NewGuardThreshold <= 0 || c.NewGuardThreshold > 1 {
		return fmt.Errorf("invalid new guard threshold %.3f", c.NewGuardThreshold)
	}
	if c.CooldownNewWindow < 0 || c.CooldownReinforcementWindow < 0 {
		return fmt.Errorf("cooldown windows must not be negative")
	}
	return nil
}

func setString(dst *string, v any) {
	if s, ok := v.(string); ok && s != "" {
		*dst = s
	}
}

func setInt(dst *int, v any) {
	switch n := v.(type) {
	case int:
		*dst = n
	case float64:
		*dst = int(n)
	case string:
		if p, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			*dst = p
		}
	}
}

func setFloat(dst *float64, v any) {
	switch n := v.(type) {
	case float64:
		*dst = n
	case int:
		*dst = float64(n)
	case string:
		if p, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			*dst = p
		}
	}
}

func setBool(dst *bool, v any) {
	switch b := v.(type) {
	case bool:
		*dst = b
	case string:
		if p, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			*dst = p
		}
	}
}

// setDuration accepts Go duration strings ("72h") or a number of days.
func setDuration(dst *time.Duration, v any) {
	switch d := v.(type) {
	case string:
		if p, err := time.ParseDuration(strings.TrimSpace(d)); err == nil {
			*dst = p
		} else if days, err := strconv.ParseFloat(strings.TrimSpace(d), 64); err == nil {
			*dst = time.Duration(days * float64(24*time.Hour))
		}
	case float64:
		*dst = time.Duration(d * float64(24*time.Hour))
	case int:
		*dst = time.Duration(d) * 24 * time.Hour
	}
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		configMu.Lock()
		globalConfig = cfg
		configMu.Unlock()
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Reload re-reads the settings file and replaces the global configuration.
// On error the previous configuration stays in place.
func Reload() (*Config, error) {
	Get()

	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// Addr returns the worker listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.WorkerHost, c.WorkerPort)
}
