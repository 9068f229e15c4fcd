// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all tunables for the learnbuild runtime.
type Config struct {
	// RedisAddr is the address of the remote key-value store. Empty
	// means no remote is configured and the system runs offline-only.
	RedisAddr string `env:"LEARNBUILD_REDIS_ADDR"`

	// CachePath is the local cache database file. Empty resolves to
	// the default XDG data path.
	CachePath string `env:"LEARNBUILD_CACHE"`

	// CachePrefix namespaces every key in the local cache.
	CachePrefix string `env:"LEARNBUILD_CACHE_PREFIX" envDefault:"learnbuild:"`

	// ModuleKeyPrefix is inserted between "module:" and the user id in
	// persisted module-progress keys. Kept configurable for
	// compatibility with existing stored data.
	ModuleKeyPrefix string `env:"LEARNBUILD_MODULE_PREFIX" envDefault:"progress:"`

	// DailyXPCap is the maximum XP a user can earn per calendar day.
	DailyXPCap int `env:"LEARNBUILD_DAILY_XP_CAP" envDefault:"1000"`

	// SyncMaxAttempts is the retry budget for a queued remote write
	// before it is dropped.
	SyncMaxAttempts int `env:"LEARNBUILD_SYNC_MAX_ATTEMPTS" envDefault:"8"`

	// SyncTTL is the TTL applied to remote writes. Zero means no expiry.
	SyncTTL time.Duration `env:"LEARNBUILD_SYNC_TTL"`

	// CatalogPath points at an external quest/module catalog JSON file.
	// Empty uses the built-in seed catalog.
	CatalogPath string `env:"LEARNBUILD_CATALOG"`

	// UserID is the active user for CLI sessions.
	UserID string `env:"LEARNBUILD_USER" envDefault:"local"`

	// LogMode selects the logger encoder ("dev" or "prod").
	LogMode string `env:"LEARNBUILD_LOG_MODE" envDefault:"dev"`
}

// Load parses configuration from environment variables and fills in the
// default cache path when none is set.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.CachePath == "" {
		p, err := DefaultCachePath()
		if err != nil {
			return Config{}, err
		}
		cfg.CachePath = p
	}
	return cfg, nil
}

// DefaultCachePath resolves the cache file path in priority order:
// $XDG_DATA_HOME/learnbuild/cache.db, then ~/.local/share/learnbuild/cache.db.
func DefaultCachePath() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	p := filepath.Join(dataHome, "learnbuild", "cache.db")
	return p, ensureDir(p)
}

// ensureDir creates the parent directory of path if it doesn't exist.
func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
