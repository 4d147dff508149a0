// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of the auth service. Values come from the
// environment; the server command may override individual fields from flags.
type Config struct {
	Port    int    `env:"BLOGAUTH_PORT" envDefault:"8080"`
	DataDir string `env:"BLOGAUTH_DATA_DIR" envDefault:"./data"`

	// Backend selects the document store: "file" (default) or "bbolt".
	Backend string `env:"BLOGAUTH_BACKEND" envDefault:"file"`

	// TokenSecret signs bearer tokens. When empty a random secret is
	// generated at boot; every restart then invalidates outstanding tokens.
	TokenSecret string `env:"BLOGAUTH_TOKEN_SECRET"`

	SessionTimeout  time.Duration `env:"BLOGAUTH_SESSION_TIMEOUT" envDefault:"24h"`
	CleanupInterval time.Duration `env:"BLOGAUTH_CLEANUP_INTERVAL" envDefault:"1h"`

	// MaxSessionsPerUser caps concurrent sessions per username; the cleanup
	// sweep enforces it retroactively.
	MaxSessionsPerUser int `env:"BLOGAUTH_MAX_SESSIONS_PER_USER" envDefault:"10"`

	// SingleSession makes a new login replace the user's prior session,
	// the behavior of the admin login endpoint.
	SingleSession bool `env:"BLOGAUTH_SINGLE_SESSION" envDefault:"true"`

	CacheTTL     time.Duration `env:"BLOGAUTH_CACHE_TTL" envDefault:"5m"`
	CacheMaxSize int           `env:"BLOGAUTH_CACHE_MAX_SIZE" envDefault:"100"`

	// AuthRatePerSecond/AuthRateBurst bound the per-IP token bucket on the
	// auth endpoints.
	AuthRatePerSecond float64 `env:"BLOGAUTH_AUTH_RATE_PER_SECOND" envDefault:"5"`
	AuthRateBurst     int     `env:"BLOGAUTH_AUTH_RATE_BURST" envDefault:"10"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.Backend != "file" && cfg.Backend != "bbolt" {
		return Config{}, fmt.Errorf("unknown backend %q (want file or bbolt)", cfg.Backend)
	}
	return cfg, nil
}
