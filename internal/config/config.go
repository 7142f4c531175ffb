// Package config loads application configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all tunables of the service. Every field has a working
// default so a bare `tenantgate` starts locally without any setup.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `env:"ADDR" envDefault:":8080"`

	// DatabasePath is the SQLite file backing the domain store.
	DatabasePath string `env:"DATABASE_PATH" envDefault:"tenantgate.db"`

	// RedisURL enables the shared cache tier when set, in the format
	// "redis://:password@localhost:6379/0". Empty runs local-cache only.
	RedisURL string `env:"REDIS_URL"`

	// BaseDomain is the platform's own domain. Subdomains of it are
	// trusted without DNS verification.
	BaseDomain string `env:"BASE_DOMAIN" envDefault:"b2xsites.com"`

	// DefaultTenantID, when set, serves unknown hosts instead of a 404.
	DefaultTenantID string `env:"DEFAULT_TENANT_ID"`

	// Cache bounds. CacheTTL is the absolute staleness bound for a
	// resolved binding; RevalidateAfter triggers a background-style
	// recheck on hits older than it.
	CacheTTL         time.Duration `env:"CACHE_TTL" envDefault:"60s"`
	CacheNegativeTTL time.Duration `env:"CACHE_NEGATIVE_TTL" envDefault:"5s"`
	RevalidateAfter  time.Duration `env:"CACHE_REVALIDATE_AFTER" envDefault:"30s"`
	CacheSize        int           `env:"CACHE_SIZE" envDefault:"10000"`

	// StoreTimeout bounds a single store lookup on the request path.
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"200ms"`

	// DNSTimeout bounds a single TXT lookup during verification.
	DNSTimeout time.Duration `env:"DNS_TIMEOUT" envDefault:"5s"`

	// TokenTTL is the lifetime of a verification token.
	TokenTTL time.Duration `env:"TOKEN_TTL" envDefault:"72h"`

	// Verification sweep. Disabled by default; operators enable it once
	// outbound DNS from the service is allowed.
	SweepEnabled  bool          `env:"VERIFY_SWEEP_ENABLED" envDefault:"false"`
	SweepInterval time.Duration `env:"VERIFY_SWEEP_INTERVAL" envDefault:"5m"`
}

// Load reads the optional .env file and parses the environment into a
// Config.
func Load() (Config, error) {
	// The .env file is optional; a missing file is not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}
