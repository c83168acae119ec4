// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads and validates the server configuration from YAML
// with environment variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-passkey/internal/rest"
	"github.com/jeremyhahn/go-passkey/pkg/ceremony"
	"github.com/jeremyhahn/go-passkey/pkg/challenge"
	"github.com/jeremyhahn/go-passkey/pkg/directory"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
	"github.com/jeremyhahn/go-passkey/pkg/secrets"
)

// Cache backend names.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Credential store backend names.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// DefaultSecretEnv is the environment variable the system secret is
// read from when the config does not name another one.
const DefaultSecretEnv = "PASSKEY_SECRET"

// Config represents the complete server configuration
type Config struct {
	Server       ServerConfig          `yaml:"server"`
	Logging      LoggingConfig         `yaml:"logging"`
	Metrics      MetricsConfig         `yaml:"metrics"`
	RateLimit    RateLimitConfig       `yaml:"ratelimit"`
	Secret       SecretConfig          `yaml:"secret"`
	RelyingParty ceremony.Config       `yaml:"relying_party"`
	Challenge    challenge.Config      `yaml:"challenge"`
	Guard        ratelimit.GuardConfig `yaml:"guard"`
	Session      rest.SessionConfig    `yaml:"session"`
	Cache        CacheConfig           `yaml:"cache"`
	Store        StoreConfig           `yaml:"store"`
	Users        []directory.User      `yaml:"users"`
	AdminUsers   []int64               `yaml:"admin_users"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RateLimitConfig controls the per-IP request throttle applied in front
// of the guard's per-ceremony budgets.
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
}

// SecretConfig names the environment variable holding the system secret.
// The secret itself never appears in the config file.
type SecretConfig struct {
	Env string `yaml:"env"`
}

// CacheConfig selects the nonce/counter cache backend
type CacheConfig struct {
	Backend string       `yaml:"backend"`
	Redis   *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// StoreConfig selects the credential store backend
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration
func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("PASSKEY_LISTEN"); addr != "" {
		cfg.Server.Address = addr
	}
	if level := os.Getenv("PASSKEY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PASSKEY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if addr := os.Getenv("PASSKEY_REDIS_ADDR"); addr != "" {
		if cfg.Cache.Redis == nil {
			cfg.Cache.Redis = &RedisConfig{}
		}
		cfg.Cache.Backend = CacheRedis
		cfg.Cache.Redis.Addr = addr
	}
	if path := os.Getenv("PASSKEY_DB_PATH"); path != "" {
		cfg.Store.Backend = StoreSQLite
		cfg.Store.Path = path
	}
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Secret.Env == "" {
		c.Secret.Env = DefaultSecretEnv
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheMemory
	}
	if c.Store.Backend == "" {
		c.Store.Backend = StoreMemory
	}
	c.RelyingParty.SetDefaults()
	c.Challenge.SetDefaults()
	c.Guard.SetDefaults()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.Redis == nil || c.Cache.Redis.Addr == "" {
			return fmt.Errorf("redis cache backend requires an address")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("sqlite store backend requires a path")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if err := c.RelyingParty.Validate(); err != nil {
		return err
	}

	return nil
}

// SecretProvider returns a provider for the system secret named by the
// configured environment variable. The secret gates every ceremony;
// absence or weakness surfaces here, not as a default.
func (c *Config) SecretProvider() (secrets.Provider, error) {
	env := c.Secret.Env
	if env == "" {
		env = DefaultSecretEnv
	}
	return secrets.NewEnvProvider(env)
}
