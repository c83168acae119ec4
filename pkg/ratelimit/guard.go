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

package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-passkey/pkg/cache"
)

// Guard errors.
var (
	// ErrRateLimited is returned when a (purpose, identifier) pair has
	// exhausted its attempt budget for the current window.
	ErrRateLimited = errors.New("rate limited")

	// ErrLockedOut is returned when a (username, source) pair has
	// accumulated too many failures.
	ErrLockedOut = errors.New("locked out")
)

const (
	ratePrefix    = "guard:rate:"
	lockoutPrefix = "guard:lockout:"
	tagPrefix     = "guard:lockout:user:"
)

// GuardConfig tunes the ceremony guard.
type GuardConfig struct {
	// MaxAttempts is the attempt budget per (purpose, identifier) pair
	// within Window. Default: 10
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// Window is the sliding attempt window. Default: 300s
	Window time.Duration `yaml:"window" json:"window"`

	// LockoutThreshold is the failure count that locks a
	// (username, source) pair. Default: 5
	LockoutThreshold int `yaml:"lockout_threshold" json:"lockout_threshold"`

	// LockoutDuration is how long a lockout lasts. Default: 900s
	LockoutDuration time.Duration `yaml:"lockout_duration" json:"lockout_duration"`
}

// SetDefaults sets default values for unset configuration fields.
func (c *GuardConfig) SetDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
	if c.Window == 0 {
		c.Window = 300 * time.Second
	}
	if c.LockoutThreshold == 0 {
		c.LockoutThreshold = 5
	}
	if c.LockoutDuration == 0 {
		c.LockoutDuration = 900 * time.Second
	}
}

// Guard enforces sliding-window attempt limits per (purpose, identifier)
// and failure lockouts per (username, source). Identifiers are hashed
// before use so raw usernames and addresses never appear in cache keys.
type Guard struct {
	counters cache.Cache
	config   GuardConfig
}

// NewGuard creates a ceremony guard backed by the given counter cache.
func NewGuard(counters cache.Cache, config *GuardConfig) (*Guard, error) {
	if counters == nil {
		return nil, fmt.Errorf("counter cache is required")
	}
	cfg := GuardConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.SetDefaults()
	return &Guard{counters: counters, config: cfg}, nil
}

// CheckRate returns ErrRateLimited when the (purpose, identifier) pair
// has already used its attempt budget.
func (g *Guard) CheckRate(ctx context.Context, purpose, identifier string) error {
	count, err := g.counters.Count(ctx, rateKey(purpose, identifier))
	if err != nil {
		return fmt.Errorf("failed to read attempt counter: %w", err)
	}
	if count >= int64(g.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// RecordAttempt increments the attempt counter for the pair, refreshing
// the window on every increment.
func (g *Guard) RecordAttempt(ctx context.Context, purpose, identifier string) error {
	if _, err := g.counters.Incr(ctx, rateKey(purpose, identifier), g.config.Window); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// CheckLockout returns ErrLockedOut when the (username, source) pair has
// reached the failure threshold.
func (g *Guard) CheckLockout(ctx context.Context, username, source string) error {
	count, err := g.counters.Count(ctx, lockoutKey(username, source))
	if err != nil {
		return fmt.Errorf("failed to read lockout counter: %w", err)
	}
	if count >= int64(g.config.LockoutThreshold) {
		return ErrLockedOut
	}
	return nil
}

// RecordFailure increments the failure counter for the pair and tags it
// under the username so an administrator can clear every source at once.
func (g *Guard) RecordFailure(ctx context.Context, username, source string) error {
	key := lockoutKey(username, source)
	if _, err := g.counters.Incr(ctx, key, g.config.LockoutDuration); err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	if err := g.counters.Tag(ctx, userTag(username), key, g.config.LockoutDuration); err != nil {
		return fmt.Errorf("failed to tag failure: %w", err)
	}
	return nil
}

// RecordSuccess unconditionally clears the failure counter for the pair.
func (g *Guard) RecordSuccess(ctx context.Context, username, source string) error {
	if err := g.counters.Del(ctx, lockoutKey(username, source)); err != nil {
		return fmt.Errorf("failed to clear failure counter: %w", err)
	}
	return nil
}

// ResetLockout clears lockout state. With a source it clears that
// specific pair; with an empty source it clears every counter tagged
// with the username, whatever source addresses were involved.
func (g *Guard) ResetLockout(ctx context.Context, username, source string) error {
	if source != "" {
		if err := g.counters.Del(ctx, lockoutKey(username, source)); err != nil {
			return fmt.Errorf("failed to reset lockout: %w", err)
		}
		return nil
	}

	tag := userTag(username)
	keys, err := g.counters.Tagged(ctx, tag)
	if err != nil {
		return fmt.Errorf("failed to list lockouts: %w", err)
	}
	for _, key := range keys {
		if err := g.counters.Del(ctx, key); err != nil {
			return fmt.Errorf("failed to reset lockout: %w", err)
		}
	}
	if err := g.counters.Del(ctx, tag); err != nil {
		return fmt.Errorf("failed to clear lockout tag: %w", err)
	}
	return nil
}

// Config returns the guard's effective configuration.
func (g *Guard) Config() GuardConfig {
	return g.config
}

func rateKey(purpose, identifier string) string {
	return ratePrefix + hashKey(purpose, identifier)
}

func lockoutKey(username, source string) string {
	return lockoutPrefix + hashKey(username, source)
}

func userTag(username string) string {
	return tagPrefix + hashKey(username)
}

func hashKey(parts ...string) string {
	h := sha256.New()
	for i, part := range parts {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
