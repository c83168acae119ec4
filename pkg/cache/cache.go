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

// Package cache provides the short-lived state backing for challenge
// nonces, rate-limit counters, and lockout markers. Backends must make
// Remove atomic: when two callers race on the same key, exactly one
// observes true.
package cache

import (
	"context"
	"time"
)

// Cache is a TTL key store with atomic single-use removal and
// sliding-window counters.
type Cache interface {
	// Put records key with the given TTL. Overwrites any existing entry.
	Put(ctx context.Context, key string, ttl time.Duration) error

	// Remove deletes key and reports whether it was present. The check
	// and the delete are a single atomic step.
	Remove(ctx context.Context, key string) (bool, error)

	// Incr increments the counter at key, refreshing the TTL on every
	// increment. Returns the new count.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Count returns the counter at key, or 0 when absent or expired.
	Count(ctx context.Context, key string) (int64, error)

	// Set stores a value under key with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Del removes key. Removing a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Tag adds member to the set at tag, refreshing the set's TTL.
	Tag(ctx context.Context, tag, member string, ttl time.Duration) error

	// Tagged returns the members of the set at tag.
	Tagged(ctx context.Context, tag string) ([]string, error)
}
