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

// Package correlation propagates request correlation IDs through
// contexts so the two halves of a ceremony can be tied together in
// logs even though no server-side session links them.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// IDKey is the context key for storing correlation IDs
	IDKey contextKey = "correlation-id"

	// Header is the HTTP header clients may supply a correlation ID in;
	// the same header carries the effective ID back in responses.
	Header = "X-Correlation-ID"
)

// WithID adds a correlation ID to the context.
func WithID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, IDKey, id)
}

// ID retrieves the correlation ID from context, or an empty string.
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(IDKey).(string); ok {
		return id
	}
	return ""
}

// NewID generates a new UUID v4 correlation ID.
func NewID() string {
	return uuid.New().String()
}

// GetOrGenerate retrieves an existing correlation ID from context or
// generates a new one, so middleware can guarantee one is present.
func GetOrGenerate(ctx context.Context) string {
	if id := ID(ctx); id != "" {
		return id
	}
	return NewID()
}
