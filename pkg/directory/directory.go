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

// Package directory resolves login names to opaque user identifiers.
// The directory is a collaborator of the ceremony engine; callers must
// not leak whether a name is unknown versus known-but-credentialless.
package directory

import (
	"context"
	"errors"
	"sync"
)

// ErrUnknownUser is returned when a login name or id cannot be resolved.
var ErrUnknownUser = errors.New("unknown user")

// User is a directory entry.
type User struct {
	ID          int64  `json:"id" yaml:"id"`
	Username    string `json:"username" yaml:"username"`
	DisplayName string `json:"display_name" yaml:"display_name"`
}

// Directory resolves users.
type Directory interface {
	// ByUsername resolves a login name; ErrUnknownUser when absent.
	ByUsername(ctx context.Context, username string) (*User, error)

	// ByID resolves a user id; ErrUnknownUser when absent.
	ByID(ctx context.Context, id int64) (*User, error)
}

// MemoryDirectory is an in-memory Directory for tests and development.
type MemoryDirectory struct {
	mu         sync.RWMutex
	byID       map[int64]*User
	byUsername map[string]*User
	nextID     int64
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:       make(map[int64]*User),
		byUsername: make(map[string]*User),
		nextID:     1,
	}
}

// Add registers a user, assigning an id when the given one is zero.
func (d *MemoryDirectory) Add(user User) *User {
	d.mu.Lock()
	defer d.mu.Unlock()

	if user.ID == 0 {
		user.ID = d.nextID
	}
	if user.ID >= d.nextID {
		d.nextID = user.ID + 1
	}
	stored := user
	d.byID[stored.ID] = &stored
	d.byUsername[stored.Username] = &stored
	return &stored
}

// ByUsername resolves a login name.
func (d *MemoryDirectory) ByUsername(_ context.Context, username string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.byUsername[username]
	if !ok {
		return nil, ErrUnknownUser
	}
	out := *user
	return &out, nil
}

// ByID resolves a user id.
func (d *MemoryDirectory) ByID(_ context.Context, id int64) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.byID[id]
	if !ok {
		return nil, ErrUnknownUser
	}
	out := *user
	return &out, nil
}
