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

// Package credential defines the passkey credential model and its
// durable store. A credential binds one authenticator key pair to one
// owning user; revocation is permanent and deletion is logical.
package credential

import (
	"context"
	"errors"
)

// Store errors.
var (
	// ErrNotFound is returned when a credential cannot be found.
	ErrNotFound = errors.New("credential not found")

	// ErrDuplicateCredentialID is returned when inserting a credential
	// whose authenticator-supplied id already exists.
	ErrDuplicateCredentialID = errors.New("credential id already registered")

	// ErrSignCountConflict is returned when a compare-and-set counter
	// update loses to a concurrent writer.
	ErrSignCountConflict = errors.New("sign count changed concurrently")
)

// State is the lifecycle state of a credential.
type State string

// Credential lifecycle states.
const (
	StateActive  State = "active"
	StateRevoked State = "revoked"
	StateDeleted State = "deleted"
)

// Credential is one registered passkey. Timestamps are epoch seconds;
// zero means never.
type Credential struct {
	// ID is the server-assigned identifier, stable and never reused.
	ID string `json:"id" yaml:"id"`

	// UserID is the owning account.
	UserID int64 `json:"user_id" yaml:"user_id"`

	// CredentialID is the authenticator-supplied identifier, globally
	// unique across non-deleted credentials. Primary lookup key for
	// assertions.
	CredentialID []byte `json:"credential_id" yaml:"credential_id"`

	// PublicKey is the COSE-encoded public key. Immutable after creation.
	PublicKey []byte `json:"public_key" yaml:"public_key"`

	// SignCount is the authenticator's signature counter. Zero means the
	// authenticator does not support counters.
	SignCount uint32 `json:"sign_count" yaml:"sign_count"`

	// UserHandle is the opaque identifier sent to the authenticator,
	// derived deterministically from the owning user.
	UserHandle []byte `json:"user_handle" yaml:"user_handle"`

	// Transports are advisory transport hints ("usb", "internal", ...).
	Transports []string `json:"transports" yaml:"transports"`

	// Label is a display name. Not security-relevant.
	Label string `json:"label" yaml:"label"`

	CreatedAt  int64 `json:"created_at" yaml:"created_at"`
	LastUsedAt int64 `json:"last_used_at" yaml:"last_used_at"`
	RevokedAt  int64 `json:"revoked_at" yaml:"revoked_at"`
	RevokedBy  int64 `json:"revoked_by" yaml:"revoked_by"`
	DeletedAt  int64 `json:"deleted_at" yaml:"deleted_at"`
}

// State returns the credential's lifecycle state. Deletion shadows
// revocation.
func (c *Credential) State() State {
	switch {
	case c.DeletedAt != 0:
		return StateDeleted
	case c.RevokedAt != 0:
		return StateRevoked
	default:
		return StateActive
	}
}

// Revoked reports whether the credential has been revoked.
func (c *Credential) Revoked() bool {
	return c.RevokedAt != 0
}

// Store is the durable credential persistence collaborator. All reads
// exclude soft-deleted rows; ListByUser additionally includes revoked
// rows for audit and admin views.
type Store interface {
	// Insert persists a new credential. Fails with
	// ErrDuplicateCredentialID when the authenticator id is taken.
	Insert(ctx context.Context, cred *Credential) error

	// GetByCredentialID looks up by the authenticator-supplied id.
	GetByCredentialID(ctx context.Context, credentialID []byte) (*Credential, error)

	// GetByIDAndUser looks up by server id, scoped to the owning user.
	GetByIDAndUser(ctx context.Context, id string, userID int64) (*Credential, error)

	// ListActiveByUser returns the user's active credentials.
	ListActiveByUser(ctx context.Context, userID int64) ([]*Credential, error)

	// ListByUser returns the user's credentials including revoked ones.
	ListByUser(ctx context.Context, userID int64) ([]*Credential, error)

	// CountActiveByUser returns the number of active credentials.
	CountActiveByUser(ctx context.Context, userID int64) (int, error)

	// UpdateSignCount sets the counter from oldCount to newCount as a
	// compare-and-set; ErrSignCountConflict when the stored value no
	// longer equals oldCount.
	UpdateSignCount(ctx context.Context, id string, oldCount, newCount uint32) error

	// UpdateLastUsed stamps the credential's last-used time.
	UpdateLastUsed(ctx context.Context, id string) error

	// UpdateLabel renames the credential.
	UpdateLabel(ctx context.Context, id, label string) error

	// Revoke permanently revokes the credential. Revoking an already
	// revoked credential keeps the original revocation.
	Revoke(ctx context.Context, id string, revokedBy int64) error

	// Delete soft-deletes the credential; the row is retained for audit.
	Delete(ctx context.Context, id string) error
}
