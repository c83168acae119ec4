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

package ceremony

import (
	"errors"
	"fmt"
)

// Sentinel errors for ceremony operations.
var (
	// ErrUnknownCredential is returned when an assertion references a
	// credential that does not exist.
	ErrUnknownCredential = errors.New("unknown credential")

	// ErrRevokedCredential is returned when an assertion references a
	// revoked credential. Revocation is permanent.
	ErrRevokedCredential = errors.New("credential revoked")

	// ErrCredentialOwnerMismatch is returned when the asserted credential
	// belongs to a different user than the one the challenge was minted for.
	ErrCredentialOwnerMismatch = errors.New("credential owner mismatch")

	// ErrSignatureInvalid is returned when the cryptographic assertion or
	// attestation verification fails.
	ErrSignatureInvalid = errors.New("signature verification failed")

	// ErrCounterRegression is returned when the reported signature counter
	// did not increase. This suggests a cloned authenticator and should be
	// elevated by operators.
	ErrCounterRegression = errors.New("signature counter regression")

	// ErrNoCredentials is returned when a user has no active credentials.
	ErrNoCredentials = errors.New("user has no registered credentials")

	// ErrRegistrationFailed is the generic registration failure surfaced
	// to callers; the specific cause is logged, never returned.
	ErrRegistrationFailed = errors.New("registration failed")

	// ErrAuthenticationFailed is the generic authentication failure the
	// transport layer collapses credential errors into.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNotConfigured is returned when the engine is not properly configured.
	ErrNotConfigured = errors.New("ceremony engine not configured")
)

// Error wraps an error with the operation that produced it.
type Error struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with the given operation and error.
func NewError(op string, err error) error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// IsCounterRegression returns true if the error indicates a signature
// counter regression.
func IsCounterRegression(err error) bool {
	return errors.Is(err, ErrCounterRegression)
}

// IsCredentialFailure returns true for the credential-specific assertion
// failures that the transport layer must collapse into a generic
// authentication failure.
func IsCredentialFailure(err error) bool {
	return errors.Is(err, ErrUnknownCredential) ||
		errors.Is(err, ErrRevokedCredential) ||
		errors.Is(err, ErrCredentialOwnerMismatch) ||
		errors.Is(err, ErrSignatureInvalid) ||
		errors.Is(err, ErrCounterRegression)
}
