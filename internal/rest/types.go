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

package rest

import "encoding/json"

// RegisterBeginRequest is the body for POST /webauthn/register/begin.
type RegisterBeginRequest struct {
	Username string `json:"username"`
}

// RegisterFinishRequest is the body for POST /webauthn/register/finish.
// Response carries the authenticator's attestation response verbatim.
type RegisterFinishRequest struct {
	Username       string          `json:"username"`
	ChallengeToken string          `json:"challengeToken"`
	Label          string          `json:"label,omitempty"`
	Response       json.RawMessage `json:"response"`
}

// RegisterFinishResponse confirms a stored credential.
type RegisterFinishResponse struct {
	CredentialID string `json:"credential_id"`
	Label        string `json:"label,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// LoginBeginRequest is the body for POST /webauthn/login/begin.
type LoginBeginRequest struct {
	Username string `json:"username"`
}

// LoginFinishRequest is the body for POST /webauthn/login/finish.
// Username is empty for the discoverable flow; the user is then resolved
// from the credential id inside the assertion response.
type LoginFinishRequest struct {
	Username       string          `json:"username,omitempty"`
	ChallengeToken string          `json:"challengeToken"`
	Response       json.RawMessage `json:"response"`
}

// LoginFinishResponse is returned after a verified assertion.
type LoginFinishResponse struct {
	Token        string `json:"token"`
	UserID       int64  `json:"user_id"`
	CredentialID string `json:"credential_id"`
}

// ResetLockoutRequest is the optional body for
// POST /admin/lockouts/{username}/reset. An empty source clears the
// lockout for every source the user accumulated failures from.
type ResetLockoutRequest struct {
	Source string `json:"source,omitempty"`
}

// StatusResponse is a minimal acknowledgement body.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the JSON error envelope for all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
