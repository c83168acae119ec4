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
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jeremyhahn/go-passkey/pkg/credential"
)

// RegistrationOptions is the bundle returned by BeginRegistration: the
// creation options for the browser plus the signed challenge token the
// client must echo back.
type RegistrationOptions struct {
	Options *protocol.CredentialCreation `json:"options"`
	Token   string                       `json:"challengeToken"`
}

// AssertionOptions is the bundle returned by the assertion begin
// operations.
type AssertionOptions struct {
	Options *protocol.CredentialAssertion `json:"options"`
	Token   string                        `json:"challengeToken"`
}

// ceremonyUser adapts a directory user and their stored credentials to
// the go-webauthn User interface. The id is the deterministic user
// handle, never the raw account id.
type ceremonyUser struct {
	handle      []byte
	name        string
	displayName string
	credentials []webauthn.Credential
}

// WebAuthnID returns the user's WebAuthn ID (user handle).
func (u *ceremonyUser) WebAuthnID() []byte {
	return u.handle
}

// WebAuthnName returns the user's login name.
func (u *ceremonyUser) WebAuthnName() string {
	return u.name
}

// WebAuthnDisplayName returns the user's display name.
func (u *ceremonyUser) WebAuthnDisplayName() string {
	if u.displayName == "" {
		return u.name
	}
	return u.displayName
}

// WebAuthnCredentials returns the user's registered credentials.
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// toWebAuthnCredential converts a stored credential to the go-webauthn
// library's type for ceremony verification.
func toWebAuthnCredential(c *credential.Credential) webauthn.Credential {
	return webauthn.Credential{
		ID:        c.CredentialID,
		PublicKey: c.PublicKey,
		Transport: toTransports(c.Transports),
		Authenticator: webauthn.Authenticator{
			SignCount: c.SignCount,
		},
	}
}

// toTransports converts transport hint strings to protocol transports.
func toTransports(hints []string) []protocol.AuthenticatorTransport {
	if len(hints) == 0 {
		return nil
	}
	transports := make([]protocol.AuthenticatorTransport, len(hints))
	for i, hint := range hints {
		transports[i] = protocol.AuthenticatorTransport(hint)
	}
	return transports
}

// transportStrings converts protocol transports to storable strings.
func transportStrings(transports []protocol.AuthenticatorTransport) []string {
	if len(transports) == 0 {
		return nil
	}
	hints := make([]string, len(transports))
	for i, t := range transports {
		hints[i] = string(t)
	}
	return hints
}
