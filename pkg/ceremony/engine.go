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
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/jeremyhahn/go-passkey/pkg/challenge"
	"github.com/jeremyhahn/go-passkey/pkg/credential"
	"github.com/jeremyhahn/go-passkey/pkg/directory"
	"github.com/jeremyhahn/go-passkey/pkg/logging"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
	"github.com/jeremyhahn/go-passkey/pkg/secrets"
)

// challengeSize is the number of random bytes signed per ceremony.
const challengeSize = 32

// Engine orchestrates WebAuthn registration and assertion ceremonies.
// It owns no transport concerns; callers feed ceremony outcomes into the
// guard themselves since only they know the request source.
type Engine struct {
	webauthn   *webauthn.WebAuthn
	config     *Config
	secret     []byte
	challenges *challenge.Service
	guard      *ratelimit.Guard
	creds      credential.Store
	users      directory.Directory
	logger     *logging.Logger
	configured bool
}

// Params contains dependencies for creating a ceremony engine.
type Params struct {
	// Config is the relying-party configuration (required).
	Config *Config

	// Secret provides the system secret user handles are derived from
	// (required).
	Secret secrets.Provider

	// Challenges is the signed challenge service (required).
	Challenges *challenge.Service

	// Guard is the rate-limit/lockout guard, exposed for administrative
	// lockout resets (required).
	Guard *ratelimit.Guard

	// Credentials is the credential persistence collaborator (required).
	Credentials credential.Store

	// Directory resolves login names to account ids (required).
	Directory directory.Directory

	// Logger receives ceremony diagnostics. Optional; defaults to the
	// package default logger.
	Logger *logging.Logger
}

// NewEngine creates a ceremony engine with the provided dependencies.
func NewEngine(params Params) (*Engine, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.Secret == nil {
		return nil, fmt.Errorf("secret provider is required")
	}
	if params.Challenges == nil {
		return nil, fmt.Errorf("challenge service is required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("guard is required")
	}
	if params.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if params.Directory == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if params.Logger == nil {
		params.Logger = logging.DefaultLogger()
	}

	// Set defaults and validate
	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	secret, err := params.Secret.Secret()
	if err != nil {
		return nil, err
	}

	// Create the go-webauthn instance
	wa, err := webauthn.New(params.Config.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	return &Engine{
		webauthn:   wa,
		config:     params.Config,
		secret:     secret,
		challenges: params.Challenges,
		guard:      params.Guard,
		creds:      params.Credentials,
		users:      params.Directory,
		logger:     params.Logger,
		configured: true,
	}, nil
}

// UserHandle derives the deterministic WebAuthn user handle for an
// account. Repeat registrations for the same account reuse the same
// handle, and the raw account id never reaches the authenticator.
func (e *Engine) UserHandle(userID int64) []byte {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	h.Write(e.secret)
	return h.Sum(nil)
}

// BeginRegistration starts a registration ceremony for the given
// account. Existing non-revoked credentials become the exclusion set so
// the same authenticator cannot be registered twice.
func (e *Engine) BeginRegistration(ctx context.Context, userID int64, username, displayName string) (*RegistrationOptions, error) {
	if !e.configured {
		return nil, ErrNotConfigured
	}

	user, err := e.loadUser(ctx, userID, username, displayName)
	if err != nil {
		return nil, WrapError("load user credentials", err)
	}

	excludeList := make([]protocol.CredentialDescriptor, len(user.credentials))
	for i, cred := range user.credentials {
		excludeList[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.ID,
			Transport:    cred.Transport,
		}
	}

	options, _, err := e.webauthn.BeginRegistration(user,
		webauthn.WithExclusions(excludeList),
	)
	if err != nil {
		return nil, WrapError("begin registration", err)
	}

	chal, token, err := e.issueChallenge(ctx)
	if err != nil {
		return nil, err
	}

	// The signed challenge replaces the library-generated one; the
	// verification session is rebuilt from the token at finish time.
	options.Response.Challenge = chal

	return &RegistrationOptions{Options: options, Token: token}, nil
}

// FinishRegistration completes a registration ceremony. Verification
// failures collapse into ErrRegistrationFailed; the specific cause is
// logged for operators, never returned.
func (e *Engine) FinishRegistration(ctx context.Context, token string, response []byte, userID int64, username, displayName, label string) (*credential.Credential, error) {
	if !e.configured {
		return nil, ErrNotConfigured
	}
	started := time.Now()

	chal, err := e.verifyToken(ctx, token)
	if err != nil {
		metrics.RecordCeremonyFailure(metrics.CeremonyRegistration, "challenge")
		return nil, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		e.logger.Warn("registration response rejected", "cause", err.Error())
		metrics.RecordCeremonyFailure(metrics.CeremonyRegistration, "parse")
		return nil, NewError("parse registration response", ErrRegistrationFailed)
	}

	// Only the "none" attestation statement format is accepted.
	// Signed formats (packed, tpm, apple, ...) would verify below, but
	// identifying authenticator hardware is not wanted here.
	if format := parsed.Response.AttestationObject.Format; protocol.AttestationFormat(format) != protocol.AttestationFormatNone {
		e.logger.Warn("attestation format rejected", "format", format)
		metrics.RecordCeremonyFailure(metrics.CeremonyRegistration, "attestation_format")
		return nil, NewError("reject attestation format", ErrRegistrationFailed)
	}

	user, err := e.loadUser(ctx, userID, username, displayName)
	if err != nil {
		return nil, WrapError("load user credentials", err)
	}

	session, err := e.registrationSession(user, chal)
	if err != nil {
		return nil, err
	}

	wcred, err := e.webauthn.CreateCredential(user, *session, parsed)
	if err != nil {
		e.logger.Warn("attestation verification failed", "cause", err.Error())
		metrics.RecordCeremonyFailure(metrics.CeremonyRegistration, "verification")
		return nil, NewError("verify attestation", ErrRegistrationFailed)
	}

	now := time.Now().Unix()
	cred := &credential.Credential{
		ID:           uuid.NewString(),
		UserID:       userID,
		CredentialID: wcred.ID,
		PublicKey:    wcred.PublicKey,
		SignCount:    wcred.Authenticator.SignCount,
		UserHandle:   user.handle,
		Transports:   transportStrings(wcred.Transport),
		Label:        label,
		CreatedAt:    now,
	}
	if err := e.creds.Insert(ctx, cred); err != nil {
		metrics.RecordCeremonyFailure(metrics.CeremonyRegistration, "store")
		return nil, WrapError("store credential", err)
	}

	e.logger.Info("credential registered",
		"credential", cred.ID, "transports", cred.Transports)
	metrics.RecordCredentialEvent(metrics.EventRegistered)
	metrics.RecordCeremony(metrics.CeremonyRegistration, metrics.StatusSuccess,
		time.Since(started).Seconds())
	return cred, nil
}

// BeginAssertion starts a username-first assertion ceremony: the user's
// active credentials become the allow-list.
func (e *Engine) BeginAssertion(ctx context.Context, userID int64, username string) (*AssertionOptions, error) {
	if !e.configured {
		return nil, ErrNotConfigured
	}

	user, err := e.loadUser(ctx, userID, username, "")
	if err != nil {
		return nil, WrapError("load user credentials", err)
	}
	if len(user.credentials) == 0 {
		return nil, WrapError("begin assertion", ErrNoCredentials)
	}

	options, _, err := e.webauthn.BeginLogin(user)
	if err != nil {
		return nil, WrapError("begin assertion", err)
	}

	chal, token, err := e.issueChallenge(ctx)
	if err != nil {
		return nil, err
	}
	options.Response.Challenge = chal

	return &AssertionOptions{Options: options, Token: token}, nil
}

// BeginDiscoverableAssertion starts a usernameless assertion ceremony
// with an empty allow-list; the authenticator picks the credential and
// identity is resolved afterwards via ResolveUserFromAssertion.
func (e *Engine) BeginDiscoverableAssertion(ctx context.Context) (*AssertionOptions, error) {
	if !e.configured {
		return nil, ErrNotConfigured
	}

	options, _, err := e.webauthn.BeginDiscoverableLogin()
	if err != nil {
		return nil, WrapError("begin discoverable assertion", err)
	}

	chal, token, err := e.issueChallenge(ctx)
	if err != nil {
		return nil, err
	}
	options.Response.Challenge = chal

	return &AssertionOptions{Options: options, Token: token}, nil
}

// ResolveUserFromAssertion maps an assertion response to the owning
// account id. It fails closed: malformed responses, unknown credential
// ids, and revoked credentials all resolve to directory.ErrUnknownUser
// so the caller cannot distinguish them.
func (e *Engine) ResolveUserFromAssertion(ctx context.Context, response []byte) (int64, error) {
	if !e.configured {
		return 0, ErrNotConfigured
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return 0, directory.ErrUnknownUser
	}
	cred, err := e.creds.GetByCredentialID(ctx, parsed.RawID)
	if err != nil {
		return 0, directory.ErrUnknownUser
	}
	if cred.Revoked() {
		return 0, directory.ErrUnknownUser
	}
	return cred.UserID, nil
}

// FinishAssertion completes an assertion ceremony for the claimed
// account. On any failure no credential state is mutated; the caller
// records the outcome with the guard.
func (e *Engine) FinishAssertion(ctx context.Context, token string, response []byte, userID int64) (*credential.Credential, error) {
	if !e.configured {
		return nil, ErrNotConfigured
	}
	started := time.Now()

	chal, err := e.verifyToken(ctx, token)
	if err != nil {
		metrics.RecordCeremonyFailure(metrics.CeremonyAssertion, "challenge")
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		e.logger.Warn("assertion response rejected", "cause", err.Error())
		metrics.RecordCeremonyFailure(metrics.CeremonyAssertion, "parse")
		return nil, NewError("parse assertion response", ErrAuthenticationFailed)
	}

	stored, err := e.creds.GetByCredentialID(ctx, parsed.RawID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			e.logger.Warn("assertion for unknown credential")
			metrics.RecordCeremonyFailure(metrics.CeremonyAssertion, "unknown_credential")
			return nil, NewError("lookup credential", ErrUnknownCredential)
		}
		return nil, WrapError("lookup credential", err)
	}
	if stored.Revoked() {
		e.logger.Warn("assertion for revoked credential", "credential", stored.ID)
		metrics.RecordCeremonyFailure(metrics.CeremonyAssertion, "revoked_credential")
		return nil, NewError("check credential state", ErrRevokedCredential)
	}
	if stored.UserID != userID {
		e.logger.Warn("assertion credential owner mismatch", "credential", stored.ID)
		metrics.RecordCeremonyFailure(metrics.CeremonyAssertion, "owner_mismatch")
		return nil, NewError("check credential owner", ErrCredentialOwnerMismatch)
	}

	user := &ceremonyUser{
		handle:      e.UserHandle(userID),
		name:        strconv.FormatInt(userID, 10),
		credentials: []webauthn.Credential{toWebAuthnCredential(stored)},
	}

	session, err := e.assertionSession(user, chal)
	if err != nil {
		return nil, err
	}

	validated, err := e.webauthn.ValidateLogin(user, *session, parsed)
	if err != nil {
		e.logger.Warn("assertion verification failed",
			"credential", stored.ID, "cause", err.Error())
		metrics.RecordCeremonyFailure(metrics.CeremonyAssertion, "verification")
		return nil, NewError("verify assertion", ErrSignatureInvalid)
	}

	// Strictly increasing unless the authenticator never counts.
	newCount := validated.Authenticator.SignCount
	oldCount := stored.SignCount
	if !(newCount > oldCount || (newCount == 0 && oldCount == 0)) {
		e.logger.Warn("signature counter regression, possible cloned authenticator",
			"credential", stored.ID, "stored", oldCount, "reported", newCount)
		metrics.RecordCounterRegression()
		metrics.RecordCeremonyFailure(metrics.CeremonyAssertion, "counter_regression")
		return nil, NewError("check signature counter", ErrCounterRegression)
	}

	if newCount != oldCount {
		if err := e.creds.UpdateSignCount(ctx, stored.ID, oldCount, newCount); err != nil {
			if errors.Is(err, credential.ErrSignCountConflict) {
				// A concurrent assertion won the counter race; only one
				// of the two may succeed.
				e.logger.Warn("concurrent signature counter update",
					"credential", stored.ID)
				metrics.RecordCounterRegression()
				return nil, NewError("update signature counter", ErrCounterRegression)
			}
			return nil, WrapError("update signature counter", err)
		}
	}
	if err := e.creds.UpdateLastUsed(ctx, stored.ID); err != nil {
		return nil, WrapError("update last used", err)
	}

	stored.SignCount = newCount
	stored.LastUsedAt = time.Now().Unix()

	metrics.RecordCeremony(metrics.CeremonyAssertion, metrics.StatusSuccess,
		time.Since(started).Seconds())
	return stored, nil
}

// Credentials lists an account's credentials, including revoked ones,
// for settings and admin views.
func (e *Engine) Credentials(ctx context.Context, userID int64) ([]*credential.Credential, error) {
	if !e.configured {
		return nil, ErrNotConfigured
	}
	return e.creds.ListByUser(ctx, userID)
}

// RevokeCredential permanently revokes a credential after checking it
// belongs to the given account.
func (e *Engine) RevokeCredential(ctx context.Context, id string, userID, revokedBy int64) error {
	if !e.configured {
		return ErrNotConfigured
	}
	cred, err := e.creds.GetByIDAndUser(ctx, id, userID)
	if err != nil {
		return WrapError("lookup credential", err)
	}
	if err := e.creds.Revoke(ctx, cred.ID, revokedBy); err != nil {
		return WrapError("revoke credential", err)
	}
	e.logger.Info("credential revoked", "credential", cred.ID)
	metrics.RecordCredentialEvent(metrics.EventRevoked)
	return nil
}

// RenameCredential updates a credential's display label.
func (e *Engine) RenameCredential(ctx context.Context, id string, userID int64, label string) error {
	if !e.configured {
		return ErrNotConfigured
	}
	cred, err := e.creds.GetByIDAndUser(ctx, id, userID)
	if err != nil {
		return WrapError("lookup credential", err)
	}
	return WrapError("rename credential", e.creds.UpdateLabel(ctx, cred.ID, label))
}

// ResetLockout clears lockout counters for a username. With an empty
// source every counter tagged with the username is cleared.
func (e *Engine) ResetLockout(ctx context.Context, username, source string) error {
	if !e.configured {
		return ErrNotConfigured
	}
	if err := e.guard.ResetLockout(ctx, username, source); err != nil {
		return WrapError("reset lockout", err)
	}
	e.logger.Info("lockout reset", "all_sources", source == "")
	return nil
}

// Guard returns the engine's rate-limit/lockout guard so the transport
// layer can record ceremony outcomes against the request source.
func (e *Engine) Guard() *ratelimit.Guard {
	return e.guard
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// loadUser builds the webauthn user for an account from its active
// credentials.
func (e *Engine) loadUser(ctx context.Context, userID int64, username, displayName string) (*ceremonyUser, error) {
	creds, err := e.creds.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	converted := make([]webauthn.Credential, len(creds))
	for i, cred := range creds {
		converted[i] = toWebAuthnCredential(cred)
	}
	return &ceremonyUser{
		handle:      e.UserHandle(userID),
		name:        username,
		displayName: displayName,
		credentials: converted,
	}, nil
}

// issueChallenge mints fresh challenge bytes and their signed token.
func (e *Engine) issueChallenge(ctx context.Context) ([]byte, string, error) {
	chal := make([]byte, challengeSize)
	if _, err := rand.Read(chal); err != nil {
		return nil, "", WrapError("generate challenge", err)
	}
	token, err := e.challenges.Issue(ctx, chal)
	if err != nil {
		return nil, "", WrapError("issue challenge token", err)
	}
	return chal, token, nil
}

// verifyToken verifies a challenge token and records the outcome.
func (e *Engine) verifyToken(ctx context.Context, token string) ([]byte, error) {
	chal, err := e.challenges.Verify(ctx, token)
	if err != nil {
		e.logger.Warn("challenge token rejected", "cause", err.Error())
		metrics.RecordChallengeVerification(metrics.StatusError)
		return nil, WrapError("verify challenge token", err)
	}
	metrics.RecordChallengeVerification(metrics.StatusSuccess)
	return chal, nil
}

// registrationSession rebuilds the verification session for a
// registration finish from the authenticated challenge. Expiry is not
// re-enforced here; the challenge token already bounds the ceremony
// lifetime.
func (e *Engine) registrationSession(user *ceremonyUser, chal []byte) (*webauthn.SessionData, error) {
	_, session, err := e.webauthn.BeginRegistration(user)
	if err != nil {
		return nil, WrapError("build registration session", err)
	}
	session.Challenge = base64.RawURLEncoding.EncodeToString(chal)
	session.Expires = time.Time{}
	return session, nil
}

// assertionSession rebuilds the verification session for an assertion
// finish from the authenticated challenge.
func (e *Engine) assertionSession(user *ceremonyUser, chal []byte) (*webauthn.SessionData, error) {
	_, session, err := e.webauthn.BeginLogin(user)
	if err != nil {
		return nil, WrapError("build assertion session", err)
	}
	session.Challenge = base64.RawURLEncoding.EncodeToString(chal)
	session.Expires = time.Time{}
	return session, nil
}
