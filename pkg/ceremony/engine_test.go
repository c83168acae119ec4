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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey/pkg/cache"
	"github.com/jeremyhahn/go-passkey/pkg/challenge"
	"github.com/jeremyhahn/go-passkey/pkg/credential"
	"github.com/jeremyhahn/go-passkey/pkg/directory"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
	"github.com/jeremyhahn/go-passkey/pkg/secrets"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestEngine(t *testing.T) (*Engine, *credential.MemoryStore) {
	t.Helper()
	return newTestEngineWithSecret(t, testSecret)
}

func newTestEngineWithSecret(t *testing.T, secret string) (*Engine, *credential.MemoryStore) {
	t.Helper()

	provider, err := secrets.NewStaticProvider([]byte(secret))
	require.NoError(t, err)

	challenges, err := challenge.NewService(challenge.ServiceParams{
		Secret: provider,
		Nonces: cache.NewMemory(),
	})
	require.NoError(t, err)

	guard, err := ratelimit.NewGuard(cache.NewMemory(), nil)
	require.NoError(t, err)

	store := credential.NewMemoryStore()
	users := directory.NewMemoryDirectory()
	users.Add(directory.User{Username: "alice", DisplayName: "Alice"})
	users.Add(directory.User{Username: "bob", DisplayName: "Bob"})

	engine, err := NewEngine(Params{
		Config: &Config{
			RPID:          "example.com",
			RPDisplayName: "Example Corp",
			RPOrigins:     []string{"https://example.com"},
		},
		Secret:      provider,
		Challenges:  challenges,
		Guard:       guard,
		Credentials: store,
		Directory:   users,
	})
	require.NoError(t, err)

	return engine, store
}

func TestNewEngineValidation(t *testing.T) {
	provider, err := secrets.NewStaticProvider([]byte(testSecret))
	require.NoError(t, err)

	challenges, err := challenge.NewService(challenge.ServiceParams{
		Secret: provider,
		Nonces: cache.NewMemory(),
	})
	require.NoError(t, err)

	guard, err := ratelimit.NewGuard(cache.NewMemory(), nil)
	require.NoError(t, err)

	valid := Params{
		Config: &Config{
			RPID:          "example.com",
			RPDisplayName: "Example Corp",
			RPOrigins:     []string{"https://example.com"},
		},
		Secret:      provider,
		Challenges:  challenges,
		Guard:       guard,
		Credentials: credential.NewMemoryStore(),
		Directory:   directory.NewMemoryDirectory(),
	}

	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"missing config", func(p *Params) { p.Config = nil }},
		{"missing secret", func(p *Params) { p.Secret = nil }},
		{"missing challenges", func(p *Params) { p.Challenges = nil }},
		{"missing guard", func(p *Params) { p.Guard = nil }},
		{"missing credentials", func(p *Params) { p.Credentials = nil }},
		{"missing directory", func(p *Params) { p.Directory = nil }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			params := valid
			tc.mutate(&params)
			_, err := NewEngine(params)
			assert.Error(t, err)
		})
	}

	t.Run("invalid config", func(t *testing.T) {
		params := valid
		params.Config = &Config{}
		_, err := NewEngine(params)
		assert.Error(t, err)
	})

	t.Run("valid", func(t *testing.T) {
		engine, err := NewEngine(valid)
		require.NoError(t, err)
		assert.NotNil(t, engine)
		assert.NotNil(t, engine.Guard())
		assert.Equal(t, "example.com", engine.Config().RPID)
	})
}

func TestUserHandleDeterministic(t *testing.T) {
	engine, _ := newTestEngine(t)

	h1 := engine.UserHandle(1)
	h2 := engine.UserHandle(1)
	h3 := engine.UserHandle(2)

	assert.Len(t, h1, 32)
	assert.Equal(t, h1, h2, "same account must derive the same handle")
	assert.NotEqual(t, h1, h3, "different accounts must derive different handles")

	// The raw account id must not be recoverable from the handle without
	// the secret: a different secret yields a different handle.
	other, _ := newTestEngineWithSecret(t, "another-secret-another-secret-xx")
	assert.NotEqual(t, h1, other.UserHandle(1))
}

func TestBeginRegistrationOptions(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	options, err := engine.BeginRegistration(ctx, 1, "alice", "Alice")
	require.NoError(t, err)
	require.NotNil(t, options.Options)
	require.NotEmpty(t, options.Token)

	assert.Equal(t, "example.com", options.Options.Response.RelyingParty.ID)
	assert.Equal(t, "alice", options.Options.Response.User.Name)
	assert.Equal(t, "Alice", options.Options.Response.User.DisplayName)
	assert.Len(t, []byte(options.Options.Response.Challenge), challengeSize)
	assert.Empty(t, options.Options.Response.CredentialExcludeList)
}

func TestBeginAssertionNoCredentials(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	_, err := engine.BeginAssertion(ctx, 1, "alice")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestBeginDiscoverableAssertion(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	options, err := engine.BeginDiscoverableAssertion(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, options.Token)
	assert.Empty(t, options.Options.Response.AllowedCredentials)
	assert.Len(t, []byte(options.Options.Response.Challenge), challengeSize)
}

func TestResolveUserFromAssertionFailsClosed(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	// Malformed response
	_, err := engine.ResolveUserFromAssertion(ctx, []byte("not json"))
	assert.ErrorIs(t, err, directory.ErrUnknownUser)

	// Revoked credential resolves to unknown as well
	cred := &credential.Credential{
		ID:           "cred-1",
		UserID:       1,
		CredentialID: []byte("credential-id"),
		PublicKey:    []byte("key"),
	}
	require.NoError(t, store.Insert(ctx, cred))
	require.NoError(t, store.Revoke(ctx, "cred-1", 99))

	_, err = engine.ResolveUserFromAssertion(ctx, []byte("not json"))
	assert.ErrorIs(t, err, directory.ErrUnknownUser)
}

func TestFinishRegistrationRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	options, err := engine.BeginRegistration(ctx, 1, "alice", "Alice")
	require.NoError(t, err)

	_, err = engine.FinishRegistration(ctx, options.Token, []byte("{}"), 1, "alice", "Alice", "laptop")
	assert.ErrorIs(t, err, ErrRegistrationFailed)
	assert.Equal(t, 0, store.Count())
}

func TestFinishRegistrationBadToken(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	_, err := engine.FinishRegistration(ctx, "not-a-token", []byte("{}"), 1, "alice", "Alice", "")
	assert.ErrorIs(t, err, challenge.ErrMalformedToken)
	assert.Equal(t, 0, store.Count())
}

func TestRevokeCredentialOwnership(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	cred := &credential.Credential{
		ID:           "cred-1",
		UserID:       1,
		CredentialID: []byte("credential-id"),
		PublicKey:    []byte("key"),
	}
	require.NoError(t, store.Insert(ctx, cred))

	// A different account cannot revoke it.
	err := engine.RevokeCredential(ctx, "cred-1", 2, 2)
	assert.ErrorIs(t, err, credential.ErrNotFound)

	// The owner can.
	require.NoError(t, engine.RevokeCredential(ctx, "cred-1", 1, 1))

	stored, err := store.GetByCredentialID(ctx, []byte("credential-id"))
	require.NoError(t, err)
	assert.True(t, stored.Revoked())
}

func TestRenameCredential(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	cred := &credential.Credential{
		ID:           "cred-1",
		UserID:       1,
		CredentialID: []byte("credential-id"),
		PublicKey:    []byte("key"),
		Label:        "old",
	}
	require.NoError(t, store.Insert(ctx, cred))

	require.NoError(t, engine.RenameCredential(ctx, "cred-1", 1, "yubikey"))

	stored, err := store.GetByIDAndUser(ctx, "cred-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "yubikey", stored.Label)

	err = engine.RenameCredential(ctx, "cred-1", 2, "stolen")
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestResetLockout(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	guard := engine.Guard()
	for i := 0; i < 5; i++ {
		require.NoError(t, guard.RecordFailure(ctx, "alice", "1.2.3.4"))
	}
	assert.ErrorIs(t, guard.CheckLockout(ctx, "alice", "1.2.3.4"), ratelimit.ErrLockedOut)

	require.NoError(t, engine.ResetLockout(ctx, "alice", ""))
	assert.NoError(t, guard.CheckLockout(ctx, "alice", "1.2.3.4"))
}

func TestCredentialsListing(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	require.NoError(t, store.Insert(ctx, &credential.Credential{
		ID: "a", UserID: 1, CredentialID: []byte("a"), PublicKey: []byte("k"),
	}))
	require.NoError(t, store.Insert(ctx, &credential.Credential{
		ID: "b", UserID: 1, CredentialID: []byte("b"), PublicKey: []byte("k"),
	}))
	require.NoError(t, store.Revoke(ctx, "b", 1))

	creds, err := engine.Credentials(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, creds, 2, "listing includes revoked credentials")
}
