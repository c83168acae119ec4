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
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey/pkg/challenge"
	"github.com/jeremyhahn/go-passkey/pkg/credential"
)

var testRP = virtualwebauthn.RelyingParty{
	Name:   "Example Corp",
	ID:     "example.com",
	Origin: "https://example.com",
}

// noneAttestation strips the self-attestation statement the virtual
// authenticator signs, producing the "none" format a browser sends when
// the relying party asks for no attestation.
func noneAttestation(t *testing.T, response string) []byte {
	t.Helper()

	var result struct {
		Type     string `json:"type"`
		ID       string `json:"id"`
		RawID    string `json:"rawId"`
		Response struct {
			AttestationObject string `json:"attestationObject"`
			ClientDataJSON    string `json:"clientDataJSON"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal([]byte(response), &result))

	raw, err := base64.RawURLEncoding.DecodeString(result.Response.AttestationObject)
	require.NoError(t, err)

	var attObj struct {
		AuthData []byte         `json:"authData"`
		Format   string         `json:"fmt"`
		AttStmt  map[string]any `json:"attStmt"`
	}
	require.NoError(t, webauthncbor.Unmarshal(raw, &attObj))

	attObj.Format = "none"
	attObj.AttStmt = map[string]any{}

	stripped, err := webauthncbor.Marshal(&attObj)
	require.NoError(t, err)
	result.Response.AttestationObject = base64.RawURLEncoding.EncodeToString(stripped)

	out, err := json.Marshal(result)
	require.NoError(t, err)
	return out
}

// register runs a complete registration ceremony for the given account
// and returns the stored credential.
func register(t *testing.T, engine *Engine, auth *virtualwebauthn.Authenticator, cred *virtualwebauthn.Credential, userID int64, username string) *credential.Credential {
	t.Helper()
	ctx := context.Background()

	options, err := engine.BeginRegistration(ctx, userID, username, username)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(options.Options.Response)
	require.NoError(t, err)

	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	attestation := virtualwebauthn.CreateAttestationResponse(testRP, *auth, *cred, *parsedOptions)

	stored, err := engine.FinishRegistration(ctx, options.Token, noneAttestation(t, attestation), userID, username, username, "test key")
	require.NoError(t, err)

	auth.AddCredential(*cred)
	return stored
}

// assertion runs the begin half of an assertion ceremony and produces
// the authenticator's signed response.
func assertion(t *testing.T, engine *Engine, auth *virtualwebauthn.Authenticator, cred *virtualwebauthn.Credential, userID int64, username string) (string, string) {
	t.Helper()
	ctx := context.Background()

	options, err := engine.BeginAssertion(ctx, userID, username)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(options.Options.Response)
	require.NoError(t, err)

	parsedOptions, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	require.NoError(t, err)

	response := virtualwebauthn.CreateAssertionResponse(testRP, *auth, *cred, *parsedOptions)
	return options.Token, response
}

func TestIntegration_FullRegistrationFlow(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	stored := register(t, engine, &auth, &cred, 1, "alice")

	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, int64(1), stored.UserID)
	assert.Equal(t, engine.UserHandle(1), stored.UserHandle)
	assert.Equal(t, uint32(0), stored.SignCount)
	assert.Equal(t, "test key", stored.Label)
	assert.NotZero(t, stored.CreatedAt)
	assert.Equal(t, 1, store.Count())

	count, err := store.CountActiveByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIntegration_RegistrationTokenSingleUse(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := engine.BeginRegistration(ctx, 1, "alice", "Alice")
	require.NoError(t, err)

	optionsJSON, _ := json.Marshal(options.Options.Response)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)
	attestation := virtualwebauthn.CreateAttestationResponse(testRP, auth, cred, *parsedOptions)

	_, err = engine.FinishRegistration(ctx, options.Token, noneAttestation(t, attestation), 1, "alice", "Alice", "")
	require.NoError(t, err)

	// Replaying the same token must fail even with a fresh response.
	cred2 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	attestation2 := virtualwebauthn.CreateAttestationResponse(testRP, auth, cred2, *parsedOptions)
	_, err = engine.FinishRegistration(ctx, options.Token, noneAttestation(t, attestation2), 1, "alice", "Alice", "")
	assert.ErrorIs(t, err, challenge.ErrNonceReplayed)
	assert.Equal(t, 1, store.Count())
}

func TestIntegration_RegistrationExclusionList(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	register(t, engine, &auth, &cred, 1, "alice")

	options, err := engine.BeginRegistration(ctx, 1, "alice", "Alice")
	require.NoError(t, err)
	assert.Len(t, options.Options.Response.CredentialExcludeList, 1)
}

func TestIntegration_TamperedOriginRejected(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := engine.BeginRegistration(ctx, 1, "alice", "Alice")
	require.NoError(t, err)

	optionsJSON, _ := json.Marshal(options.Options.Response)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	evilRP := virtualwebauthn.RelyingParty{
		Name:   testRP.Name,
		ID:     testRP.ID,
		Origin: "https://evil.example.net",
	}
	attestation := virtualwebauthn.CreateAttestationResponse(evilRP, auth, cred, *parsedOptions)

	_, err = engine.FinishRegistration(ctx, options.Token, noneAttestation(t, attestation), 1, "alice", "Alice", "")
	assert.ErrorIs(t, err, ErrRegistrationFailed)
	assert.Equal(t, 0, store.Count(), "failed registration must not store a credential")
}

func TestIntegration_SignedAttestationRejected(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := engine.BeginRegistration(ctx, 1, "alice", "Alice")
	require.NoError(t, err)

	optionsJSON, _ := json.Marshal(options.Options.Response)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	// The virtual authenticator answers with a signed "packed"
	// statement. The statement verifies cryptographically, but the
	// format itself must be refused.
	attestation := virtualwebauthn.CreateAttestationResponse(testRP, auth, cred, *parsedOptions)

	_, err = engine.FinishRegistration(ctx, options.Token, []byte(attestation), 1, "alice", "Alice", "")
	assert.ErrorIs(t, err, ErrRegistrationFailed)
	assert.Equal(t, 0, store.Count(), "rejected attestation must not store a credential")
}

func TestIntegration_FullAssertionFlow(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	register(t, engine, &auth, &cred, 1, "alice")

	cred.Counter++
	token, response := assertion(t, engine, &auth, &cred, 1, "alice")

	validated, err := engine.FinishAssertion(ctx, token, []byte(response), 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), validated.SignCount)
	assert.NotZero(t, validated.LastUsedAt)
}

func TestIntegration_AssertionTokenSingleUse(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	register(t, engine, &auth, &cred, 1, "alice")

	cred.Counter++
	token, response := assertion(t, engine, &auth, &cred, 1, "alice")

	_, err := engine.FinishAssertion(ctx, token, []byte(response), 1)
	require.NoError(t, err)

	_, err = engine.FinishAssertion(ctx, token, []byte(response), 1)
	assert.ErrorIs(t, err, challenge.ErrNonceReplayed)
}

func TestIntegration_CounterlessAuthenticator(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	register(t, engine, &auth, &cred, 1, "alice")

	// The authenticator never increments its counter; zero to zero is
	// tolerated.
	token, response := assertion(t, engine, &auth, &cred, 1, "alice")
	validated, err := engine.FinishAssertion(ctx, token, []byte(response), 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), validated.SignCount)
}

func TestIntegration_CounterRegressionRejected(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	stored := register(t, engine, &auth, &cred, 1, "alice")

	cred.Counter = 5
	token, response := assertion(t, engine, &auth, &cred, 1, "alice")
	_, err := engine.FinishAssertion(ctx, token, []byte(response), 1)
	require.NoError(t, err)

	// A second assertion reporting the same counter value implies a
	// cloned authenticator.
	token, response = assertion(t, engine, &auth, &cred, 1, "alice")
	_, err = engine.FinishAssertion(ctx, token, []byte(response), 1)
	assert.ErrorIs(t, err, ErrCounterRegression)

	// And a lower one as well.
	cred.Counter = 3
	token, response = assertion(t, engine, &auth, &cred, 1, "alice")
	_, err = engine.FinishAssertion(ctx, token, []byte(response), 1)
	assert.ErrorIs(t, err, ErrCounterRegression)

	// The stored counter must be unchanged by the failed attempts.
	after, err := store.GetByIDAndUser(ctx, stored.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), after.SignCount)
}

func TestIntegration_RevokedCredentialRejected(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	stored := register(t, engine, &auth, &cred, 1, "alice")

	// A cryptographically valid assertion prepared before revocation.
	cred.Counter++
	token, response := assertion(t, engine, &auth, &cred, 1, "alice")

	require.NoError(t, store.Revoke(ctx, stored.ID, 99))

	_, err := engine.FinishAssertion(ctx, token, []byte(response), 1)
	assert.ErrorIs(t, err, ErrRevokedCredential)
}

func TestIntegration_UnknownCredentialRejected(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	stored := register(t, engine, &auth, &cred, 1, "alice")

	cred.Counter++
	token, response := assertion(t, engine, &auth, &cred, 1, "alice")

	require.NoError(t, store.Delete(ctx, stored.ID))

	_, err := engine.FinishAssertion(ctx, token, []byte(response), 1)
	assert.ErrorIs(t, err, ErrUnknownCredential)
}

func TestIntegration_OwnerMismatchRejected(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	register(t, engine, &auth, &cred, 1, "alice")

	cred.Counter++
	token, response := assertion(t, engine, &auth, &cred, 1, "alice")

	// The challenge was minted for bob but the response carries alice's
	// credential.
	_, err := engine.FinishAssertion(ctx, token, []byte(response), 2)
	assert.ErrorIs(t, err, ErrCredentialOwnerMismatch)
}

func TestIntegration_DiscoverableFlow(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	register(t, engine, &auth, &cred, 1, "alice")

	options, err := engine.BeginDiscoverableAssertion(ctx)
	require.NoError(t, err)
	assert.Empty(t, options.Options.Response.AllowedCredentials)

	optionsJSON, _ := json.Marshal(options.Options.Response)
	parsedOptions, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	require.NoError(t, err)

	// A discoverable credential carries the user handle so the server
	// can resolve the account afterwards.
	discoverable := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: engine.UserHandle(1),
	})
	discoverable.AddCredential(cred)
	cred.Counter++
	response := virtualwebauthn.CreateAssertionResponse(testRP, discoverable, cred, *parsedOptions)

	userID, err := engine.ResolveUserFromAssertion(ctx, []byte(response))
	require.NoError(t, err)
	assert.Equal(t, int64(1), userID)

	validated, err := engine.FinishAssertion(ctx, options.Token, []byte(response), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), validated.UserID)
}

func TestIntegration_ResolveRevokedFailsClosed(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	stored := register(t, engine, &auth, &cred, 1, "alice")

	cred.Counter++
	_, response := assertion(t, engine, &auth, &cred, 1, "alice")

	require.NoError(t, store.Revoke(ctx, stored.ID, 99))

	_, err := engine.ResolveUserFromAssertion(ctx, []byte(response))
	assert.Error(t, err)
}
