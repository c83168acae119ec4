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

// Package ceremony implements the server side of FIDO2/WebAuthn passkey
// registration and authentication ceremonies.
//
// Unlike session-store based designs, the engine is stateless between
// the begin and finish halves of a ceremony: the begin operations return
// a signed, single-use, expiring challenge token (pkg/challenge) that
// the client must echo back, and the verification session is rebuilt
// from the authenticated token at finish time. This makes the finish
// endpoints safe to serve from any process sharing the nonce cache.
//
// # Ceremonies
//
//   - Registration: BeginRegistration / FinishRegistration. Existing
//     credentials form the exclusion set; only "none" attestation is
//     accepted.
//   - Username-first assertion: BeginAssertion with the user's active
//     credentials as the allow-list, then FinishAssertion.
//   - Discoverable (usernameless) assertion:
//     BeginDiscoverableAssertion issues an empty allow-list;
//     ResolveUserFromAssertion maps the response to an account id
//     afterwards, failing closed for unknown or revoked credentials.
//
// # Invariants
//
// A challenge token verifies at most once. A revoked credential never
// passes assertion verification again. The signature counter must
// strictly increase across assertions unless the authenticator reports
// zero throughout; any regression fails the ceremony with
// ErrCounterRegression so operators can alert on suspected clones.
//
// # Usage
//
//	engine, err := ceremony.NewEngine(ceremony.Params{
//	    Config: &ceremony.Config{
//	        RPID:          "example.com",
//	        RPDisplayName: "Example Corp",
//	        RPOrigins:     []string{"https://example.com"},
//	    },
//	    Secret:      secretProvider,
//	    Challenges:  challengeService,
//	    Guard:       guard,
//	    Credentials: store,
//	    Directory:   users,
//	})
//
// Note: WebAuthn requires HTTPS for all operations. Browsers will only
// expose the WebAuthn API in secure contexts.
package ceremony
