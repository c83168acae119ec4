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

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/jeremyhahn/go-passkey/pkg/ceremony"
	"github.com/jeremyhahn/go-passkey/pkg/challenge"
	"github.com/jeremyhahn/go-passkey/pkg/credential"
	"github.com/jeremyhahn/go-passkey/pkg/directory"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
)

// Common errors
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalError  = errors.New("internal server error")
	ErrUnauthorized   = errors.New("unauthorized")
)

// Error codes returned in the "error" field. Guard rejections get
// distinct codes since they carry no secret-dependent signal; everything
// that could act as a verification oracle collapses to auth_failed.
const (
	CodeInvalidRequest = "invalid_request"
	CodeAuthFailed     = "auth_failed"
	CodeRateLimited    = "rate_limited"
	CodeLockedOut      = "locked_out"
	CodeNotFound       = "not_found"
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeInternalError  = "internal_error"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}

// writeError writes an error response to the client.
func writeError(w http.ResponseWriter, code, message string, statusCode int) {
	writeJSON(w, ErrorResponse{
		Error:   code,
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// isChallengeTokenError reports whether err is any of the challenge
// token verification failures.
func isChallengeTokenError(err error) bool {
	return errors.Is(err, challenge.ErrMalformedToken) ||
		errors.Is(err, challenge.ErrInvalidSignature) ||
		errors.Is(err, challenge.ErrExpired) ||
		errors.Is(err, challenge.ErrNonceReplayed) ||
		errors.Is(err, challenge.ErrCorruptPayload)
}

// handleServiceError maps engine errors to HTTP responses. Every
// secret-dependent failure is reported as the same generic 401 so the
// response cannot be used to probe which check rejected the attempt;
// the specific cause is already logged by the engine.
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		metrics.RecordGuardRejection(metrics.KindRateLimited)
		writeError(w, CodeRateLimited, "too many requests", http.StatusTooManyRequests)
	case errors.Is(err, ratelimit.ErrLockedOut):
		metrics.RecordGuardRejection(metrics.KindLockedOut)
		writeError(w, CodeLockedOut, "account temporarily locked", http.StatusTooManyRequests)
	case isChallengeTokenError(err),
		ceremony.IsCredentialFailure(err),
		errors.Is(err, ceremony.ErrRegistrationFailed),
		errors.Is(err, ceremony.ErrAuthenticationFailed),
		errors.Is(err, ceremony.ErrNoCredentials),
		errors.Is(err, directory.ErrUnknownUser):
		writeError(w, CodeAuthFailed, "authentication failed", http.StatusUnauthorized)
	case errors.Is(err, credential.ErrNotFound):
		writeError(w, CodeNotFound, "credential not found", http.StatusNotFound)
	default:
		writeError(w, CodeInternalError, "internal server error", http.StatusInternalServerError)
	}
}
