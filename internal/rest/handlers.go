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
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jeremyhahn/go-passkey/pkg/ceremony"
	"github.com/jeremyhahn/go-passkey/pkg/directory"
	"github.com/jeremyhahn/go-passkey/pkg/health"
	"github.com/jeremyhahn/go-passkey/pkg/logging"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
)

// Guard purposes used to bucket per-source attempt counters.
const (
	purposeRegistration = "registration_options"
	purposeLogin        = "login_options"
)

// HandlerContext holds the dependencies shared by all HTTP handlers.
type HandlerContext struct {
	engine     *ceremony.Engine
	users      directory.Directory
	sessions   *SessionIssuer
	health     *health.Checker
	adminUsers map[int64]struct{}
	logger     *logging.Logger
}

// NewHandlerContext creates a new handler context.
func NewHandlerContext(engine *ceremony.Engine, users directory.Directory, sessions *SessionIssuer, logger *logging.Logger) *HandlerContext {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &HandlerContext{
		engine:   engine,
		users:    users,
		sessions: sessions,
		logger:   logger,
	}
}

// RegisterBeginHandler handles POST /webauthn/register/begin.
//
// Response: creation options plus the challenge token the client must
// echo back to the finish endpoint.
func (h *HandlerContext) RegisterBeginHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterBeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, CodeInvalidRequest, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		writeError(w, CodeInvalidRequest, "username is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	source := ratelimit.ClientIP(r)

	guard := h.engine.Guard()
	if err := guard.CheckRate(ctx, purposeRegistration, source); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := guard.RecordAttempt(ctx, purposeRegistration, source); err != nil {
		h.logger.Warn("failed to record registration attempt", "source", source, "error", err)
	}

	user, err := h.users.ByUsername(ctx, req.Username)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	options, err := h.engine.BeginRegistration(ctx, user.ID, user.Username, user.DisplayName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, options, http.StatusOK)
}

// RegisterFinishHandler handles POST /webauthn/register/finish.
func (h *HandlerContext) RegisterFinishHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, CodeInvalidRequest, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.ChallengeToken == "" || len(req.Response) == 0 {
		writeError(w, CodeInvalidRequest, "username, challengeToken and response are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	source := ratelimit.ClientIP(r)
	guard := h.engine.Guard()

	if err := guard.CheckLockout(ctx, req.Username, source); err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.users.ByUsername(ctx, req.Username)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	cred, err := h.engine.FinishRegistration(ctx, req.ChallengeToken, req.Response,
		user.ID, user.Username, user.DisplayName, req.Label)
	if err != nil {
		if ferr := guard.RecordFailure(ctx, user.Username, source); ferr != nil {
			h.logger.Warn("failed to record registration failure", "error", ferr)
		}
		handleServiceError(w, err)
		return
	}

	if serr := guard.RecordSuccess(ctx, user.Username, source); serr != nil {
		h.logger.Warn("failed to clear failure counter", "error", serr)
	}

	writeJSON(w, RegisterFinishResponse{
		CredentialID: cred.ID,
		Label:        cred.Label,
		CreatedAt:    cred.CreatedAt,
	}, http.StatusCreated)
}

// LoginBeginHandler handles POST /webauthn/login/begin.
func (h *HandlerContext) LoginBeginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginBeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, CodeInvalidRequest, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		writeError(w, CodeInvalidRequest, "username is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	source := ratelimit.ClientIP(r)
	guard := h.engine.Guard()

	if err := guard.CheckRate(ctx, purposeLogin, source); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := guard.RecordAttempt(ctx, purposeLogin, source); err != nil {
		h.logger.Warn("failed to record login attempt", "source", source, "error", err)
	}

	user, err := h.users.ByUsername(ctx, req.Username)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	options, err := h.engine.BeginAssertion(ctx, user.ID, user.Username)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, options, http.StatusOK)
}

// LoginDiscoverBeginHandler handles POST /webauthn/login/discover/begin.
// The issued options carry an empty allow-list; the authenticator picks
// the credential and the finish endpoint resolves the user from it.
func (h *HandlerContext) LoginDiscoverBeginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	source := ratelimit.ClientIP(r)
	guard := h.engine.Guard()

	if err := guard.CheckRate(ctx, purposeLogin, source); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := guard.RecordAttempt(ctx, purposeLogin, source); err != nil {
		h.logger.Warn("failed to record login attempt", "source", source, "error", err)
	}

	options, err := h.engine.BeginDiscoverableAssertion(ctx)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, options, http.StatusOK)
}

// LoginFinishHandler handles POST /webauthn/login/finish for both the
// username-first and discoverable flows.
func (h *HandlerContext) LoginFinishHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, CodeInvalidRequest, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ChallengeToken == "" || len(req.Response) == 0 {
		writeError(w, CodeInvalidRequest, "challengeToken and response are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	source := ratelimit.ClientIP(r)
	guard := h.engine.Guard()

	var user *directory.User
	var err error
	if req.Username != "" {
		user, err = h.users.ByUsername(ctx, req.Username)
	} else {
		var userID int64
		userID, err = h.engine.ResolveUserFromAssertion(ctx, req.Response)
		if err == nil {
			user, err = h.users.ByID(ctx, userID)
		}
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := guard.CheckLockout(ctx, user.Username, source); err != nil {
		handleServiceError(w, err)
		return
	}

	cred, err := h.engine.FinishAssertion(ctx, req.ChallengeToken, req.Response, user.ID)
	if err != nil {
		if ferr := guard.RecordFailure(ctx, user.Username, source); ferr != nil {
			h.logger.Warn("failed to record login failure", "error", ferr)
		}
		handleServiceError(w, err)
		return
	}

	if serr := guard.RecordSuccess(ctx, user.Username, source); serr != nil {
		h.logger.Warn("failed to clear failure counter", "error", serr)
	}

	token, err := h.sessions.Issue(user.ID)
	if err != nil {
		h.logger.Error(err)
		writeError(w, CodeInternalError, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, LoginFinishResponse{
		Token:        token,
		UserID:       user.ID,
		CredentialID: cred.ID,
	}, http.StatusOK)
}

// RevokeCredentialHandler handles POST /admin/credentials/{id}/revoke.
// The authenticated session subject must own the credential.
func (h *HandlerContext) RevokeCredentialHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUserID(r.Context())
	if !ok {
		writeError(w, CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, CodeInvalidRequest, "credential id is required", http.StatusBadRequest)
		return
	}

	if err := h.engine.RevokeCredential(r.Context(), id, userID, userID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, StatusResponse{Status: "revoked"}, http.StatusOK)
}

// ResetLockoutHandler handles POST /admin/lockouts/{username}/reset.
// With a configured admin allow-list only listed accounts may reset;
// without one any authenticated account may, which assumes a
// single-tenant deployment where every account holder is an operator.
func (h *HandlerContext) ResetLockoutHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUserID(r.Context())
	if !ok {
		writeError(w, CodeUnauthorized, "authentication required", http.StatusUnauthorized)
		return
	}
	if len(h.adminUsers) > 0 {
		if _, allowed := h.adminUsers[userID]; !allowed {
			writeError(w, CodeForbidden, "not permitted", http.StatusForbidden)
			return
		}
	}

	username := chi.URLParam(r, "username")
	if username == "" {
		writeError(w, CodeInvalidRequest, "username is required", http.StatusBadRequest)
		return
	}

	// Body is optional; absent or empty source clears all sources.
	var req ResetLockoutRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.engine.ResetLockout(r.Context(), username, req.Source); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, StatusResponse{Status: "reset"}, http.StatusOK)
}

// HealthResponse is the body for GET /healthz.
type HealthResponse struct {
	Status health.Status        `json:"status"`
	Checks []health.CheckResult `json:"checks,omitempty"`
}

// HealthHandler handles GET /healthz. Without a configured checker the
// process being up is the only signal.
func (h *HandlerContext) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, HealthResponse{Status: health.StatusHealthy}, http.StatusOK)
		return
	}

	results := h.health.Ready(r.Context())
	status := health.AggregateStatus(results)

	code := http.StatusOK
	if status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, HealthResponse{Status: status, Checks: results}, code)
}
