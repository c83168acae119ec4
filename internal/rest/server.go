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
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jeremyhahn/go-passkey/pkg/ceremony"
	"github.com/jeremyhahn/go-passkey/pkg/directory"
	"github.com/jeremyhahn/go-passkey/pkg/health"
	"github.com/jeremyhahn/go-passkey/pkg/logging"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the REST API server.
type Server struct {
	server   *http.Server
	handlers *HandlerContext
	sessions *SessionIssuer
	address  string
	limiter  *ratelimit.Limiter
	logger   *logging.Logger
}

// Config holds the REST server configuration.
type Config struct {
	// Address is the listen address (default: ":8080")
	Address string

	// Engine drives the WebAuthn ceremonies (required)
	Engine *ceremony.Engine

	// Directory resolves login names to users (required)
	Directory directory.Directory

	// SessionSecret signs issued session tokens (required, >= 32 bytes)
	SessionSecret []byte

	// Session holds issuer/audience/TTL settings for session tokens
	Session SessionConfig

	// AdminUsers lists the account ids allowed to reset lockouts. Empty
	// means any authenticated account may.
	AdminUsers []int64

	// Limiter is an optional per-IP request throttle applied to all routes
	Limiter *ratelimit.Limiter

	// Health runs readiness checks for /healthz (optional)
	Health *health.Checker

	// Logger is the logging adapter (optional)
	Logger *logging.Logger

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("ceremony engine is required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("user directory is required")
	}

	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	log := cfg.Logger
	if log == nil {
		log = logging.DefaultLogger()
	}

	sessions, err := NewSessionIssuer(cfg.SessionSecret, cfg.Session)
	if err != nil {
		return nil, err
	}

	handlers := NewHandlerContext(cfg.Engine, cfg.Directory, sessions, log)
	handlers.health = cfg.Health
	if len(cfg.AdminUsers) > 0 {
		handlers.adminUsers = make(map[int64]struct{}, len(cfg.AdminUsers))
		for _, id := range cfg.AdminUsers {
			handlers.adminUsers[id] = struct{}{}
		}
	}

	server := &Server{
		handlers: handlers,
		sessions: sessions,
		address:  cfg.Address,
		limiter:  cfg.Limiter,
		logger:   log,
	}

	router := server.setupRouter()

	server.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return server, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())
	r.Use(CorrelationMiddleware)
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)
	r.Use(CORSMiddleware)
	if s.limiter != nil {
		r.Use(ratelimit.Middleware(s.limiter))
	}

	r.Get("/healthz", s.handlers.HealthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/webauthn", func(r chi.Router) {
		r.Post("/register/begin", s.handlers.RegisterBeginHandler)
		r.Post("/register/finish", s.handlers.RegisterFinishHandler)
		r.Post("/login/begin", s.handlers.LoginBeginHandler)
		r.Post("/login/finish", s.handlers.LoginFinishHandler)
		r.Post("/login/discover/begin", s.handlers.LoginDiscoverBeginHandler)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.SessionMiddleware())

		r.Post("/credentials/{id}/revoke", s.handlers.RevokeCredentialHandler)
		r.Post("/lockouts/{username}/reset", s.handlers.ResetLockoutHandler)
	})

	return r
}

// Handler returns the configured HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the REST API server.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "address", s.address)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error(err)
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}

// Address returns the address the server listens on.
func (s *Server) Address() string {
	return s.address
}
