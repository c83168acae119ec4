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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-passkey/internal/config"
	"github.com/jeremyhahn/go-passkey/internal/rest"
	"github.com/jeremyhahn/go-passkey/pkg/cache"
	"github.com/jeremyhahn/go-passkey/pkg/ceremony"
	"github.com/jeremyhahn/go-passkey/pkg/challenge"
	"github.com/jeremyhahn/go-passkey/pkg/credential"
	"github.com/jeremyhahn/go-passkey/pkg/directory"
	"github.com/jeremyhahn/go-passkey/pkg/health"
	"github.com/jeremyhahn/go-passkey/pkg/logging"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
)

var (
	// Version information (set during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "/etc/passkey/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-passkey server\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Git Commit: %s\n", commit)
		fmt.Printf("  Built:      %s\n", date)
		os.Exit(0)
	}

	if envConfig := os.Getenv("PASSKEY_CONFIG"); envConfig != "" {
		*configPath = envConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.DefaultLogger().FatalError(err)
	}

	logger := logging.NewLoggerWithWriter(os.Stdout,
		cfg.Logging.Level == "debug",
		cfg.Logging.Format == "json")

	logger.Info("Starting passkey server",
		"config", *configPath,
		"version", version,
		"rp_id", cfg.RelyingParty.RPID)

	shutdownCtx := setupSignalHandler(logger)

	if cfg.Metrics.Enabled {
		metrics.Enable()
		metrics.StartRuntimeSampler(shutdownCtx, metrics.DefaultSampleInterval)
	} else {
		metrics.Disable()
	}

	server, err := buildServer(cfg, logger)
	if err != nil {
		logger.FatalError(err)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	logger.Info("Passkey server started", "address", cfg.Server.Address)

	select {
	case <-shutdownCtx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		logger.Error(err)
	}

	shutdownTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownTimeout); err != nil {
		logger.Error(err)
		os.Exit(1)
	}

	logger.Info("Passkey server stopped")
}

// buildServer wires the configured backends into a REST server.
func buildServer(cfg *config.Config, logger *logging.Logger) (*rest.Server, error) {
	secret, err := cfg.SecretProvider()
	if err != nil {
		return nil, err
	}

	checker := health.NewChecker()

	var counters cache.Cache
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		redisCache, err := cache.NewRedis(ctx, cfg.Cache.Redis.Addr,
			cfg.Cache.Redis.Password, cfg.Cache.Redis.DB, cfg.Cache.Redis.Prefix)
		if err != nil {
			return nil, err
		}
		checker.RegisterCheck("cache", redisCache.Ping)
		counters = redisCache
		logger.Info("Using Redis cache", "addr", cfg.Cache.Redis.Addr)
	default:
		counters = cache.NewMemory()
	}

	var store credential.Store
	switch cfg.Store.Backend {
	case config.StoreSQLite:
		sqliteStore, err := credential.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		checker.RegisterCheck("credential_store", sqliteStore.Ping)
		store = sqliteStore
		logger.Info("Using SQLite credential store", "path", cfg.Store.Path)
	default:
		store = credential.NewMemoryStore()
	}

	challenges, err := challenge.NewService(challenge.ServiceParams{
		Config: &cfg.Challenge,
		Secret: secret,
		Nonces: counters,
	})
	if err != nil {
		return nil, err
	}

	guard, err := ratelimit.NewGuard(counters, &cfg.Guard)
	if err != nil {
		return nil, err
	}

	users := directory.NewMemoryDirectory()
	for _, user := range cfg.Users {
		users.Add(user)
	}

	engine, err := ceremony.NewEngine(ceremony.Params{
		Config:      &cfg.RelyingParty,
		Secret:      secret,
		Challenges:  challenges,
		Guard:       guard,
		Credentials: store,
		Directory:   users,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(&ratelimit.LimiterConfig{
			Enabled:           true,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
		})
	}

	sessionSecret, err := secret.Secret()
	if err != nil {
		return nil, err
	}

	return rest.NewServer(&rest.Config{
		Address:       cfg.Server.Address,
		Engine:        engine,
		Directory:     users,
		SessionSecret: sessionSecret,
		Session:       cfg.Session,
		AdminUsers:    cfg.AdminUsers,
		Limiter:       limiter,
		Health:        checker,
		Logger:        logger,
	})
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler(logger *logging.Logger) context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}
