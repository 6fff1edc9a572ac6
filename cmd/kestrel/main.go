// Kestrel - Real-time UPI fraud risk scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/logging"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/reputation"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/security"
	"github.com/opensource-finance/kestrel/internal/stream"
	"github.com/opensource-finance/kestrel/internal/traces"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	slog.SetDefault(logging.New(cfg.Logging.Level, cfg.Logging.Format))

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"kafka", cfg.EventBus.KafkaBrokers != "",
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Tracing
	shutdownTracing, err := traces.Init(ctx, cfg.Tracing, Version)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize Security
	cipher, err := security.NewFieldCipher(cfg.Security.EncryptionKey, cfg.Security.RequireEncryption)
	if err != nil {
		slog.Error("failed to initialize field cipher", "error", err)
		os.Exit(1)
	}
	if !cipher.Enabled() {
		slog.Warn("KESTREL_ENCRYPTION_KEY not set, features and explanations are stored as plaintext")
	}

	tokenizer := security.NewTokenizer(cfg.Security.TokenSalt)
	if tokenizer.UsesDefaultSalt() {
		slog.Warn("KESTREL_TOKEN_SALT not set, identifier tokens use the default salt")
	}
	if cfg.Security.AdminToken == "" {
		slog.Warn("KESTREL_ADMIN_TOKEN not set, admin endpoints are unprotected")
	}

	// Initialize Repository
	repo, err := repository.New(cfg.Repository, cipher)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	go metrics.StartDBStatsCollector(ctx, repo.DB(), 15*time.Second)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Indicator Engine
	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	if err := engine.LoadRules(rules.BuiltinRules()); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize Ensemble
	voter := ensemble.LoadDir(cfg.Models.Dir, cfg.Models.Names...)
	available := 0
	for _, s := range voter.Slots() {
		if s.Available() {
			available++
		}
	}
	slog.Info("ensemble initialized", "dir", cfg.Models.Dir, "available", available, "configured", len(cfg.Models.Names))

	// Initialize Enrichment
	analyticsSvc := analytics.NewService(repo, analytics.DefaultForestOptions())
	profiles := profile.NewStore(repo, cacheImpl, cfg.Cache.EntryTTL)
	reputationSvc := reputation.NewService(repo, cacheImpl, tokenizer, cfg.Cache.EntryTTL)

	// Initialize Event Stream
	hub := stream.NewHub()
	relay := stream.NewRelay(busImpl, hub)
	if err := relay.Start(ctx); err != nil {
		slog.Error("failed to start event relay", "error", err)
		os.Exit(1)
	}

	// Initialize Scorer
	scorer := scoring.New(scoring.Deps{
		Repo:              repo,
		Tokenizer:         tokenizer,
		Velocity:          velocity.NewService(repo),
		Analytics:         analyticsSvc,
		Rules:             engine,
		Voter:             voter,
		Profiles:          profiles,
		Publisher:         stream.NewBusPublisher(busImpl),
		EncryptionEnabled: cipher.Enabled(),
		AdminToken:        cfg.Security.AdminToken,
	})

	// Build the analytics snapshot off the request path.
	go func() {
		if _, err := analyticsSvc.Snapshot(ctx); err != nil {
			slog.Warn("initial analytics snapshot failed", "error", err)
		}
	}()

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Scorer:     scorer,
		Reputation: reputationSvc,
		Stream:     stream.NewHandler(hub, cfg.Stream.KeepAlive, cfg.Stream.SubscriberBuffer),
		Repo:       repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Version:    Version,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the relay first so no event reaches a closing hub
	if err := relay.Stop(); err != nil {
		slog.Error("failed to stop event relay", "error", err)
	}
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 KESTREL                   ║")
	fmt.Println("  ║      Real-time UPI Fraud Risk Scoring     ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score                          - Score a transaction")
	fmt.Println("    GET  /transactions                   - Recent transactions")
	fmt.Println("    GET  /transactions/{id}              - Get transaction by ID")
	fmt.Println("    GET  /transactions/{id}/explanation  - Feature contributions")
	fmt.Println("    POST /transactions/{id}/block        - Operator block")
	fmt.Println("    POST /admin/clear                    - Clear history")
	fmt.Println("    POST /admin/analytics/refresh        - Rebuild graph and anomaly model")
	fmt.Println("    GET  /reputation/{token}             - VPA reputation")
	fmt.Println("    POST /heartbeat                      - Record client activity")
	fmt.Println("    GET  /users/{identifier}             - Behavioral profile")
	fmt.Println("    GET  /stream                         - NDJSON event stream")
	fmt.Println("    GET  /ws                             - WebSocket event stream")
	fmt.Println("    GET  /metrics                        - Prometheus metrics")
	fmt.Println("    GET  /health                         - Health check")
	fmt.Println()
}
