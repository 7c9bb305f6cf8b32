// Kestrel - Adaptive fraud investigation engine.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/agents"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/checkpoint"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/orchestrator"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/routing"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"checkpoint", cfg.Checkpoint.Type,
		"eventbus", cfg.EventBus.Type,
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

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Checkpoint Store
	store, err := checkpoint.New(cfg.Checkpoint)
	if err != nil {
		slog.Error("failed to initialize checkpoint store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("checkpoint store initialized", "type", cfg.Checkpoint.Type, "namespace", cfg.Checkpoint.Namespace)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize Velocity Service
	velocitySvc := velocity.NewService(repo, cacheImpl)

	// Initialize Rule Engine with built-in fraud heuristics plus any rules
	// configured via the API.
	engine, err := rules.NewEngine(velocitySvc.GetVelocityGetter(), 100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	if err := loadRules(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize Scoring Engine
	calculator := scoring.NewRuleCalculator(engine, 3600)
	scorer := scoring.NewEngine(calculator, cfg.Scoring, logger)
	slog.Info("scoring engine initialized", "base_threshold", cfg.Scoring.BaseThreshold, "seed", cfg.Scoring.Seed)

	// Initialize Routing Engine and domain agents
	router := routing.NewEngine(cfg.Routing)
	agentRegistry := agents.Registry(repo, scorer)
	slog.Info("routing initialized", "adaptive", cfg.Routing.Adaptive, "agents", len(agentRegistry))

	// Initialize Orchestrator and Manager
	orch := orchestrator.New(repo, store, busImpl, router, scorer, agentRegistry, cfg, logger)
	manager := orchestrator.NewManager(orch)

	// Initialize intake worker for bus-driven investigation requests
	intake := worker.NewWorker(busImpl, manager, cfg.Checkpoint.Namespace, logger)
	if err := intake.Start(ctx); err != nil {
		slog.Error("failed to start intake worker", "error", err)
		os.Exit(1)
	}
	slog.Info("intake worker started", "topic", domain.TopicRequested)

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, store, busImpl, manager, scorer, engine,
		cfg.Checkpoint.Namespace, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
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

	// Stop intake first, then abort running investigations so their
	// terminal checkpoints land.
	intake.Stop()
	manager.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// applyEnvOverrides maps deployment environment variables onto the config.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Checkpoint.RedisAddr = v
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_NAMESPACE"); v != "" {
		cfg.Checkpoint.Namespace = v
	}
}

// loadRules seeds the engine with the built-in fraud heuristics and any
// enabled rules stored in the repository.
func loadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	configs := rules.BuiltinRules()

	stored, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
	} else if len(stored) > 0 {
		slog.Info("loading rules from database", "count", len(stored))
		configs = append(configs, stored...)
	}

	return engine.LoadRules(configs)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║     Fraud Investigation Engine            ║")
	fmt.Println("  ║      Hover. Watch. Strike.                ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /investigations                  - Start an investigation")
	fmt.Println("    GET  /investigations/{id}             - Get investigation state")
	fmt.Println("    GET  /investigations/{id}/checkpoints - List checkpoints")
	fmt.Println("    POST /investigations/{id}/cancel      - Cancel a running investigation")
	fmt.Println("    POST /score                           - Score an entity synchronously")
	fmt.Println("    GET  /assessments/{entityId}          - Get latest verdict")
	fmt.Println("    POST /transactions                    - Ingest a transaction")
	fmt.Println("    GET  /transactions/{id}               - Get transaction by ID")
	fmt.Println("    GET  /rules                           - List heuristic rules")
	fmt.Println("    POST /rules                           - Create a heuristic rule")
	fmt.Println("    POST /rules/reload                    - Hot-reload rules")
	fmt.Println("    GET  /health                          - Health check")
	fmt.Println()
}
