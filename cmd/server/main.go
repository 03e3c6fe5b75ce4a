// TestBoost - Maintenance Workflow Orchestration Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/agent"
	"github.com/axtion-io/TestBoost-sub002/internal/api"
	"github.com/axtion-io/TestBoost-sub002/internal/config"
	"github.com/axtion-io/TestBoost-sub002/internal/engine"
	"github.com/axtion-io/TestBoost-sub002/internal/lock"
	"github.com/axtion-io/TestBoost-sub002/internal/middleware"
	"github.com/axtion-io/TestBoost-sub002/internal/session"
	"github.com/axtion-io/TestBoost-sub002/internal/store"
	"github.com/axtion-io/TestBoost-sub002/internal/toolexec"
	"github.com/axtion-io/TestBoost-sub002/internal/workflow"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "lock_lease", cfg.Lock.LeaseDuration)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	catalog, err := workflow.LoadCatalog(cfg.PlanCatalogPath)
	if err != nil {
		slog.Error("Failed to load workflow plan catalog", "error", err)
		os.Exit(1)
	}

	locks := lock.NewManager(repo, cfg.Lock.LeaseDuration)
	eng := engine.New(repo, engine.Config{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		InvokeTimeout: cfg.Retry.InvokeTimeout,
	})

	// Wire the reasoning agent. Without an endpoint, agent-backed
	// steps fail hard instead of falling back to a local substitute.
	var defaultInvoker engine.Invoker = agent.Unavailable{}
	if cfg.AgentAddr != "" {
		agentClient, err := agent.NewClient(cfg.AgentAddr, logger)
		if err != nil {
			slog.Error("Failed to connect to reasoning agent", "error", err)
			os.Exit(1)
		}
		defer agentClient.Close()
		defaultInvoker = agentClient
	} else {
		slog.Warn("AGENT_ADDR not set; agent-backed steps will fail until configured")
	}

	registry := session.NewRegistry(defaultInvoker)
	if cfg.DockerEnabled {
		docker, err := toolexec.NewDockerAdapter()
		if err != nil {
			slog.Error("Failed to initialize Docker tool adapter", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := docker.Close(); closeErr != nil {
				slog.Warn("Failed to close Docker client", "error", closeErr)
			}
		}()
		for _, code := range []string{"build-image", "start-container", "verify-deployment"} {
			registry.Register(code, docker)
		}
		slog.Info("Docker tool adapter wired for deployment steps")
	}

	mgr := session.NewManager(repo, locks, eng, catalog, registry)

	// Crash recovery: re-attach sessions a previous process left in a
	// non-terminal state, failing those whose lock lease lapsed.
	if err := mgr.RecoverActive(context.Background()); err != nil {
		slog.Error("Failed to recover active sessions", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, mgr)
	sessionHandler := api.NewSessionHandler(baseHandler)
	eventStream := api.NewEventStreamHandler(repo, cfg.AllowedOrigins)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	baseHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/events", eventStream.ServeHTTP)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// Advance blocks while a step runs through its retry budget,
		// so no write timeout.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	locks.StartSweeper(ctx, cfg.Sweep.Interval)
	mgr.StartRetentionSweeper(ctx, cfg.Sweep.Interval, cfg.Retention)
	if cfg.Runner.Enabled {
		mgr.StartRunner(ctx, cfg.Runner.Interval)
		slog.Info("Session runner started", "interval", cfg.Runner.Interval)
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
