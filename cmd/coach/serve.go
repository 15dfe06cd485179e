package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/scenario-coach/internal/api"
	"github.com/ashureev/scenario-coach/internal/config"
	"github.com/ashureev/scenario-coach/internal/convlog"
	"github.com/ashureev/scenario-coach/internal/dialogue"
	"github.com/ashureev/scenario-coach/internal/health"
	"github.com/ashureev/scenario-coach/internal/middleware"
	"github.com/ashureev/scenario-coach/internal/session"
	"github.com/ashureev/scenario-coach/internal/store"
	"github.com/ashureev/scenario-coach/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket dialogue server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if port != "" {
				cfg.Port = port
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func serve(parent context.Context, cfg *config.Config) error {
	logger := setupLogger(cfg.LogLevel)
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "provider", cfg.Model.Provider)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	registry, err := loadScenarios(cfg)
	if err != nil {
		return err
	}
	slog.Info("Scenarios loaded", "count", len(registry.List()), "default", registry.Default())

	provider, providerOpts, err := newProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize model provider: %w", err)
	}

	convLogger, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() {
		if closeErr := convLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	sessions := session.NewMemoryStore()
	defer func() { _ = sessions.Close() }()

	opts := append([]dialogue.Option{
		dialogue.WithModelTimeout(cfg.Model.Timeout),
		dialogue.WithConversationLog(convLogger),
		dialogue.WithRecorder(repo),
		dialogue.WithLogger(logger),
	}, providerOpts...)
	engine := dialogue.New(sessions, provider, registry, opts...)

	// Initialize handlers.
	conns := api.NewConnRegistry()
	baseHandler := api.NewHandler(engine, registry, repo, cfg.MaxRequestBody)
	healthHandler := api.NewHealthHandler(repo, sessions)
	dialogueHandler := api.NewDialogueHandler(baseHandler)
	catalogHandler := api.NewCatalogHandler(baseHandler)
	wsHandler := api.NewWebSocketHandler(baseHandler, conns, cfg.AllowedOrigins(), cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	healthHandler.RegisterHealth(r)
	dialogueHandler.RegisterRoutes(r)
	catalogHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WriteTimeout must cover the slowest model call.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Model.Timeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start idle session sweeper.
	onEvict := func(sessionID string) {
		conns.CloseSession(sessionID)
		evictCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var scenarioID string
		if outcome, err := repo.GetOutcome(evictCtx, sessionID); err == nil {
			scenarioID = outcome.ScenarioID
		}
		convLogger.Log(convlog.Event{
			ScenarioID: scenarioID,
			SessionID:  sessionID,
			Channel:    "dialogue",
			Direction:  "internal",
			EventType:  convlog.EventSessionEvicted,
		})
		if err := repo.MarkEvicted(evictCtx, sessionID); err != nil {
			slog.Warn("Failed to mark session evicted", "session_id", sessionID, "error", err)
		}
	}
	session.StartSweeper(ctx, sessions, cfg.Sessions.IdleTTL, cfg.Sessions.SweepInterval, onEvict)

	// Optional gRPC health endpoint.
	var grpcHealth *health.Server
	if cfg.GRPCHealthPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			return fmt.Errorf("listen for gRPC health: %w", err)
		}
		grpcHealth = health.NewServer(repo, health.WithLogger(logger))
		go grpcHealth.Run(ctx)
		go func() {
			if err := grpcHealth.Serve(lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcHealth != nil {
		grpcHealth.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
