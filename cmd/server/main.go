// Persona chat server.
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/persona-chat/internal/agent"
	"github.com/ashureev/persona-chat/internal/api"
	"github.com/ashureev/persona-chat/internal/chat"
	"github.com/ashureev/persona-chat/internal/config"
	"github.com/ashureev/persona-chat/internal/identity"
	"github.com/ashureev/persona-chat/internal/middleware"
	"github.com/ashureev/persona-chat/internal/realtime"
	"github.com/ashureev/persona-chat/internal/store"
	"github.com/ashureev/persona-chat/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"store", cfg.StoreDriver,
		"gateway", cfg.Gateway.Provider,
	)

	// Initialize dependencies.
	base, err := newRepository(cfg)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := base.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := base.Ping(context.Background()); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	repo := store.NewObserved(base, store.NewBroadcaster(logger))

	persona, err := config.LoadPersona(cfg.PersonaFile)
	if err != nil {
		slog.Error("Failed to load persona", "error", err)
		os.Exit(1)
	}
	err = repo.CreateConversation(context.Background(), persona.Conversation(time.Now()))
	switch {
	case err == nil:
		slog.Info("Conversation seeded", "conversation_id", persona.ConversationID)
	case errors.Is(err, store.ErrConversationExists):
		slog.Info("Resuming existing conversation", "conversation_id", persona.ConversationID)
	default:
		slog.Error("Failed to seed conversation", "error", err)
		os.Exit(1)
	}

	gateway, err := newGateway(context.Background(), cfg, logger)
	if err != nil {
		slog.Warn("Model gateway unavailable, the persona will answer with the fallback line", "error", err)
		gateway = nil
	}

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:    cfg.ConversationLog.Enabled,
		Dir:        cfg.ConversationLog.Dir,
		GlobalPath: globalLogPath(cfg.ConversationLog),
		QueueSize:  cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	agentSvc := agent.NewService(gateway, cfg.Gateway.Timeout, logger, conversationLogger)
	defer agentSvc.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := realtime.NewHub(repo.Events(), cfg.SSE.ReplayBuffer, logger)
	defer hub.Close()

	chatSvc := chat.NewService(chat.Deps{
		Repo:    repo,
		Agent:   agentSvc,
		Surface: hub,
		Metrics: chat.NewMetrics(registry),
		Logger:  logger,
	}, chat.Config{
		SelfID:      persona.Self.ID,
		Instruction: persona.Instruction,
		Pacing:      cfg.Pacing,
	})
	defer chatSvc.Close()

	// Initialize handlers.
	sm := realtime.NewSessionManager()
	streamHandler := realtime.NewHandler(repo, hub, sm, chatSvc, realtime.Options{
		AllowedOrigin:     cfg.FrontendURL,
		IsDev:             cfg.IsDevelopment(),
		RetryDelay:        cfg.SSE.RetryDelay,
		KeepaliveInterval: cfg.SSE.KeepaliveInterval,
	})
	apiHandler := api.NewHandler(repo, chatSvc, hub, agentSvc)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r, api.RouteOptions{
		SendLimit: middleware.RateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		Events:    streamHandler.ServeSSE,
	})
	streamHandler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	sm.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}

func newRepository(cfg *config.Config) (store.Repository, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		slog.Info("Database connected", "path", cfg.DBPath)
		return repo, nil
	default:
		return store.NewMemory(), nil
	}
}

// newGateway returns the configured model backend, or nil when disabled.
func newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (agent.Gateway, error) {
	switch cfg.Gateway.Provider {
	case config.ProviderGemini:
		client, err := agent.NewGeminiClient(ctx, cfg.Gateway.APIKey, cfg.Gateway.Model, logger)
		if err != nil {
			return nil, err
		}
		slog.Info("Gemini gateway ready", "model", cfg.Gateway.Model)
		return client, nil
	case config.ProviderGRPC:
		grpcCfg := agent.DefaultGrpcClientConfig()
		grpcCfg.Address = cfg.Gateway.GRPCAddr
		grpcCfg.RequestTimeout = cfg.Gateway.Timeout
		slog.Info("Connecting to model sidecar via gRPC", "address", grpcCfg.Address)
		client, err := agent.NewGrpcClient(grpcCfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderNone:
		return nil, agent.ErrNoGateway
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cfg.Gateway.Provider)
	}
}

func globalLogPath(c config.ConversationLogConfig) string {
	if !c.GlobalEnabled {
		return ""
	}
	return c.GlobalPath
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
