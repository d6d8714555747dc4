// Gigachad AI Gatekeeper - admission funnel server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/api"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/archive"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/auth"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/config"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/exporter"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/gatekeeper"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/logbuf"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/middleware"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/store"
)

func main() {
	// Recent log output is mirrored into a ring buffer for /admin/logs.
	ring := logbuf.NewRing(256 * 1024)
	logger := slog.New(slog.NewJSONHandler(logbuf.Tee(os.Stdout, ring), &slog.HandlerOptions{
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

	slog.Info("Starting gatekeeper", "port", cfg.Port, "dev", cfg.IsDevelopment())
	if cfg.UsesDefaultAdminSecret() {
		slog.Warn("ADMIN_SECRET is unset, using the built-in default; override it in production")
	}

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

	ringKeys := gatekeeper.KeyRingFromEnv()
	if ringKeys.Len() == 0 {
		slog.Warn("No API keys configured; the persona will sleep on every request")
	} else {
		slog.Info("API key ring loaded", "keys", ringKeys.Len())
	}
	engine := gatekeeper.NewEngine(cfg, ringKeys, logger)

	archiver, err := archive.New(cfg.ConversationLog, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation archiver", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := archiver.Close(); closeErr != nil {
			slog.Error("Failed to close archiver", "error", closeErr)
		}
	}()

	exp := exporter.New(cfg.Export.WebhookURL, repo, nil, logger)
	verifier := auth.NewVerifier(cfg.AuthLookupURL, cfg.Firebase.APIKey, nil)

	handler := api.NewHandler(repo, engine, cfg, archiver, exp, ring)
	defer handler.Close()

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(r, auth.Middleware(verifier))

	// Chat streams need long-lived responses, so no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exporter.StartWorker(ctx, exp, cfg.Export.Interval)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

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
