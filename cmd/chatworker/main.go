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

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/emontero/chatworker/internal/adapter/driven/bridge"
	"github.com/emontero/chatworker/internal/adapter/driven/openai"
	sqliteadapter "github.com/emontero/chatworker/internal/adapter/driven/sqlite"
	"github.com/emontero/chatworker/internal/adapter/driven/webhook"
	httphandler "github.com/emontero/chatworker/internal/adapter/driving/http"
	"github.com/emontero/chatworker/internal/application"
	"github.com/emontero/chatworker/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"bridge_url", cfg.BridgeURL,
		"openai_deployment", cfg.OpenAIDeployment,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire driven adapters.
	instanceStore := sqliteadapter.NewInstanceRepo(db)
	sessionStore := sqliteadapter.NewSessionRepo(db)
	transcriptStore := sqliteadapter.NewMessageRepo(db)

	completions, err := openai.NewClient(cfg.OpenAIEndpoint, cfg.OpenAIKey, cfg.OpenAIDeployment)
	if err != nil {
		return err
	}
	replyWebhook := webhook.NewClient()
	dialer := bridge.NewDialer(cfg.BridgeURL)

	// 6. Wire the application core.
	router := application.NewRouter(instanceStore, transcriptStore, replyWebhook, completions)
	registry := application.NewRegistry(ctx, instanceStore, sessionStore, dialer, router)

	// 7. Create HTTP control plane.
	handler := httphandler.NewHandler(registry, instanceStore, slog.Default())
	mux := httphandler.NewServeMux(handler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("chatworker started", "listen_addr", cfg.ListenAddr)

	// 8. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 9. Graceful shutdown: drain HTTP first so no new sessions start, then
	// stop every live session so disconnected statuses land before exit.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	registry.StopAll()

	slog.Info("shutdown complete")
	return nil
}
