package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fabworks/bomcheck/internal/catalog"
	"github.com/fabworks/bomcheck/internal/classify"
	"github.com/fabworks/bomcheck/internal/config"
	"github.com/fabworks/bomcheck/internal/logging"
	"github.com/fabworks/bomcheck/internal/store"
	"github.com/fabworks/bomcheck/internal/stream"
	"github.com/fabworks/bomcheck/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"upload_dir", cfg.Upload.Dir,
		"stream_max_concurrent", cfg.Stream.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Staging area for uploaded workbooks
	uploads, err := store.New(cfg.Upload.Dir)
	if err != nil {
		slog.Error("failed to create upload dir", "dir", cfg.Upload.Dir, "error", err)
		os.Exit(1)
	}

	// Column classifier; a missing model artifact degrades predictions
	// instead of blocking startup.
	classifier := classify.Load(cfg.Model.Path)
	if !classifier.Loaded() {
		slog.Warn("no classifier model loaded, column predictions degraded")
	}

	// Vendor resolvers. Missing credentials are allowed: the service still
	// serves uploads and mapping, and the vendor APIs reject the calls.
	if cfg.DigiKey.ClientID == "" {
		slog.Warn("DigiKey credentials not configured")
	}
	if cfg.Mouser.APIKey == "" {
		slog.Warn("Mouser API key not configured")
	}
	digikey := catalog.NewDigiKey(cfg.DigiKey)
	mouser := catalog.NewMouser(cfg.Mouser)

	limiter := stream.NewLimiter(cfg.Stream.MaxConcurrent, cfg.Stream.MaxWaitTime)
	server := web.NewServer(*cfg, uploads, classifier, digikey, mouser, limiter)

	// Graceful shutdown: drain active streams, then stop the listener.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if active := limiter.ActiveCount(); active > 0 {
			slog.Info("waiting for streams to complete", "active", active)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
