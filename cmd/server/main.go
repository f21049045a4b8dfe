// Package main is the entrypoint for the worksheet intake API server.
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

	"github.com/kwen1510/CODEX-HACKATHON/internal/api"
	"github.com/kwen1510/CODEX-HACKATHON/internal/api/handler"
	mw "github.com/kwen1510/CODEX-HACKATHON/internal/api/middleware"
	"github.com/kwen1510/CODEX-HACKATHON/internal/cache"
	"github.com/kwen1510/CODEX-HACKATHON/internal/config"
	"github.com/kwen1510/CODEX-HACKATHON/internal/intake"
	"github.com/kwen1510/CODEX-HACKATHON/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "storage_root", cfg.Storage.Root, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Prepare the filesystem store
	fsStore := store.NewFSStore(cfg.Storage.Root)
	if err := fsStore.EnsureLayout(ctx); err != nil {
		return fmt.Errorf("prepare storage layout: %w", err)
	}
	slog.Info("storage layout ready")

	// 3. Connect Redis when configured; the store stays authoritative
	var statusCache cache.Cache
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		statusCache = redisCache
		slog.Info("redis connected")
	} else {
		slog.Info("redis not configured, status cache and rate limiting disabled")
	}

	// 4. Build router with dependencies
	worksheets := handler.NewWorksheets(intake.NewService(fsStore, cfg.Storage.Root), fsStore, statusCache)

	var rateLimit *mw.RateLimit
	if statusCache != nil {
		rateLimit = mw.NewRateLimit(statusCache, cfg.Server.RateLimitPerMin)
	}

	router := api.NewRouter(api.Dependencies{
		RateLimit: rateLimit,

		HealthHandler: handler.Health,
		UploadHandler: worksheets.Upload,
		ListHandler:   worksheets.List,
		GetHandler:    worksheets.Get,
	})

	// 5. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
