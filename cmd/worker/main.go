// Package main is the batch worker entrypoint: it discovers eligible
// worksheets, runs the pipeline over them and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kwen1510/CODEX-HACKATHON/internal/cache"
	"github.com/kwen1510/CODEX-HACKATHON/internal/config"
	"github.com/kwen1510/CODEX-HACKATHON/internal/discovery"
	"github.com/kwen1510/CODEX-HACKATHON/internal/pipeline"
	"github.com/kwen1510/CODEX-HACKATHON/internal/runtime"
	"github.com/kwen1510/CODEX-HACKATHON/internal/store"
	"github.com/kwen1510/CODEX-HACKATHON/internal/supervisor"
	"github.com/kwen1510/CODEX-HACKATHON/pkg/models"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	target := flag.String("id", "", "process only this worksheet ID")
	mode := flag.String("mode", "", "override the run mode (codex|manual)")
	flag.Parse()

	if err := run(*target, *mode); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(target, modeOverride string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if modeOverride != "" {
		if modeOverride != config.ModeCodex && modeOverride != config.ModeManual {
			return fmt.Errorf("invalid -mode %q", modeOverride)
		}
		cfg.Pipeline.Mode = modeOverride
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fsStore := store.NewFSStore(cfg.Storage.Root)
	if err := fsStore.EnsureLayout(ctx); err != nil {
		return fmt.Errorf("prepare storage layout: %w", err)
	}

	var statusCache cache.Cache
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()
		if err := redisCache.Ping(ctx); err != nil {
			// The cache is a fast-path only; a batch run proceeds without it.
			slog.Warn("redis unreachable, continuing without status cache", "error", err)
		} else {
			statusCache = redisCache
		}
	}

	disc := discovery.New(fsStore, discovery.Options{
		StaleThreshold: cfg.Pipeline.StaleThreshold,
		RetryEnabled:   cfg.Pipeline.RetryEnabled,
		MaxAttempts:    cfg.Pipeline.MaxAttempts,
	})
	rt := runtime.NewHTTPClient(cfg.Runtime.BaseURL, cfg.Runtime.APIKey, cfg.Runtime.Model, cfg.Runtime.Timeout)

	worker, err := pipeline.NewWorker(fsStore, disc, supervisor.ExecRunner{}, rt, statusCache, cfg.Pipeline, cfg.Runtime.EndpointPath)
	if err != nil {
		return fmt.Errorf("build pipeline worker: %w", err)
	}

	results, err := worker.ProcessBatch(ctx, target)
	for _, res := range results {
		switch res.State {
		case models.WorksheetIntegrated:
			slog.Info("worksheet integrated", "id", res.ID, "output", res.OutputPath)
		default:
			slog.Error("worksheet failed", "id", res.ID, "error", res.Err)
		}
	}
	if err != nil {
		return fmt.Errorf("batch aborted: %w", err)
	}
	slog.Info("batch complete", "processed", len(results))
	return nil
}
