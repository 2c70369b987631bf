package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/fwtopo/internal/api"
	"github.com/gyaneshwarpardhi/fwtopo/internal/bus"
	"github.com/gyaneshwarpardhi/fwtopo/internal/config"
	"github.com/gyaneshwarpardhi/fwtopo/internal/engine"
	"github.com/gyaneshwarpardhi/fwtopo/internal/subscriber"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	cfgPath := flag.String("config", "configs/bus.yaml", "Path to bus YAML config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}

	// ── Subscribers ───────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	disp := engine.New(ctx, subscriber.Defaults(), cfg.Dispatcher)
	if err := disp.Apply(cfg.Subscribers); err != nil {
		slog.Error("failed to start subscribers", "err", err)
		os.Exit(1)
	}
	slog.Info("subscribers started", "count", len(disp.Subscribers()))

	// ── Bus manager ───────────────────────────────────────────────────────────
	roles := bus.NewLogRoles(logger)
	mgr := bus.New(cfg.Bus, bus.Deps{
		Flusher:   disp,
		Publisher: disp,
		Roles:     roles,
		Resetter: bus.ResetFunc(func(ctx context.Context, reason string) error {
			// No link layer attached: the reporter is expected to follow up
			// with a new reset.
			slog.Warn("bus reset requested", "reason", reason)
			return nil
		}),
	})

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	apply := func(newCfg *config.Config) error {
		mgr.SetConfig(newCfg.Bus)
		disp.SetConfig(newCfg.Dispatcher)
		return disp.Apply(newCfg.Subscribers)
	}
	loader.OnChange(func(newCfg *config.Config) {
		if err := config.Validate(newCfg); err != nil {
			slog.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		if err := apply(newCfg); err != nil {
			slog.Warn("hot-reload skipped: subscribers not applied", "err", err)
			return
		}
		slog.Info("config hot-reloaded", "subscribers", len(disp.Subscribers()))
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(mgr, disp, loader, nil)
	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr, "bus", cfg.Bus.Name)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	if b := mgr.DestroyAll(shutCtx); b != nil {
		slog.Info("topology released", "nodes", len(b.Events))
	}
	if err := disp.Flush(shutCtx, mgr.Generation()); err != nil {
		slog.Warn("final flush incomplete", "err", err)
	}
	disp.Shutdown()
	cancel()
	slog.Info("goodbye")
}
