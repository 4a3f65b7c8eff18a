package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olegrjumin/stackprobe/internal/app"
	"github.com/olegrjumin/stackprobe/internal/config"
	"github.com/olegrjumin/stackprobe/internal/httpapi"
	"github.com/olegrjumin/stackprobe/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration from .env, the optional config file and environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.NewWithOptions(app.LoggingOptions(cfg))
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}

	a := app.New(cfg, logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Preload the rule database; a failure here is retried on the first request
	go func() {
		db, err := a.Store.Get(ctx)
		if err != nil {
			logger.Warn("Rule database preload failed; will load on first request", "error", err)
			return
		}
		logger.Info("Rule database loaded",
			"source", db.Meta.Source,
			"technologies", db.Meta.TechCount,
			"categories", db.Meta.CategoryCount,
		)
	}()

	if cfg.TechDBWatch && cfg.TechDBSource == "files" {
		go func() {
			if err := a.Store.Watch(ctx, cfg.DataRoot, logger); err != nil {
				logger.Warn("Rule database watcher stopped", "error", err)
			}
		}()
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := httpapi.NewServer(addr, logger, a.Service, a.Limiter, httpapi.OptionsFromConfig(cfg))

	// Channel to listen for OS signals (Ctrl+C, kill, etc.)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("Starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	sig := <-quit
	logger.Info("Shutting down server...", "signal", sig.String())
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("Server stopped gracefully")
}
