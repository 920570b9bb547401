package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZanzyTHEbar/resonance-trajectory/docs"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/config"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/monitoring"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

// @title           Resonance Trajectory API
// @version         1.0
// @description     Student risk trajectories and minimal intervention plans.
// @BasePath        /
func main() {
	docs.SwaggerInfo.Version = version

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := monitoring.NewLogger(monitoring.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to start", "error", err)
		os.Exit(1)
	}
	defer a.close()

	a.startBackground(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: a.router,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "port", cfg.Server.Port, "source", cfg.Source.Kind, "policy", cfg.Engine.Policy, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down server...")
	case err := <-serverErr:
		slog.Error("Server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exited")
}
