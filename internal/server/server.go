// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

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

	"codeberg.org/oliverandrich/otp-recovery/internal/config"
	"codeberg.org/oliverandrich/otp-recovery/internal/handlers"
	"codeberg.org/oliverandrich/otp-recovery/internal/i18n"
	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v3"
)

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	setupLogger(logOutput(cmd), cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	// i18n
	if initErr := i18n.Init(); initErr != nil {
		return fmt.Errorf("failed to init i18n: %w", initErr)
	}

	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			slog.Error("failed to close stores", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go app.Service.RunCleanupLoop(ctx, cfg.Recovery.CleanupInterval)

	e := NewEcho(cfg, app)

	return startWithGracefulShutdown(e, cfg, cancel)
}

// NewEcho builds the HTTP server with middleware and routes.
func NewEcho(cfg *config.Config, app *App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	setupMiddleware(e, cfg)
	setupRoutes(e, cfg, app)

	return e
}

func setupRoutes(e *echo.Echo, cfg *config.Config, app *App) {
	checks := map[string]handlers.Pinger{"database": app.DB}
	if app.Redis != nil {
		checks["redis"] = redisPinger{app.Redis}
	}
	h := handlers.New(checks)
	rh := handlers.NewRecovery(app.Service)

	e.GET("/health", h.Health)

	api := e.Group("/api/recovery")
	if limiter := rateLimiter(cfg.Server.RateLimit); limiter != nil {
		api.Use(limiter)
	}
	api.POST("/request", rh.Request)
	api.POST("/resend", rh.Resend)
	api.POST("/verify", rh.Verify)
	api.POST("/reset", rh.Reset)
}

func startWithGracefulShutdown(e *echo.Echo, cfg *config.Config, stop context.CancelFunc) error {
	errChan := make(chan error, 1)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		slog.Info("Server running", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for interrupt signal or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		slog.Info("shutting down server")
	case err := <-errChan:
		slog.Error("server error", "error", err)
		stop()
		return err
	}

	// stops the cleanup loop
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
