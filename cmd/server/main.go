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

	"github.com/sudo-init-do/homebid/internal/app"
	"github.com/sudo-init-do/homebid/internal/config"
	"github.com/sudo-init-do/homebid/internal/db"
	"github.com/sudo-init-do/homebid/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogDev)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := db.Open(ctx, cfg.DB)
	if err != nil {
		slog.Error("opening database", "error", err)
		os.Exit(1)
	}

	a, err := app.New(ctx, cfg, d)
	if err != nil {
		slog.Error("building services", "error", err)
		d.Close()
		os.Exit(1)
	}
	defer a.Close()

	if err := a.StartBackground(ctx); err != nil {
		slog.Error("starting background work", "error", err)
		return
	}

	e := a.Router()
	go func() {
		slog.Info("listening", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}
