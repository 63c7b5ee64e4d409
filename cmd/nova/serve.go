package main

import (
	"context"
	"io"
	"os/signal"
	"syscall"

	"github.com/novakit/nova/internal/api"
	"github.com/novakit/nova/internal/buildinfo"
)

// runServe starts the HTTP API server and blocks until SIGINT or
// SIGTERM.
func runServe(ctx context.Context, stdout, stderr io.Writer, configPath string) error {
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// trigger graceful shutdown.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, stdout, configPath, true)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("starting", "build", buildinfo.String())

	// The session greets or welcomes on startup just like an
	// interactive one.
	if msg := a.engine.Bootstrap(ctx); msg != nil {
		a.logger.Info("session opened", "message", msg.Text)
	}

	srv := api.NewServer(a.cfg.Listen.Address, a.cfg.Listen.Port, a.engine, a.bus, a.logger)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	a.logger.Info("shutdown complete")
	return nil
}
