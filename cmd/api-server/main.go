// Command api-server serves the invoice pipeline as one authenticated HTTP
// API and periodically fails images stuck in processing.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/server"
	"github.com/Lllllllleong/invoiceflow/internal/services"
)

func main() {
	if err := run(); err != nil {
		slog.Error("API server stopped.", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	if err := cfg.Validate(config.NeedAuth); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := services.OpenPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			slog.Warn("Failed to close clients.", "error", err)
		}
	}()

	stopSweeper, err := pipeline.Sweeper.Start(ctx, cfg.SweepSchedule)
	if err != nil {
		return err
	}
	defer stopSweeper()

	srv := server.New(pipeline, cfg.JWTSecret, ":"+cfg.Port)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}
