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

	"github.com/spf13/cobra"

	"github.com/mkoziy/grants/syncer/internal/api"
	"github.com/mkoziy/grants/syncer/internal/config"
	"github.com/mkoziy/grants/syncer/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

func serveRun(cmd *cobra.Command, cfg *config.Config) error {
	logger := commonRun(cfg)
	if cfg.HTTP.AdminToken == "" {
		return errors.New("http admin token is required to serve; set GRANTSYNC_HTTP_ADMIN_TOKEN")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		sched = scheduler.New(cfg.Schedule, a.syncer, logger)
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	handler := api.NewHandler(cfg.HTTP, a.syncer, a.db, a.registry, logger)
	srv := api.NewServer(cfg.HTTP, handler)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr, "component", programName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "component", programName)
	case err := <-errCh:
		if err != nil {
			slog.Error("http server failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err, "component", programName)
	}
	if sched != nil {
		sched.Stop()
	}

	// Runs started over HTTP outlive their request; the DB must stay open
	// until they have completed their ledger rows.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Sync.StaleAfter)
	defer cancelDrain()
	if err := a.syncer.Wait(drainCtx); err != nil {
		logger.Error("sync still running at shutdown", "err", err, "component", programName)
	}
	return nil
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API and run the sync schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd, mustConfig(cmd))
		},
	}
}
