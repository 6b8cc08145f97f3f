package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptrace/bun"

	"github.com/mkoziy/grants/syncer/internal/config"
	"github.com/mkoziy/grants/syncer/internal/database"
	"github.com/mkoziy/grants/syncer/internal/eligibility"
	"github.com/mkoziy/grants/syncer/internal/events"
	"github.com/mkoziy/grants/syncer/internal/ledger"
	"github.com/mkoziy/grants/syncer/internal/metrics"
	"github.com/mkoziy/grants/syncer/internal/migrations"
	"github.com/mkoziy/grants/syncer/internal/pipeline"
	"github.com/mkoziy/grants/syncer/internal/ratelimit"
	"github.com/mkoziy/grants/syncer/internal/sources/grantsgov"
)

// app bundles the long-lived dependencies shared by the subcommands.
type app struct {
	db        *bun.DB
	registry  *prometheus.Registry
	publisher events.Publisher
	syncer    *pipeline.Syncer
}

func openDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*bun.DB, error) {
	db, err := database.NewDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := migrations.RunMigrations(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := openDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.New(cfg.Source.RateLimit)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	publisher, err := events.New(ctx, cfg.Redis)
	if err != nil {
		// Events are best effort; a missing broker must not block syncing.
		logger.Warn("event publishing disabled", "err", err, "component", programName)
		publisher = events.Nop{}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	syncer := pipeline.New(cfg.Sync, pipeline.Deps{
		DB:        db,
		Source:    grantsgov.NewClient(cfg.Source, limiter, logger),
		Ledger:    ledger.New(db, cfg.Sync.StaleAfter, logger),
		Filter:    eligibility.NewFilter(cfg.Eligibility),
		Metrics:   metrics.New(registry),
		Publisher: publisher,
		Logger:    logger,
	})

	return &app{
		db:        db,
		registry:  registry,
		publisher: publisher,
		syncer:    syncer,
	}, nil
}

func (a *app) Close() {
	_ = a.publisher.Close()
	_ = a.db.Close()
}
