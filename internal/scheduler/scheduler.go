// Package scheduler triggers sync runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/mkoziy/grants/syncer/internal/ledger"
	"github.com/mkoziy/grants/syncer/internal/models"
	"github.com/mkoziy/grants/syncer/internal/pipeline"
)

const DefaultSpec = "@daily"

// Config controls the periodic sync.
type Config struct {
	Enabled    bool   `yaml:"enabled"`
	Spec       string `yaml:"spec"`
	RunOnStart bool   `yaml:"run_on_start" split_words:"true"`
}

// DefaultConfig runs once a day.
func DefaultConfig() Config {
	return Config{Enabled: true, Spec: DefaultSpec}
}

// Validate checks that the cron spec parses.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(c.Spec); err != nil {
		return fmt.Errorf("schedule spec %q: %w", c.Spec, err)
	}
	return nil
}

// Runner performs a sync.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error)
}

// Scheduler wraps robfig/cron and fires scheduled syncs.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	cfg    Config
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New creates a Scheduler. Overlapping ticks inside this process are skipped
// by cron; overlap with other processes is refused by the run ledger.
func New(cfg Config, runner Runner, logger *slog.Logger) *Scheduler {
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
}

// Start registers the job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.cfg.Spec, func() {
		s.tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.logger.Info("cron started", "spec", s.cfg.Spec)

	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tick(ctx)
		}()
	}
	return nil
}

// Stop halts the schedule and waits for a running sync to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("cron stopped")
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.runner.Run(ctx, pipeline.Options{Trigger: models.TriggerSchedule})
	switch {
	case errors.Is(err, ledger.ErrAlreadyRunning):
		s.logger.Info("scheduled sync skipped", "reason", err.Error())
	case err != nil:
		s.logger.Error("scheduled sync failed", "err", err)
	default:
		s.logger.Info("scheduled sync finished",
			"run_id", res.RunID,
			"file", res.FileName,
			"skipped", res.Skipped,
			"processed", res.RecordsProcessed,
			"deleted", res.RecordsDeleted,
		)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "err", err)...)
}
