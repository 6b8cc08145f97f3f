// Package pipeline runs the fetch, decode, filter and write stages of a sync.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"github.com/mkoziy/grants/syncer/internal/eligibility"
	"github.com/mkoziy/grants/syncer/internal/events"
	"github.com/mkoziy/grants/syncer/internal/ledger"
	"github.com/mkoziy/grants/syncer/internal/metrics"
	"github.com/mkoziy/grants/syncer/internal/models"
	"github.com/mkoziy/grants/syncer/internal/repositories"
	"github.com/mkoziy/grants/syncer/internal/sources/grantsgov"
)

// Config holds the pipeline's own settings.
type Config struct {
	BatchSize    int           `yaml:"batch_size" split_words:"true"`
	PruneMissing bool          `yaml:"prune_missing" split_words:"true"`
	StaleAfter   time.Duration `yaml:"stale_after" split_words:"true"`
}

// DefaultConfig returns conservative pipeline settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:  DefaultBatchSize,
		StaleAfter: ledger.DefaultStaleAfter,
	}
}

// Source locates and downloads extracts.
type Source interface {
	Resolve(ctx context.Context, sourceURL string) (grantsgov.SourceFile, error)
	Download(ctx context.Context, src grantsgov.SourceFile) (*grantsgov.Extract, error)
}

// Deps are the collaborators a Syncer needs. Metrics and Publisher are optional.
type Deps struct {
	DB        *bun.DB
	Source    Source
	Ledger    *ledger.Ledger
	Filter    *eligibility.Filter
	Metrics   *metrics.Metrics
	Publisher events.Publisher
	Logger    *slog.Logger
}

// Syncer runs syncs.
type Syncer struct {
	db        *bun.DB
	source    Source
	decoder   *grantsgov.Decoder
	filter    *eligibility.Filter
	writer    *Writer
	ledger    *ledger.Ledger
	metrics   *metrics.Metrics
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
	inflight  sync.WaitGroup
}

// New wires a Syncer.
func New(cfg Config, deps Deps) *Syncer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	filter := deps.Filter
	if filter == nil {
		filter = eligibility.NewFilter(eligibility.DefaultRules())
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	l := deps.Ledger
	if l == nil {
		l = ledger.New(deps.DB, cfg.StaleAfter, logger)
	}
	return &Syncer{
		db:        deps.DB,
		source:    deps.Source,
		decoder:   grantsgov.NewDecoder(logger),
		filter:    filter,
		writer:    NewWriter(deps.DB, cfg.BatchSize, cfg.PruneMissing, logger),
		ledger:    l,
		metrics:   deps.Metrics,
		publisher: publisher,
		logger:    logger.With("component", "pipeline"),
		now:       time.Now,
	}
}

// Ledger exposes the run ledger.
func (s *Syncer) Ledger() *ledger.Ledger {
	return s.ledger
}

// Run performs one sync. When a run is already live the returned error
// matches ledger.ErrAlreadyRunning and no Result is produced. Any other
// failure is recorded in the ledger and returned alongside a Result with
// Success false.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Result, error) {
	s.inflight.Add(1)
	defer s.inflight.Done()

	if opts.Trigger == "" {
		opts.Trigger = models.TriggerManual
	}
	h, err := s.ledger.BeginRun(ctx, opts.Trigger)
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyRunning) {
			s.metrics.ObserveRejected()
			s.logger.Warn("sync rejected", "err", err)
		}
		return nil, err
	}

	res := &Result{RunID: h.RunID()}
	out, runErr := s.execute(ctx, h, opts, res)
	out.Err = runErr
	if runErr != nil {
		out.Status = models.SyncFailed
	} else {
		out.Status = models.SyncSuccess
	}

	// The run must leave processing even when the caller went away.
	run, err := s.ledger.CompleteRun(context.WithoutCancel(ctx), h, out)
	if err != nil {
		s.logger.Error("failed to complete sync run", "run_id", h.RunID(), "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	res.Success = runErr == nil
	res.RecordsProcessed = out.RecordsProcessed
	res.RecordsDeleted = out.RecordsDeleted
	res.RecordsSkipped = out.RecordsSkipped
	if run != nil && run.DurationMs != nil {
		res.DurationMs = *run.DurationMs
	} else {
		res.DurationMs = s.now().Sub(h.Run.StartedAt).Milliseconds()
	}
	if runErr != nil {
		res.ErrorMessage = runErr.Error()
		s.logger.Error("sync failed", "run_id", res.RunID, "err", runErr)
	}

	s.observe(context.WithoutCancel(ctx), opts, res)
	return res, runErr
}

// Wait blocks until every in-flight Run has returned or ctx is done.
func (s *Syncer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Syncer) execute(ctx context.Context, h *ledger.Handle, opts Options, res *Result) (ledger.Outcome, error) {
	var out ledger.Outcome

	src, err := s.source.Resolve(ctx, opts.SourceURL)
	if err != nil {
		return out, err
	}
	res.FileName = src.Name
	res.ExtractedDate = src.ExtractedDate
	if src.Size > 0 {
		res.FileSize = src.Size
	}
	if err := s.ledger.Attach(ctx, h, ledger.Source{Name: src.Name, ExtractedDate: src.ExtractedDate, Size: src.Size}); err != nil {
		return out, err
	}

	if !opts.Force {
		last, err := s.ledger.LastSuccess(ctx)
		if err != nil {
			return out, fmt.Errorf("load last successful run: %w", err)
		}
		if last != nil && last.FileName == src.Name {
			s.logger.Info("extract already synced, skipping", "file", src.Name, "previous_run", last.RunID)
			res.Skipped = true
			return out, nil
		}
	}

	ext, err := s.source.Download(ctx, src)
	if err != nil {
		return out, err
	}
	res.FileSize = ext.Size
	res.ExtractedDate = ext.ExtractedDate
	if err := s.ledger.Attach(ctx, h, ledger.Source{Name: ext.Name, ExtractedDate: ext.ExtractedDate, Size: ext.Size}); err != nil {
		return out, err
	}

	doc, err := ext.XML()
	if err != nil {
		return out, err
	}
	defer func() {
		_ = doc.Close()
	}()

	now := s.now()
	cutoff := eligibility.PruneCutoff(now)
	included := make([]*models.Opportunity, 0)
	index := make(map[string]int)
	reasons := make(map[eligibility.Reason]int)

	stats, err := s.decoder.Decode(ctx, doc, func(rec grantsgov.Record) error {
		decision := s.filter.Classify(rec.Candidate(), cutoff)
		reasons[decision.Reason]++
		if !decision.Included() {
			out.RecordsSkipped++
			return nil
		}
		opp := rec.ToOpportunity(now)
		if i, ok := index[opp.OpportunityID]; ok {
			included[i] = opp
			return nil
		}
		index[opp.OpportunityID] = len(included)
		included = append(included, opp)
		return nil
	})
	if err != nil {
		return out, err
	}
	s.logger.Info("extract decoded",
		"file", ext.Name,
		"records", stats.Seen,
		"dropped", stats.Dropped,
		"included", len(included),
		"excluded", out.RecordsSkipped,
	)
	out.RecordsSkipped += stats.Dropped
	for reason, n := range reasons {
		s.logger.Debug("classification", "reason", string(reason), "count", n)
	}

	written, err := s.writer.Write(ctx, included, cutoff)
	if err != nil {
		return out, err
	}
	out.RecordsProcessed = written.Upserted()
	out.RecordsDeleted = written.Deleted
	return out, nil
}

func (s *Syncer) observe(ctx context.Context, opts Options, res *Result) {
	status := string(models.SyncSuccess)
	evType := events.TypeSyncCompleted
	if !res.Success {
		status = string(models.SyncFailed)
		evType = events.TypeSyncFailed
	}
	finished := s.now()
	s.metrics.ObserveRun(metrics.Run{
		Status:    status,
		Trigger:   string(opts.Trigger),
		Duration:  time.Duration(res.DurationMs) * time.Millisecond,
		Processed: res.RecordsProcessed,
		Deleted:   res.RecordsDeleted,
		Skipped:   res.RecordsSkipped,
		FileSize:  res.FileSize,
		Finished:  finished,
	})

	err := s.publisher.Publish(ctx, events.Event{
		Type:             evType,
		RunID:            res.RunID,
		Status:           status,
		FileName:         res.FileName,
		RecordsProcessed: res.RecordsProcessed,
		RecordsDeleted:   res.RecordsDeleted,
		RecordsSkipped:   res.RecordsSkipped,
		Skipped:          res.Skipped,
		ErrorMessage:     res.ErrorMessage,
		CompletedAt:      finished.UTC(),
	})
	if err != nil {
		s.logger.Warn("publish sync event failed", "run_id", res.RunID, "err", err)
	}
}

// Status reports store totals and recent runs. Active counts use the
// current time as the cutoff, unlike the prune pass.
func (s *Syncer) Status(ctx context.Context) (*Status, error) {
	now := s.now()
	st := &Status{CheckedAt: now.UTC()}

	var err error
	if st.TotalOpportunities, err = repositories.CountOpportunities(ctx, s.db); err != nil {
		return nil, fmt.Errorf("count opportunities: %w", err)
	}
	if st.ActiveOpportunities, err = repositories.CountActiveAt(ctx, s.db, eligibility.StatusCutoff(now)); err != nil {
		return nil, fmt.Errorf("count active opportunities: %w", err)
	}
	if st.LastSuccess, err = s.ledger.LastSuccess(ctx); err != nil {
		return nil, fmt.Errorf("last successful run: %w", err)
	}
	if st.Live, err = s.ledger.Live(ctx); err != nil {
		return nil, fmt.Errorf("live run: %w", err)
	}
	if st.Recent, err = s.ledger.Recent(ctx, 10); err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	s.metrics.SetActive(st.ActiveOpportunities)
	return st, nil
}
