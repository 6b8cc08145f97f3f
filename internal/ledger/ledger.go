// Package ledger records sync runs and guarantees at most one is live.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/mkoziy/grants/syncer/internal/models"
	"github.com/mkoziy/grants/syncer/internal/repositories"
)

// DefaultStaleAfter is how long a processing run may go before it is
// considered abandoned.
const DefaultStaleAfter = 30 * time.Minute

// ErrAlreadyRunning matches any *AlreadyRunningError.
var ErrAlreadyRunning = errors.New("sync already running")

var errInsertRun = errors.New("insert sync run")

// AlreadyRunningError describes the live run that blocked a new one.
type AlreadyRunningError struct {
	RunID     string
	FileName  string
	StartedAt time.Time
	Elapsed   time.Duration
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("sync %s already running for %s", e.RunID, e.Elapsed.Truncate(time.Second))
}

func (e *AlreadyRunningError) Is(target error) bool {
	return target == ErrAlreadyRunning
}

// Source identifies the file a run is processing.
type Source struct {
	Name          string
	ExtractedDate *time.Time
	Size          int64
}

// Outcome is the terminal state reported for a run.
type Outcome struct {
	Status           models.SyncStatus
	RecordsProcessed int
	RecordsDeleted   int
	RecordsSkipped   int
	Err              error
}

// Handle is an open run returned by BeginRun.
type Handle struct {
	Run *models.SyncRun
}

// RunID returns the run's public identifier.
func (h *Handle) RunID() string {
	return h.Run.RunID
}

// Ledger owns the sync run table.
type Ledger struct {
	db         *bun.DB
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// New creates a ledger. A non-positive staleAfter uses DefaultStaleAfter.
func New(db *bun.DB, staleAfter time.Duration, logger *slog.Logger) *Ledger {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		db:         db,
		staleAfter: staleAfter,
		logger:     logger.With("component", "ledger"),
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
}

// StaleAfter returns the abandonment threshold.
func (l *Ledger) StaleAfter() time.Duration {
	return l.staleAfter
}

// SetClock replaces the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Ledger) staleMessage() string {
	return fmt.Sprintf("sync timed out after %d minutes", int(l.staleAfter.Minutes()))
}

// BeginRun opens a new processing run. Abandoned runs are failed first; if a
// live run remains the call returns an *AlreadyRunningError.
func (l *Ledger) BeginRun(ctx context.Context, trigger models.SyncTrigger) (*Handle, error) {
	now := l.now().UTC()
	run := &models.SyncRun{
		RunID:     l.newID(),
		Status:    models.SyncProcessing,
		Trigger:   trigger,
		StartedAt: now,
	}

	var blocking *models.SyncRun
	err := l.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		failed, err := repositories.FailStaleRuns(ctx, tx, now.Add(-l.staleAfter), now, l.staleMessage())
		if err != nil {
			return fmt.Errorf("fail stale runs: %w", err)
		}
		if failed > 0 {
			l.logger.Warn("failed abandoned sync runs", "count", failed, "stale_after", l.staleAfter.String())
		}

		live, err := repositories.ListSyncRunsByStatus(ctx, tx, models.SyncProcessing)
		if err != nil {
			return fmt.Errorf("list live runs: %w", err)
		}
		if len(live) > 0 {
			blocking = live[0]
			return nil
		}

		if err := repositories.InsertSyncRun(ctx, tx, run); err != nil {
			return fmt.Errorf("%w: %w", errInsertRun, err)
		}
		return nil
	})
	if errors.Is(err, errInsertRun) {
		// Lost a race against another process; the unique index rejected us.
		if live, liveErr := l.Live(ctx); liveErr == nil && live != nil {
			return nil, l.alreadyRunning(live, now)
		}
	}
	if err != nil {
		return nil, err
	}
	if blocking != nil {
		return nil, l.alreadyRunning(blocking, now)
	}

	l.logger.Info("sync run started", "run_id", run.RunID, "trigger", string(trigger))
	return &Handle{Run: run}, nil
}

func (l *Ledger) alreadyRunning(run *models.SyncRun, now time.Time) *AlreadyRunningError {
	return &AlreadyRunningError{
		RunID:     run.RunID,
		FileName:  run.FileName,
		StartedAt: run.StartedAt,
		Elapsed:   run.Age(now),
	}
}

// Attach records the resolved source file on the run.
func (l *Ledger) Attach(ctx context.Context, h *Handle, src Source) error {
	h.Run.FileName = src.Name
	h.Run.ExtractedDate = src.ExtractedDate
	if src.Size > 0 {
		h.Run.FileSize = src.Size
	}
	if err := repositories.UpdateSyncRunSource(ctx, l.db, h.Run); err != nil {
		return fmt.Errorf("attach source to run %s: %w", h.Run.RunID, err)
	}
	return nil
}

// CompleteRun moves the run to its terminal state and returns the final row.
func (l *Ledger) CompleteRun(ctx context.Context, h *Handle, out Outcome) (*models.SyncRun, error) {
	if !out.Status.Terminal() {
		return nil, fmt.Errorf("complete run %s: status %q is not terminal", h.Run.RunID, out.Status)
	}
	now := l.now().UTC()
	duration := now.Sub(h.Run.StartedAt).Milliseconds()

	run := h.Run
	run.Status = out.Status
	run.RecordsProcessed = out.RecordsProcessed
	run.RecordsDeleted = out.RecordsDeleted
	run.RecordsSkipped = out.RecordsSkipped
	run.CompletedAt = &now
	run.DurationMs = &duration
	run.ErrorMessage = nil
	if out.Err != nil {
		msg := out.Err.Error()
		run.ErrorMessage = &msg
	}

	if err := repositories.CompleteSyncRun(ctx, l.db, run); err != nil {
		return nil, fmt.Errorf("complete run %s: %w", run.RunID, err)
	}
	l.logger.Info("sync run completed",
		"run_id", run.RunID,
		"status", string(run.Status),
		"processed", run.RecordsProcessed,
		"deleted", run.RecordsDeleted,
		"skipped", run.RecordsSkipped,
		"duration_ms", duration,
	)
	return run, nil
}

// Live returns the current processing run, or nil when idle.
func (l *Ledger) Live(ctx context.Context) (*models.SyncRun, error) {
	return nilIfNotFound(repositories.LatestSyncRun(ctx, l.db, models.SyncProcessing))
}

// LastSuccess returns the most recent successful run, or nil.
func (l *Ledger) LastSuccess(ctx context.Context) (*models.SyncRun, error) {
	return nilIfNotFound(repositories.LatestSyncRun(ctx, l.db, models.SyncSuccess))
}

// Recent lists up to limit runs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	return repositories.RecentSyncRuns(ctx, l.db, limit)
}

// Get fetches one run by id.
func (l *Ledger) Get(ctx context.Context, runID string) (*models.SyncRun, error) {
	return repositories.GetSyncRun(ctx, l.db, runID)
}

func nilIfNotFound(run *models.SyncRun, err error) (*models.SyncRun, error) {
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}
