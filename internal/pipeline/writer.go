package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/mkoziy/grants/syncer/internal/models"
	"github.com/mkoziy/grants/syncer/internal/repositories"
)

const DefaultBatchSize = 500

// WriteError reports a failed store operation. The surrounding transaction
// has been rolled back when it is returned.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// WriteStats counts the mutations applied by one Write.
type WriteStats struct {
	Created int
	Updated int
	Deleted int
}

// Upserted is the number of included records written.
func (s WriteStats) Upserted() int {
	return s.Created + s.Updated
}

// Writer reconciles the opportunity table with the included records of a run.
type Writer struct {
	db           *bun.DB
	batchSize    int
	pruneMissing bool
	logger       *slog.Logger
}

// NewWriter creates a writer. A non-positive batchSize uses DefaultBatchSize.
func NewWriter(db *bun.DB, batchSize int, pruneMissing bool, logger *slog.Logger) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		db:           db,
		batchSize:    batchSize,
		pruneMissing: pruneMissing,
		logger:       logger.With("component", "writer"),
	}
}

// Write upserts opps, deletes opportunities closed before pruneCutoff and,
// when enabled, deletes opportunities absent from opps. Everything happens in
// one transaction.
func (w *Writer) Write(ctx context.Context, opps []*models.Opportunity, pruneCutoff time.Time) (WriteStats, error) {
	var stats WriteStats
	err := w.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		stats = WriteStats{}
		for start := 0; start < len(opps); start += w.batchSize {
			end := min(start+w.batchSize, len(opps))
			batch := opps[start:end]

			ids := make([]string, len(batch))
			for i, o := range batch {
				ids[i] = o.OpportunityID
			}
			existing, err := repositories.CountExisting(ctx, tx, ids)
			if err != nil {
				return &WriteError{Op: "count existing", Err: err}
			}
			if err := repositories.UpsertOpportunities(ctx, tx, batch); err != nil {
				return &WriteError{Op: "upsert", Err: err}
			}
			stats.Updated += existing
			stats.Created += len(batch) - existing
			w.logger.Debug("upserted batch", "from", start, "to", end)
		}

		deleted, err := repositories.DeleteClosedBefore(ctx, tx, pruneCutoff)
		if err != nil {
			return &WriteError{Op: "delete expired", Err: err}
		}
		stats.Deleted += deleted

		if w.pruneMissing {
			keep := make([]string, len(opps))
			for i, o := range opps {
				keep[i] = o.OpportunityID
			}
			missing, err := repositories.DeleteMissing(ctx, tx, keep)
			if err != nil {
				return &WriteError{Op: "delete missing", Err: err}
			}
			stats.Deleted += missing
		}
		return nil
	})
	if err != nil {
		return WriteStats{}, err
	}
	w.logger.Info("store reconciled",
		"created", stats.Created,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"prune_cutoff", pruneCutoff.UTC().Format(time.RFC3339),
	)
	return stats, nil
}
