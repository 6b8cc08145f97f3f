package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/mkoziy/grants/syncer/internal/models"
)

// ErrRunNotProcessing is returned when a transition targets a run that already finished.
var ErrRunNotProcessing = errors.New("repositories: sync run is not processing")

// InsertSyncRun writes a new ledger row.
func InsertSyncRun(ctx context.Context, db bun.IDB, run *models.SyncRun) error {
	_, err := db.NewInsert().Model(run).Exec(ctx)
	return err
}

// ListSyncRunsByStatus returns runs in status, oldest first.
func ListSyncRunsByStatus(ctx context.Context, db bun.IDB, status models.SyncStatus) ([]*models.SyncRun, error) {
	var runs []*models.SyncRun
	err := db.NewSelect().
		Model(&runs).
		Where("status = ?", status).
		OrderExpr("started_at ASC").
		Scan(ctx)
	return runs, err
}

// FailStaleRuns force-fails processing runs started at or before olderThan.
func FailStaleRuns(ctx context.Context, db bun.IDB, olderThan, now time.Time, message string) (int, error) {
	res, err := db.NewUpdate().
		Model((*models.SyncRun)(nil)).
		Set("status = ?", models.SyncFailed).
		Set("error_message = ?", message).
		Set("completed_at = ?", now.UTC()).
		Where("status = ?", models.SyncProcessing).
		Where("started_at <= ?", olderThan.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

// UpdateSyncRunSource records the resolved source file on a processing run.
func UpdateSyncRunSource(ctx context.Context, db bun.IDB, run *models.SyncRun) error {
	res, err := db.NewUpdate().
		Model(run).
		Column("file_name", "extracted_date", "file_size").
		Where("run_id = ?", run.RunID).
		Where("status = ?", models.SyncProcessing).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireOne(res)
}

// CompleteSyncRun writes the terminal state of a processing run.
func CompleteSyncRun(ctx context.Context, db bun.IDB, run *models.SyncRun) error {
	if !run.Status.Terminal() {
		return errors.New("repositories: completion requires a terminal status")
	}
	res, err := db.NewUpdate().
		Model(run).
		Column(
			"status",
			"file_name",
			"extracted_date",
			"file_size",
			"records_processed",
			"records_deleted",
			"records_skipped",
			"error_message",
			"completed_at",
			"duration_ms",
		).
		Where("run_id = ?", run.RunID).
		Where("status = ?", models.SyncProcessing).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireOne(res)
}

// GetSyncRun fetches a run by its run id.
func GetSyncRun(ctx context.Context, db bun.IDB, runID string) (*models.SyncRun, error) {
	run := new(models.SyncRun)
	err := db.NewSelect().Model(run).Where("run_id = ?", runID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// LatestSyncRun returns the most recently started run in status.
func LatestSyncRun(ctx context.Context, db bun.IDB, status models.SyncStatus) (*models.SyncRun, error) {
	run := new(models.SyncRun)
	err := db.NewSelect().
		Model(run).
		Where("status = ?", status).
		OrderExpr("started_at DESC, id DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// RecentSyncRuns returns up to limit runs, newest first.
func RecentSyncRuns(ctx context.Context, db bun.IDB, limit int) ([]*models.SyncRun, error) {
	runs := make([]*models.SyncRun, 0, limit)
	err := db.NewSelect().
		Model(&runs).
		OrderExpr("started_at DESC, id DESC").
		Limit(limit).
		Scan(ctx)
	return runs, err
}

func requireOne(res sql.Result) error {
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotProcessing
	}
	return nil
}
