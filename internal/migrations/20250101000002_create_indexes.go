package migrations

import (
	"context"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		indexes := []string{
			"CREATE INDEX IF NOT EXISTS idx_opportunities_close_date ON grant_opportunities(close_date)",
			"CREATE INDEX IF NOT EXISTS idx_opportunities_agency ON grant_opportunities(agency_code)",
			"CREATE INDEX IF NOT EXISTS idx_sync_runs_status_started ON grant_sync_runs(status, started_at)",
			// At most one processing row may exist at a time.
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_runs_single_processing ON grant_sync_runs(status) WHERE status = 'processing'",
		}

		for _, idx := range indexes {
			if _, err := db.ExecContext(ctx, idx); err != nil {
				return err
			}
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		indexes := []string{
			"DROP INDEX IF EXISTS idx_sync_runs_single_processing",
			"DROP INDEX IF EXISTS idx_sync_runs_status_started",
			"DROP INDEX IF EXISTS idx_opportunities_agency",
			"DROP INDEX IF EXISTS idx_opportunities_close_date",
		}

		for _, idx := range indexes {
			if _, err := db.ExecContext(ctx, idx); err != nil {
				return err
			}
		}

		return nil
	})
}
