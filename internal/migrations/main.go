// Package migrations registers the schema migrations. Each migration lives in
// its own <timestamp>_<name>.go file; bun derives the migration name from it.
package migrations

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

// RunMigrations runs all pending migrations.
func RunMigrations(ctx context.Context, db *bun.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	migrator := migrate.NewMigrator(db, Migrations)

	if err := migrator.Init(ctx); err != nil {
		return err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}

	if group.IsZero() {
		logger.Info("no new migrations to run", "component", "migrations")
		return nil
	}

	logger.Info("migrated", "group", group.String(), "component", "migrations")
	return nil
}
