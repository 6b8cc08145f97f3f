package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun/migrate"

	"github.com/mkoziy/grants/syncer/internal/database"
	"github.com/mkoziy/grants/syncer/internal/migrations"
)

func migrateCommand() *cobra.Command {
	var rollback bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or roll back the last group of) database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustConfig(cmd)
			logger := commonRun(cfg)

			db, err := database.NewDB(cfg.Database)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer func() {
				_ = db.Close()
			}()

			if !rollback {
				return migrations.RunMigrations(cmd.Context(), db, logger)
			}

			migrator := migrate.NewMigrator(db, migrations.Migrations)
			if err := migrator.Init(cmd.Context()); err != nil {
				return err
			}
			group, err := migrator.Rollback(cmd.Context())
			if err != nil {
				return err
			}
			if group.IsZero() {
				logger.Info("nothing to roll back", "component", "migrations")
				return nil
			}
			logger.Info("rolled back", "group", group.String(), "component", "migrations")
			return nil
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the last migration group")
	return cmd
}
