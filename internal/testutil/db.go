// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/uptrace/bun"

	"github.com/mkoziy/grants/syncer/internal/database"
	"github.com/mkoziy/grants/syncer/internal/migrations"
)

var dbSeq atomic.Int64

// NewDB opens a fresh, migrated in-memory SQLite database for one test.
func NewDB(t *testing.T) *bun.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := database.NewDB(database.Config{Driver: database.DriverSQLite, DSN: dsn, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err := migrations.RunMigrations(context.Background(), db, DiscardLogger()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// DiscardLogger drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
