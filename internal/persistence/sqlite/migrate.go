// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adiadia/agent-observability/migrations"
)

var requiredColumns = []string{
	"id",
	"source_app",
	"session_id",
	"hook_event_type",
	"payload",
	"chat",
	"summary",
	"timestamp",
}

type SchemaHealthChecker struct {
	db *sql.DB
}

func NewSchemaHealthChecker(db *sql.DB) *SchemaHealthChecker {
	return &SchemaHealthChecker{db: db}
}

func (h *SchemaHealthChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, h.db)
}

// EnsureSchema applies the embedded sqlite migrations not yet recorded in
// schema_migrations, each in its own transaction.
func EnsureSchema(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	if logger == nil {
		logger = slog.Default()
	}

	started := time.Now()
	logger.Info("schema bootstrap starting", "dialect", migrations.DialectSQLite)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	files, err := migrations.Ordered(migrations.DialectSQLite)
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(files) == 0 {
		return errors.New("no embedded migrations found")
	}

	applied := 0
	skipped := 0

	for _, migration := range files {
		var alreadyApplied bool
		if err := db.QueryRowContext(
			ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = ?)`,
			migration.Name,
		).Scan(&alreadyApplied); err != nil {
			return fmt.Errorf("check migration %s: %w", migration.Name, err)
		}

		if alreadyApplied {
			skipped++
			continue
		}

		logger.Info("applying migration", "file", migration.Name)
		if err := applyMigration(ctx, db, migration); err != nil {
			return fmt.Errorf("apply migration %s: %w", migration.Name, err)
		}
		applied++
	}

	logger.Info("schema bootstrap complete",
		"applied", applied,
		"skipped", skipped,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return SchemaReady(ctx, db)
}

func applyMigration(ctx context.Context, db *sql.DB, migration migrations.File) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (filename, applied_at)
		VALUES (?, ?)
	`, migration.Name, time.Now().UnixMilli()); err != nil {
		return err
	}

	return tx.Commit()
}

// SchemaReady reports whether the events table has every column the
// repository reads and writes.
func SchemaReady(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info('events')`)
	if err != nil {
		return fmt.Errorf("check table events: %w", err)
	}
	defer rows.Close()

	present := make(map[string]struct{}, len(requiredColumns))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan events column: %w", err)
		}
		present[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate events columns: %w", err)
	}

	if len(present) == 0 {
		return errors.New("required tables missing: events")
	}

	missing := make([]string, 0, len(requiredColumns))
	for _, column := range requiredColumns {
		if _, ok := present[column]; !ok {
			missing = append(missing, "events."+column)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required columns missing: %s", strings.Join(missing, ", "))
	}

	return nil
}
