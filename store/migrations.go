package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migration represents a single schema migration.
type migration struct {
	version     int
	description string
	apply       func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// New migrations are appended at the end; never modify existing entries.
var migrations = []migration{
	{
		version:     1,
		description: "initial schema (applied via schemaSQL)",
		apply:       func(tx *sql.Tx) error { return nil }, // base schema applied separately
	},
	{
		version:     2,
		description: "add documents.category, word_count and raw_json columns if missing",
		apply: func(tx *sql.Tx) error {
			// documents.category/word_count were added in the base schema on a
			// fresh install; on an upgrade from a pre-category store they may be
			// missing, so add them (and raw_json) idempotently. No values are
			// backfilled: existing rows keep the column defaults.
			for _, stmt := range []string{
				"ALTER TABLE documents ADD COLUMN category TEXT NOT NULL DEFAULT 'article'",
				"ALTER TABLE documents ADD COLUMN word_count INTEGER",
				"ALTER TABLE documents ADD COLUMN raw_json TEXT",
			} {
				if _, err := tx.Exec(stmt); err != nil {
					slog.Debug("migration 2: column may already exist", "sql", stmt, "error", err)
				}
			}
			return nil
		},
	},
	{
		version:     3,
		description: "add fetch_source/fetch_time to documents for provenance of full-text fills",
		apply: func(tx *sql.Tx) error {
			for _, stmt := range []string{
				"ALTER TABLE documents ADD COLUMN fetch_source TEXT",
				"ALTER TABLE documents ADD COLUMN fetch_time DATETIME",
			} {
				if _, err := tx.Exec(stmt); err != nil {
					slog.Debug("migration 3: column may already exist", "sql", stmt, "error", err)
				}
			}
			return nil
		},
	},
	{
		version:     4,
		description: "add job_id to fetch_failures so a job can claim ownership of a retry",
		apply: func(tx *sql.Tx) error {
			if _, err := tx.Exec("ALTER TABLE fetch_failures ADD COLUMN job_id TEXT"); err != nil {
				slog.Debug("migration 4: column may already exist", "error", err)
			}
			return nil
		},
	},
}

// Migrate runs all pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	// Ensure the schema_version table exists.
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	// Get current version.
	var current int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		slog.Info("applying migration", "version", m.version, "description", m.description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}

		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_version (version, description) VALUES (?, ?)",
			m.version, m.description); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}

	return nil
}
