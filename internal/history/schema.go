package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 2

// migrations[v] upgrades a database at version v to v+1.
var migrations = map[int]string{
	// fingerprints became per working copy; the old rows cannot be attributed
	1: `DROP TABLE IF EXISTS fingerprints;
CREATE TABLE fingerprints (
    work_dir TEXT NOT NULL,
    kind TEXT NOT NULL,
    value TEXT NOT NULL,
    run_id TEXT,
    recorded_at TEXT NOT NULL,
    PRIMARY KEY (work_dir, kind)
);
CREATE INDEX IF NOT EXISTS idx_runs_work_dir_status ON runs(work_dir, status);`,
}

// ErrSchemaMismatch means the database was written by a newer futurebuild.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func (s *Store) initSchema(ctx context.Context) error {
	var tables int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tables); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tables == 0 {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
			_, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion)
			return err
		})
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("%w: database has version %d, this build understands %d (delete %s to start a fresh history)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	for ; version < schemaVersion; version++ {
		stmt, ok := migrations[version]
		if !ok {
			return fmt.Errorf("%w: no upgrade from version %d", ErrSchemaMismatch, version)
		}
		next := version + 1
		if err := s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, "UPDATE schema_version SET version = ?", next)
			return err
		}); err != nil {
			return fmt.Errorf("upgrade history schema to version %d: %w", next, err)
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
