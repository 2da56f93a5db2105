package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// migrations contains all database migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with runs, samples and thresholds",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
	{
		Version:     2,
		Description: "Add buckets table for per-length fit summaries",
		Up:          migrationV2Up,
		Down:        migrationV2Down,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS runs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at      INTEGER NOT NULL,
    corpus_digest   TEXT NOT NULL,
    metric          TEXT NOT NULL,
    mode            TEXT NOT NULL,
    ngram_order     INTEGER NOT NULL,
    min_length      INTEGER NOT NULL,
    step            INTEGER NOT NULL,
    cases           INTEGER NOT NULL,
    samples         INTEGER NOT NULL,
    skipped_samples INTEGER NOT NULL,
    max_length      INTEGER NOT NULL,
    fitted          INTEGER NOT NULL,
    fit_options     TEXT NOT NULL,
    note            TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_digest ON runs(corpus_digest, created_at);

CREATE TABLE IF NOT EXISTS samples (
    run_id      INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    ordinal     INTEGER NOT NULL,
    case_id     TEXT NOT NULL,
    label       TEXT NOT NULL,
    length      INTEGER NOT NULL,
    distance    REAL NOT NULL,
    PRIMARY KEY (run_id, ordinal, length)
);

CREATE INDEX IF NOT EXISTS idx_samples_length ON samples(run_id, label, length);

CREATE TABLE IF NOT EXISTS thresholds (
    run_id      INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    percentile  REAL NOT NULL,
    position    INTEGER NOT NULL,
    slope       REAL NOT NULL,
    intercept   REAL NOT NULL,
    PRIMARY KEY (run_id, percentile)
);
`

const migrationV1Down = `
DROP TABLE IF EXISTS thresholds;
DROP INDEX IF EXISTS idx_samples_length;
DROP TABLE IF EXISTS samples;
DROP INDEX IF EXISTS idx_runs_digest;
DROP TABLE IF EXISTS runs;
`

const migrationV2Up = `
CREATE TABLE IF NOT EXISTS buckets (
    run_id      INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    length      INTEGER NOT NULL,
    samples     INTEGER NOT NULL,
    retained    INTEGER NOT NULL,
    dropped     INTEGER NOT NULL,
    PRIMARY KEY (run_id, length)
);
`

const migrationV2Down = `
DROP TABLE IF EXISTS buckets;
`

// MigrateDB applies all pending migrations to the database.
func MigrateDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	currentVersion, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// RollbackMigration rolls back the last applied migration.
func RollbackMigration(db *sql.DB) error {
	version, err := currentVersion(db)
	if err != nil {
		return err
	}
	if version == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range migrations {
		if migrations[i].Version == version {
			migration = &migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %d not found", version)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if _, err := tx.Exec(migration.Down); err != nil {
		tx.Rollback()
		return fmt.Errorf("rollback migration %d: %w", version, err)
	}

	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", version); err != nil {
		tx.Rollback()
		return fmt.Errorf("remove migration record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollback: %w", err)
	}

	return nil
}

func currentVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return v, nil
}

// MigrationStatus describes applied and pending migrations.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Pending        []Migration
}

// GetMigrationStatus returns the current migration status.
func GetMigrationStatus(db *sql.DB) (*MigrationStatus, error) {
	version, err := currentVersion(db)
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{
		CurrentVersion: version,
		LatestVersion:  migrations[len(migrations)-1].Version,
	}
	for _, m := range migrations {
		if m.Version > version {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

// ValidateSchema checks that all expected tables exist.
func ValidateSchema(db *sql.DB) error {
	requiredTables := []string{
		"runs",
		"samples",
		"thresholds",
		"buckets",
		"schema_migrations",
	}

	for _, table := range requiredTables {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if count == 0 {
			return fmt.Errorf("missing required table: %s", table)
		}
	}

	return nil
}
