package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Prediction runs",
		SQL: `
CREATE TABLE IF NOT EXISTS prediction_runs (
    id TEXT PRIMARY KEY,
    created_at DATETIME NOT NULL,
    source_name TEXT NOT NULL,
    label TEXT NOT NULL,
    payload_hash TEXT,
    row_count INTEGER NOT NULL,
    evaluated_rows INTEGER NOT NULL,
    warning_count INTEGER NOT NULL,
    mse REAL NOT NULL,
    r2 REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prediction_runs_created ON prediction_runs(created_at);

CREATE TABLE IF NOT EXISTS prediction_rows (
    run_id TEXT NOT NULL REFERENCES prediction_runs(id) ON DELETE CASCADE,
    row_index INTEGER NOT NULL,
    parameter_code TEXT NOT NULL,
    parameter_display_name TEXT NOT NULL,
    measurement_date DATETIME,
    predicted_value REAL NOT NULL,
    unit TEXT NOT NULL,
    actual_value REAL,
    threshold REAL,
    is_warning BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (run_id, row_index)
);
`,
	},
	{
		Version:     2,
		Description: "Training run audit",
		SQL: `
CREATE TABLE IF NOT EXISTS training_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    source TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    rows_used INTEGER,
    rows_skipped INTEGER,
    feature_width INTEGER,
    trees INTEGER,
    mse REAL,
    r2 REAL,
    duration_ms INTEGER,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_training_runs_started ON training_runs(started_at);
`,
	},
	{
		Version:     3,
		Description: "Upload archive",
		SQL: `
CREATE TABLE IF NOT EXISTS uploads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uploaded_at DATETIME NOT NULL,
    file_name TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_uploads_uploaded ON uploads(uploaded_at);
CREATE INDEX IF NOT EXISTS idx_prediction_runs_payload ON prediction_runs(payload_hash);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
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

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
