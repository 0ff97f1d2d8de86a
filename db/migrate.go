package db

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/teranos/staffsync/errors"
)

// Schema evolution is strictly additive: tables are created if absent and
// missing columns are added to a pre-existing schema via ALTER TABLE.
// Columns are never dropped or retyped, so a database written by an older
// binary keeps all its data when opened by a newer one.

const createJobsTable = `
CREATE TABLE IF NOT EXISTS sync_jobs (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	run_at         TIMESTAMP NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	attempts       INTEGER NOT NULL DEFAULT 0,
	payload        TEXT,
	last_error     TEXT,
	result         TEXT,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
)`

const createKVTable = `
CREATE TABLE IF NOT EXISTS sync_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// jobsColumns lists every column of sync_jobs with its ALTER TABLE clause.
// Databases created before a column existed get it added on startup.
var jobsColumns = map[string]string{
	"id":             "TEXT",
	"type":           "TEXT NOT NULL DEFAULT ''",
	"correlation_id": "TEXT NOT NULL DEFAULT ''",
	"run_at":         "TIMESTAMP",
	"status":         "TEXT NOT NULL DEFAULT 'pending'",
	"attempts":       "INTEGER NOT NULL DEFAULT 0",
	"payload":        "TEXT",
	"last_error":     "TEXT",
	"result":         "TEXT",
	"created_at":     "TIMESTAMP",
	"updated_at":     "TIMESTAMP",
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_sync_jobs_due ON sync_jobs(status, run_at)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_jobs_correlation ON sync_jobs(type, correlation_id, status)`,
}

// Migrate creates missing tables, adds missing columns, and ensures indexes.
// Safe to run on every startup. If logger is provided, logs progress;
// otherwise operates silently.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	for _, stmt := range []string{createJobsTable, createKVTable} {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "create table")
		}
	}

	added, err := ensureColumns(db, "sync_jobs", jobsColumns)
	if err != nil {
		return err
	}
	if logger != nil && len(added) > 0 {
		logger.Infow("Added missing columns", "table", "sync_jobs", "columns", added)
	}

	for _, stmt := range indexes {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "create index")
		}
	}

	if logger != nil {
		logger.Debugw("Migrations complete", "tables", []string{"sync_jobs", "sync_kv"})
	}
	return nil
}

// ensureColumns adds any column in want that the existing table lacks.
// Returns the names of columns added.
func ensureColumns(db *sql.DB, table string, want map[string]string) ([]string, error) {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, errors.Wrapf(err, "inspect %s schema", table)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan column name")
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "iterate %s columns", table)
	}

	var added []string
	for name, decl := range want {
		if existing[name] {
			continue
		}
		if _, err := db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + name + ` ` + decl); err != nil {
			return nil, errors.Wrapf(err, "add column %s.%s", table, name)
		}
		added = append(added, name)
	}
	return added, nil
}
