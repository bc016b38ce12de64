// Package runlog persists one row per completed step (run id, step
// index, agreed tau, wall-clock duration) to a local SQLite database, so
// repeated cmd/gcmrun invocations can be compared. Genuinely optional
// ambient tooling: exchange, step, layout, and zone never import it.
//
// Grounded on the teacher's go.mod carrying github.com/mattn/go-sqlite3
// as an indirect dependency, promoted here to direct use; the schema and
// Open/Close/Record shape follows the one-table-one-writer pattern common
// to the pack's own small persistence layers rather than any one file.
package runlog

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS steps (
	run_id  TEXT NOT NULL,
	step    INTEGER NOT NULL,
	tau     REAL NOT NULL,
	wall_ms INTEGER NOT NULL,
	PRIMARY KEY (run_id, step)
);`

// Log is a handle to the run-log database.
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("runlog: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("runlog: create schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Record inserts one completed step's row, replacing any previous row
// for the same (runID, step) pair — reruns of a crashed driver overwrite
// rather than duplicate.
func (l *Log) Record(runID string, step int, tau float32, wallMS int64) error {
	_, err := l.db.Exec(
		`INSERT OR REPLACE INTO steps (run_id, step, tau, wall_ms) VALUES (?, ?, ?, ?)`,
		runID, step, tau, wallMS,
	)
	if err != nil {
		return fmt.Errorf("runlog: record step %d: %w", step, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}
