// Package journal keeps a SQLite history of parking cycles and reversals.
package journal

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/charlie0129/linepark/pkg/parking"
	"github.com/charlie0129/linepark/pkg/reversal"
)

type DB struct {
	*sql.DB
}

// Open opens or creates the journal at path and ensures the schema.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to create journal directory for %s", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open journal %s", path)
	}
	// One writer: the control loop. Serialise access instead of retrying on
	// SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS cycles (
			id TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS cycles_started_at ON cycles (started_at);
		CREATE TABLE IF NOT EXISTS reversals (
			at INTEGER NOT NULL,
			mode TEXT NOT NULL,
			interval_seconds INTEGER NOT NULL,
			mirrored INTEGER NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrap(err, "failed to create journal schema")
	}

	return &DB{db}, nil
}

// RecordCycle stores a finished parking attempt.
func (db *DB) RecordCycle(c parking.Cycle) error {
	_, err := db.Exec(
		"INSERT INTO cycles (id, role, started_at, ended_at, outcome, error) VALUES (?, ?, ?, ?, ?, ?)",
		c.ID, c.Role.String(), c.StartedAt.UnixMilli(), c.EndedAt.UnixMilli(), string(c.Outcome), c.Error,
	)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to record cycle %s", c.ID)
	}
	return nil
}

// RecordReversal stores a turn-around.
func (db *DB) RecordReversal(r reversal.Reversal) error {
	_, err := db.Exec(
		"INSERT INTO reversals (at, mode, interval_seconds, mirrored) VALUES (?, ?, ?, ?)",
		r.At.UnixMilli(), r.Mode.String(), int(r.Interval/time.Second), r.Mirrored,
	)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to record reversal")
	}
	return nil
}

// Cycles returns the most recent cycles, newest first. A limit <= 0 returns
// at most 100.
func (db *DB) Cycles(limit int) ([]parking.Cycle, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		"SELECT id, role, started_at, ended_at, outcome, error FROM cycles ORDER BY started_at DESC, rowid DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to query cycles")
	}
	defer rows.Close()

	var cycles []parking.Cycle
	for rows.Next() {
		var (
			c              parking.Cycle
			role, outcome  string
			started, ended int64
		)
		if err := rows.Scan(&c.ID, &role, &started, &ended, &outcome, &c.Error); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan cycle")
		}
		c.Role, err = parking.ParseRole(role)
		if err != nil {
			return nil, err
		}
		c.StartedAt = time.UnixMilli(started)
		c.EndedAt = time.UnixMilli(ended)
		c.Outcome = parking.Outcome(outcome)
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return cycles, nil
}

// reversalCount returns how many reversals were recorded.
func (db *DB) reversalCount() (int, error) {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM reversals").Scan(&n); err != nil {
		return 0, pkgerrors.Wrap(err, "failed to count reversals")
	}
	return n, nil
}
