// Package ledger implements the durable job set (C1): a crash-safe record of
// accepted-but-not-finalized job IDs, backed by an embedded sqlite database.
// It is a recovery ledger, not a work queue — no ordering is implied or
// preserved.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS jobs (job_id TEXT PRIMARY KEY NOT NULL);`

// Ledger wraps a single-writer sqlite table of job IDs.
type Ledger struct {
	db *sql.DB
}

// Open opens (and creates if needed) the sqlite file at path and ensures the
// jobs table exists. Mandatory PRAGMAs are applied via the DSN so they bind
// to every connection in the pool, not just the first one.
func Open(path string) (*Ledger, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}

	// A single writer: the controller is the only caller of Insert/Remove,
	// and sqlite serializes writers anyway. Keep the pool small so crashes
	// surface quickly instead of queuing behind a wedged connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: ping %s: %w", path, err)
	}

	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: create table: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close releases the underlying sqlite handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Insert adds jobID to the ledger. Idempotent: inserting an already-present
// id is a no-op, never an error. The call returns only once the write is
// durable, so the caller may safely proceed to externally observable action
// (downloading the source) immediately after.
func (l *Ledger) Insert(ctx context.Context, jobID string) error {
	_, err := l.db.ExecContext(ctx, `INSERT OR IGNORE INTO jobs (job_id) VALUES (?);`, jobID)
	if err != nil {
		return fmt.Errorf("ledger: insert %s: %w", jobID, err)
	}
	return nil
}

// Remove deletes jobID from the ledger. Removing an absent id is a no-op,
// not an error.
func (l *Ledger) Remove(ctx context.Context, jobID string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?;`, jobID)
	if err != nil {
		return fmt.Errorf("ledger: remove %s: %w", jobID, err)
	}
	return nil
}

// List returns all currently persisted job IDs in unspecified order.
func (l *Ledger) List(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT job_id FROM jobs;`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
