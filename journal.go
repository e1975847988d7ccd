package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Journal records every table copy attempt in a local SQLite file so that
// failed or interrupted runs can be found afterwards with `pgcp history`.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// JournalEntry is one row of the copy_runs table.
type JournalEntry struct {
	ID          string
	Source      string
	Destination string
	Path        string
	Status      string
	Error       string
	Rows        int64
	Bytes       int64
	StartedAt   time.Time
	FinishedAt  *time.Time
}

const (
	statusRunning   = "running"
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
)

const journalSchema = `CREATE TABLE IF NOT EXISTS copy_runs (
  id          TEXT PRIMARY KEY,
  source      TEXT NOT NULL,
  destination TEXT NOT NULL,
  path        TEXT NOT NULL DEFAULT '',
  status      TEXT NOT NULL,
  error       TEXT NOT NULL DEFAULT '',
  rows        INTEGER NOT NULL DEFAULT 0,
  bytes       INTEGER NOT NULL DEFAULT 0,
  started_at  TEXT NOT NULL,
  finished_at TEXT
)`

const journalIndex = `CREATE INDEX IF NOT EXISTS copy_runs_started_at ON copy_runs (started_at)`

// journalTime has fixed width so stored timestamps sort as text.
const journalTime = "2006-01-02T15:04:05.000000000Z"

// openJournal opens (creating if needed) the journal at path.
func openJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{journalSchema, journalIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init journal %s: %w", path, err)
		}
	}
	return &Journal{db: db, now: time.Now}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Begin inserts a running entry and returns its id.
func (j *Journal) Begin(ctx context.Context, src, dst QualifiedName) (string, error) {
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO copy_runs (id, source, destination, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, src.String(), dst.String(), statusRunning, j.now().UTC().Format(journalTime))
	if err != nil {
		return "", fmt.Errorf("record start of %s: %w", src, err)
	}
	return id, nil
}

// Finish closes the entry with the outcome of the copy.
func (j *Journal) Finish(ctx context.Context, id string, outcome copyOutcome) error {
	status, msg := statusSucceeded, ""
	if outcome.Err != nil {
		status, msg = statusFailed, outcome.Err.Error()
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE copy_runs SET path = ?, status = ?, error = ?, rows = ?, bytes = ?, finished_at = ? WHERE id = ?`,
		outcome.Path, status, msg, outcome.Rows, outcome.Bytes, j.now().UTC().Format(journalTime), id)
	if err != nil {
		return fmt.Errorf("record finish of %s: %w", id, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, source, destination, path, status, error, rows, bytes, started_at, finished_at
		 FROM copy_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var started string
		var finished sql.NullString
		if err := rows.Scan(&e.ID, &e.Source, &e.Destination, &e.Path, &e.Status, &e.Error,
			&e.Rows, &e.Bytes, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		if e.StartedAt, err = time.Parse(journalTime, started); err != nil {
			return nil, fmt.Errorf("parse started_at for %s: %w", e.ID, err)
		}
		if finished.Valid {
			t, err := time.Parse(journalTime, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at for %s: %w", e.ID, err)
			}
			e.FinishedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
