// Package journal persists dispatch outcomes to a local SQLite database.
// The journal is an audit trail, not a queue: writes happen after a command
// reaches a terminal state, and readers only ever ask for recent history.
package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	apperrors "github.com/framepilot/framepilot/internal/errors"
	"github.com/framepilot/framepilot/internal/vision/fingerprint"
)

// Entry is one journaled dispatch.
type Entry struct {
	ID          string                  `json:"id"`
	At          time.Time               `json:"at"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	TemplateID  string                  `json:"template_id"`
	Confidence  float64                 `json:"confidence"`
	Outcome     string                  `json:"outcome"`
	Attempts    int                     `json:"attempts"`
	Error       string                  `json:"error,omitempty"`
}

// Journal is a SQLite-backed dispatch log.
type Journal struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS dispatches (
	id          TEXT PRIMARY KEY,
	at          INTEGER NOT NULL,
	fingerprint TEXT NOT NULL,
	template_id TEXT NOT NULL,
	confidence  REAL NOT NULL,
	outcome     TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_dispatches_at ON dispatches (at DESC);
`

// Open creates or opens the journal database at path and runs migrations.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeInternal, "open journal %s", path)
	}
	// A single writer keeps SQLite happy under WAL.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, apperrors.Wrapf(err, apperrors.CodeInternal, "journal pragma %q", pragma)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "journal schema")
	}
	return &Journal{db: db}, nil
}

// Record writes one dispatch entry. A zero ID and At are filled in.
func (j *Journal) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO dispatches (id, at, fingerprint, template_id, confidence, outcome, attempts, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.At.UnixMicro(), e.Fingerprint.String(), e.TemplateID, e.Confidence, e.Outcome, e.Attempts, e.Error,
	)
	if err != nil {
		return Entry{}, apperrors.Wrap(err, apperrors.CodeInternal, "journal insert")
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, at, fingerprint, template_id, confidence, outcome, attempts, error
		 FROM dispatches ORDER BY at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "journal query")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "journal rows")
	}
	return out, nil
}

// Last returns the newest entry, or ok=false on an empty journal.
func (j *Journal) Last(ctx context.Context) (Entry, bool, error) {
	entries, err := j.Recent(ctx, 1)
	if err != nil {
		return Entry{}, false, err
	}
	if len(entries) == 0 {
		return Entry{}, false, nil
	}
	return entries[0], true, nil
}

// Count returns the total number of journaled dispatches.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dispatches`).Scan(&n); err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInternal, "journal count")
	}
	return n, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e     Entry
		at    int64
		print string
	)
	if err := rows.Scan(&e.ID, &at, &print, &e.TemplateID, &e.Confidence, &e.Outcome, &e.Attempts, &e.Error); err != nil {
		return Entry{}, apperrors.Wrap(err, apperrors.CodeInternal, "journal scan")
	}
	e.At = time.UnixMicro(at).UTC()
	fp, err := fingerprint.Parse(print)
	if err != nil {
		return Entry{}, err
	}
	e.Fingerprint = fp
	return e, nil
}
