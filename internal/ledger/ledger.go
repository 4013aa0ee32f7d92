// Package ledger provides a small local SQLite diagnostic event log for
// the cache. The cache records each fact write or delete it ingests and
// each query that reaches the evaluator; rule and declaration ingests
// are not recorded.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Ledger is a diagnostic-only event log: the cache's correctness and
// freshness invariants never depend on it, and a nil *Ledger (or a nil
// cache.EventLedger) disables logging with no other behavior change.
type Ledger struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL CHECK (kind IN ('ingest', 'query')),
	predicate_or_query TEXT NOT NULL,
	generation INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	row_count INTEGER DEFAULT 0,
	created_at INTEGER DEFAULT (strftime('%s', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
`

// Open creates or opens a SQLite-backed ledger at path, creating parent
// directories as needed. WAL mode keeps concurrent ingest/query events
// from blocking each other.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping ledger database: %w", err)
	}

	l := &Ledger{db: db}
	if _, err := l.db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return l, nil
}

// RecordIngest appends one "ingest" event row. Errors are not returned
// to the caller's ingest path; a broken ledger never blocks the
// authoritative cache mutation it is recording.
func (l *Ledger) RecordIngest(kind string, generation int64, durationMs int64) {
	if l == nil {
		return
	}
	_, _ = l.db.Exec(`
		INSERT INTO events (id, kind, predicate_or_query, generation, duration_ms)
		VALUES (?, 'ingest', ?, ?, ?)
	`, uuid.New().String(), kind, generation, durationMs)
}

// RecordQuery appends one "query" event row.
func (l *Ledger) RecordQuery(query string, generation int64, durationMs int64, rowCount int) {
	if l == nil {
		return
	}
	_, _ = l.db.Exec(`
		INSERT INTO events (id, kind, predicate_or_query, generation, duration_ms, row_count)
		VALUES (?, 'query', ?, ?, ?, ?)
	`, uuid.New().String(), query, generation, durationMs, rowCount)
}

// Event is one row of the diagnostic log, returned by Recent for
// inspection.
type Event struct {
	ID               string
	Kind             string
	PredicateOrQuery string
	Generation       int64
	DurationMs       int64
	RowCount         int
	CreatedAtUnix    int64
}

// Recent returns the most recent events, newest first, up to limit
// rows.
func (l *Ledger) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(`
		SELECT id, kind, predicate_or_query, generation, duration_ms, row_count, created_at
		FROM events
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.PredicateOrQuery, &e.Generation, &e.DurationMs, &e.RowCount, &e.CreatedAtUnix); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}
