package ledger

import (
	"path/filepath"
	"testing"
)

func TestOpenCreatesSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")

	l, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer l.Close()

	var name string
	err = l.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='events'").Scan(&name)
	if err != nil {
		t.Errorf("events table not found: %v", err)
	}
}

func TestRecordIngestAndQueryAppearInRecent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")
	l, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer l.Close()

	l.RecordIngest("fact_created", 1, 5)
	l.RecordQuery(`liked(X, Y)`, 2, 12, 3)

	events, err := l.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	// Recent orders newest first.
	if events[0].Kind != "query" || events[0].PredicateOrQuery != `liked(X, Y)` || events[0].RowCount != 3 {
		t.Fatalf("unexpected newest event: %+v", events[0])
	}
	if events[1].Kind != "ingest" || events[1].PredicateOrQuery != "fact_created" || events[1].Generation != 1 {
		t.Fatalf("unexpected oldest event: %+v", events[1])
	}
}

func TestRecentDefaultsLimitWhenNonPositive(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")
	l, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer l.Close()

	l.RecordIngest("rule_created", 1, 1)

	events, err := l.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
}

// A nil *Ledger is the documented disabled state: recording must be a
// silent no-op rather than a nil-pointer panic.
func TestNilLedgerRecordIsNoop(t *testing.T) {
	var l *Ledger
	l.RecordIngest("fact_created", 1, 1)
	l.RecordQuery("p(X)", 1, 1, 0)
	if err := l.Close(); err != nil {
		t.Fatalf("Close on nil ledger: %v", err)
	}
}
