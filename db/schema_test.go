// ABOUTME: Tests for state database schema creation
// ABOUTME: Uses in-memory SQLite for fast isolated tests
package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestInitSchema(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory db: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := InitSchema(db); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	for _, table := range []string{"sync_state", "sync_log", "sync_locks"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s not found: %v", table, err)
		}
	}

	for _, idx := range []string{"idx_sync_log_row", "idx_sync_log_logged_at"} {
		var indexName string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&indexName)
		if err != nil {
			t.Errorf("Index %s not found: %v", idx, err)
		}
	}

	// Running twice must be harmless.
	if err := InitSchema(db); err != nil {
		t.Fatalf("second InitSchema failed: %v", err)
	}
}

func TestSyncLogRejectsUnknownOutcome(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.Exec(`INSERT INTO sync_log (id, flow, row_index, outcome) VALUES ('x', 'sheets', 2, 'bogus')`)
	if err == nil {
		t.Error("expected CHECK constraint failure")
	}
}
