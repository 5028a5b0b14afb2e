// ABOUTME: State database schema definitions
// ABOUTME: Creates the sync_state, sync_log and sync_locks tables
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_state (
	flow TEXT PRIMARY KEY,
	status TEXT NOT NULL CHECK(status IN ('idle', 'syncing', 'error')),
	last_run_at DATETIME,
	last_success_at DATETIME,
	error_message TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sync_log (
	id TEXT PRIMARY KEY,
	event_id TEXT,
	flow TEXT NOT NULL,
	row_index INTEGER NOT NULL,
	lead_id INTEGER,
	contact_id INTEGER,
	outcome TEXT NOT NULL CHECK(outcome IN ('created', 'updated', 'skipped', 'mirrored', 'error')),
	reason TEXT,
	logged_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sync_log_row ON sync_log(row_index);
CREATE INDEX IF NOT EXISTS idx_sync_log_logged_at ON sync_log(logged_at);

CREATE TABLE IF NOT EXISTS sync_locks (
	key TEXT PRIMARY KEY,
	expires_at INTEGER NOT NULL
);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
