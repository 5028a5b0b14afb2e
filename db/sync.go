// ABOUTME: Database operations for sync_state and sync_log tables
// ABOUTME: Tracks per-flow status and records the outcome of every synced row
package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/leadbridge/models"
)

const (
	StatusIdle    = "idle"
	StatusSyncing = "syncing"
	StatusError   = "error"
)

// SyncState is the last known status of one sync flow.
type SyncState struct {
	Flow          string
	Status        string
	LastRunAt     *time.Time
	LastSuccessAt *time.Time
	ErrorMessage  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SyncLogEntry is one recorded row outcome.
type SyncLogEntry struct {
	ID string
	models.SyncOutcome
	LoggedAt time.Time
}

const syncStateColumns = `flow, status, last_run_at, last_success_at, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncState(s rowScanner) (*SyncState, error) {
	var state SyncState
	var lastRun, lastSuccess sql.NullTime
	var errorMessage sql.NullString

	if err := s.Scan(
		&state.Flow,
		&state.Status,
		&lastRun,
		&lastSuccess,
		&errorMessage,
		&state.CreatedAt,
		&state.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if lastRun.Valid {
		state.LastRunAt = &lastRun.Time
	}
	if lastSuccess.Valid {
		state.LastSuccessAt = &lastSuccess.Time
	}
	if errorMessage.Valid {
		state.ErrorMessage = &errorMessage.String
	}
	return &state, nil
}

// GetSyncState retrieves the state of a flow, or nil if it never ran.
func GetSyncState(db *sql.DB, flow string) (*SyncState, error) {
	state, err := scanSyncState(db.QueryRow(`SELECT `+syncStateColumns+` FROM sync_state WHERE flow = ?`, flow))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return state, nil
}

// UpdateSyncStatus moves a flow to status. Entering syncing stamps the run
// time, returning to idle stamps the success time and clears the error.
func UpdateSyncStatus(db *sql.DB, flow, status string, errorMsg *string) error {
	var errorMsgVal sql.NullString
	if errorMsg != nil {
		errorMsgVal = sql.NullString{String: *errorMsg, Valid: true}
	}

	_, err := db.Exec(`
		INSERT INTO sync_state (flow, status, last_run_at, last_success_at, error_message, created_at, updated_at)
		VALUES (
			?1, ?2,
			CASE WHEN ?2 = 'syncing' THEN CURRENT_TIMESTAMP END,
			CASE WHEN ?2 = 'idle' THEN CURRENT_TIMESTAMP END,
			?3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
		)
		ON CONFLICT(flow) DO UPDATE SET
			status = excluded.status,
			last_run_at = COALESCE(excluded.last_run_at, sync_state.last_run_at),
			last_success_at = COALESCE(excluded.last_success_at, sync_state.last_success_at),
			error_message = excluded.error_message,
			updated_at = CURRENT_TIMESTAMP
	`, flow, status, errorMsgVal)

	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}

	return nil
}

// GetAllSyncStates retrieves the state of every flow that has run.
func GetAllSyncStates(db *sql.DB) ([]SyncState, error) {
	rows, err := db.Query(`SELECT ` + syncStateColumns + ` FROM sync_state ORDER BY flow`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []SyncState
	for rows.Next() {
		state, err := scanSyncState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		states = append(states, *state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync states: %w", err)
	}

	return states, nil
}

// RecordSyncOutcome appends a row outcome to the sync log.
func RecordSyncOutcome(db *sql.DB, o models.SyncOutcome) error {
	_, err := db.Exec(`
		INSERT INTO sync_log (id, event_id, flow, row_index, lead_id, contact_id, outcome, reason, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, uuid.New().String(), nullString(o.EventID), o.Flow, o.Row, nullInt(o.LeadID), nullInt(o.ContactID), o.Outcome, nullString(o.Reason))

	if err != nil {
		return fmt.Errorf("failed to record sync outcome: %w", err)
	}

	return nil
}

// RecentSyncLog returns up to limit entries, newest first. A row of 0 means
// any row.
func RecentSyncLog(db *sql.DB, row, limit int) ([]SyncLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, event_id, flow, row_index, lead_id, contact_id, outcome, reason, logged_at
		FROM sync_log`
	args := []any{}
	if row > 0 {
		query += ` WHERE row_index = ?`
		args = append(args, row)
	}
	query += ` ORDER BY logged_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []SyncLogEntry
	for rows.Next() {
		var e SyncLogEntry
		var eventID, reason sql.NullString
		var leadID, contactID sql.NullInt64

		if err := rows.Scan(&e.ID, &eventID, &e.Flow, &e.Row, &leadID, &contactID, &e.Outcome, &reason, &e.LoggedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		e.EventID = eventID.String
		e.Reason = reason.String
		e.LeadID = leadID.Int64
		e.ContactID = contactID.Int64
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync log: %w", err)
	}

	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
