// ABOUTME: Sync journal backed by the state database
// ABOUTME: Records flow status transitions and row outcomes, logging write failures
package db

import (
	"database/sql"
	"log/slog"
	"sync"

	"github.com/harperreed/leadbridge/models"
)

// Journal adapts the state database to the reconciler's journal hooks.
// Journal writes never fail a sync; errors are logged.
//
// Flows such as sheets run one event per webhook, so several may be in flight
// at once. The flow only returns to idle when the last of them finishes; a
// failure is recorded immediately.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	mu       sync.Mutex
	inFlight map[string]int
}

func NewJournal(db *sql.DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger, inFlight: make(map[string]int)}
}

func (j *Journal) FlowStarted(flow string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inFlight[flow]++

	if err := UpdateSyncStatus(j.db, flow, StatusSyncing, nil); err != nil {
		j.logger.Warn("failed to record flow start", "flow", flow, "error", err)
	}
}

func (j *Journal) FlowFinished(flow string, failure error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.inFlight[flow] > 0 {
		j.inFlight[flow]--
	}
	if failure == nil && j.inFlight[flow] > 0 {
		return
	}

	status := StatusIdle
	var msg *string
	if failure != nil {
		status = StatusError
		s := failure.Error()
		msg = &s
	}
	if err := UpdateSyncStatus(j.db, flow, status, msg); err != nil {
		j.logger.Warn("failed to record flow finish", "flow", flow, "error", err)
	}
}

func (j *Journal) RowOutcome(o models.SyncOutcome) {
	if err := RecordSyncOutcome(j.db, o); err != nil {
		j.logger.Warn("failed to record row outcome", "flow", o.Flow, "row", o.Row, "error", err)
	}
}
