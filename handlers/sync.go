// ABOUTME: Sync MCP tool handlers
// ABOUTME: Implements import_rows, sync_status and sync_row tools
package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/leadbridge/db"
	"github.com/harperreed/leadbridge/models"
)

type Importer interface {
	Run(ctx context.Context) (models.ImportSummary, error)
}

type RowSyncer interface {
	HandleSheetEvent(ctx context.Context, event models.SheetEvent, secret string) (*models.SheetResult, error)
}

type RowReader interface {
	ReadAllRows(ctx context.Context) ([]models.SheetRow, error)
}

type SyncHandlers struct {
	db       *sql.DB
	importer Importer
	syncer   RowSyncer
	rows     RowReader
	secret   string
}

func NewSyncHandlers(database *sql.DB, importer Importer, syncer RowSyncer, rows RowReader, secret string) *SyncHandlers {
	return &SyncHandlers{
		db:       database,
		importer: importer,
		syncer:   syncer,
		rows:     rows,
		secret:   secret,
	}
}

type ImportRowsInput struct{}

func (h *SyncHandlers) ImportRows(ctx context.Context, _ *mcp.CallToolRequest, _ ImportRowsInput) (*mcp.CallToolResult, models.ImportSummary, error) {
	summary, err := h.importer.Run(ctx)
	if err != nil {
		return nil, models.ImportSummary{}, fmt.Errorf("failed to import rows: %w", err)
	}
	return nil, summary, nil
}

type SyncStatusInput struct {
	Row   int `json:"row,omitempty" jsonschema:"Only show log entries for this sheet row"`
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of log entries (default 20)"`
}

type FlowStatusOutput struct {
	Flow          string  `json:"flow"`
	Status        string  `json:"status"`
	LastRunAt     *string `json:"last_run_at,omitempty"`
	LastSuccessAt *string `json:"last_success_at,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
}

type LogEntryOutput struct {
	EventID  string `json:"event_id,omitempty"`
	Flow     string `json:"flow"`
	Row      int    `json:"row"`
	LeadID   int64  `json:"lead_id,omitempty"`
	Outcome  string `json:"outcome"`
	Reason   string `json:"reason,omitempty"`
	LoggedAt string `json:"logged_at"`
}

type SyncStatusOutput struct {
	Flows  []FlowStatusOutput `json:"flows"`
	Recent []LogEntryOutput   `json:"recent"`
}

func (h *SyncHandlers) SyncStatus(_ context.Context, _ *mcp.CallToolRequest, input SyncStatusInput) (*mcp.CallToolResult, SyncStatusOutput, error) {
	if h.db == nil {
		return nil, SyncStatusOutput{}, fmt.Errorf("state database is not configured")
	}

	states, err := db.GetAllSyncStates(h.db)
	if err != nil {
		return nil, SyncStatusOutput{}, fmt.Errorf("failed to get sync states: %w", err)
	}
	entries, err := db.RecentSyncLog(h.db, input.Row, input.Limit)
	if err != nil {
		return nil, SyncStatusOutput{}, fmt.Errorf("failed to get sync log: %w", err)
	}

	out := SyncStatusOutput{
		Flows:  make([]FlowStatusOutput, 0, len(states)),
		Recent: make([]LogEntryOutput, 0, len(entries)),
	}
	for _, s := range states {
		out.Flows = append(out.Flows, FlowStatusOutput{
			Flow:          s.Flow,
			Status:        s.Status,
			LastRunAt:     formatTime(s.LastRunAt),
			LastSuccessAt: formatTime(s.LastSuccessAt),
			ErrorMessage:  s.ErrorMessage,
		})
	}
	for _, e := range entries {
		out.Recent = append(out.Recent, LogEntryOutput{
			EventID:  e.EventID,
			Flow:     e.Flow,
			Row:      e.Row,
			LeadID:   e.LeadID,
			Outcome:  e.Outcome,
			Reason:   e.Reason,
			LoggedAt: e.LoggedAt.Format(time.RFC3339),
		})
	}

	return nil, out, nil
}

type SyncRowInput struct {
	RowIndex int `json:"row_index" jsonschema:"Sheet row to push into AmoCRM (2 or greater)"`
}

// SyncRow replays the sheet webhook for one row using its current values.
func (h *SyncHandlers) SyncRow(ctx context.Context, _ *mcp.CallToolRequest, input SyncRowInput) (*mcp.CallToolResult, models.SheetResult, error) {
	if input.RowIndex < models.FirstDataRow {
		return nil, models.SheetResult{}, fmt.Errorf("row_index must be >= %d", models.FirstDataRow)
	}

	rows, err := h.rows.ReadAllRows(ctx)
	if err != nil {
		return nil, models.SheetResult{}, fmt.Errorf("failed to read rows: %w", err)
	}

	var row *models.SheetRow
	for i := range rows {
		if rows[i].Index == input.RowIndex {
			row = &rows[i]
			break
		}
	}
	if row == nil {
		return nil, models.SheetResult{}, fmt.Errorf("row %d not found", input.RowIndex)
	}

	event := models.SheetEvent{
		RowIndex: row.Index,
		Data: models.LeadData{
			Name:       row.Get(models.ColName),
			Phone:      row.Get(models.ColPhone),
			Email:      row.Get(models.ColEmail),
			Budget:     row.Budget(),
			ExternalID: row.Get(models.ColExternalID),
		},
	}

	result, err := h.syncer.HandleSheetEvent(ctx, event, h.secret)
	if err != nil {
		return nil, models.SheetResult{}, fmt.Errorf("failed to sync row %d: %w", input.RowIndex, err)
	}
	return nil, *result, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
