// ABOUTME: Data models for spreadsheet and CRM sync
// ABOUTME: Defines SheetRow, Contact, Lead, webhook events and sync results
package models

import (
	"strconv"
	"strings"
)

// Row 1 holds the column headers, data starts on row 2.
const (
	HeaderRow    = 1
	FirstDataRow = 2
)

// Spreadsheet column names.
const (
	ColName         = "name"
	ColPhone        = "phone"
	ColEmail        = "email"
	ColBudget       = "budget"
	ColAmoDealID    = "amo_deal_id"
	ColAmoContactID = "amo_contact_id"
	ColAmoLink      = "amo_link"
	ColStatus       = "status"
	ColExternalID   = "external_id"
)

// SheetRow is a snapshot of one spreadsheet row keyed by header name.
type SheetRow struct {
	Index  int               `json:"row_index"`
	Values map[string]string `json:"values"`
}

// Get returns the trimmed cell value for a column, or "" when absent.
func (r SheetRow) Get(column string) string {
	if r.Values == nil {
		return ""
	}
	return strings.TrimSpace(r.Values[column])
}

// DealID returns the stored amo_deal_id, or 0 when empty or unparsable.
func (r SheetRow) DealID() int64 {
	return parseID(r.Get(ColAmoDealID))
}

// ContactID returns the stored amo_contact_id, or 0 when empty or unparsable.
func (r SheetRow) ContactID() int64 {
	return parseID(r.Get(ColAmoContactID))
}

// Budget parses the budget cell, defaulting to 0.
func (r SheetRow) Budget() float64 {
	raw := r.Get(ColBudget)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseID(raw string) int64 {
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

type Contact struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type Lead struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// LeadDetails is the full view of a lead used when mirroring CRM state back
// into the spreadsheet.
type LeadDetails struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Price       *int64 `json:"price,omitempty"`
	PipelineID  int64  `json:"pipeline_id,omitempty"`
	StatusID    int64  `json:"status_id,omitempty"`
	StatusName  string `json:"status_name,omitempty"`
	ContactID   int64  `json:"contact_id,omitempty"`
	ContactName string `json:"contact_name,omitempty"`
}

// LeadData is the row payload pushed by the spreadsheet webhook.
type LeadData struct {
	Name       string  `json:"name"`
	Phone      string  `json:"phone,omitempty"`
	Email      string  `json:"email,omitempty"`
	Budget     float64 `json:"budget"`
	ExternalID string  `json:"external_id,omitempty"`
}

// SheetEvent is a spreadsheet-originated change for one row.
type SheetEvent struct {
	RowIndex int      `json:"row_index"`
	Data     LeadData `json:"data"`
}

// CRMEvent is a CRM-originated lead update. LeadID is 0 when the payload
// carried no lead update.
type CRMEvent struct {
	LeadID int64
}

// Skip reasons reported by the spreadsheet flow.
const (
	SkipSyncLockActive     = "sync_lock_active"
	SkipLeadStillCreating  = "lead_still_creating"
	SkipLeadCreating       = "lead_creating"
	SkipReadErrorAfterWait = "read_error_after_wait"
)

type SheetResult struct {
	Success   bool   `json:"success"`
	Skipped   string `json:"skipped,omitempty"`
	RowIndex  int    `json:"row_index,omitempty"`
	LeadID    int64  `json:"lead_id,omitempty"`
	ContactID int64  `json:"contact_id,omitempty"`
}

type CRMResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Updated string `json:"updated,omitempty"`
}

type ImportSummary struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Sync flows tracked in the state database.
const (
	FlowSheets = "sheets"
	FlowAmoCRM = "amocrm"
	FlowImport = "import"
)

// Row outcomes recorded in the sync log.
const (
	OutcomeCreated  = "created"
	OutcomeUpdated  = "updated"
	OutcomeSkipped  = "skipped"
	OutcomeMirrored = "mirrored"
	OutcomeError    = "error"
)

// SyncOutcome is the journal entry for one row handled by a flow.
type SyncOutcome struct {
	EventID   string `json:"event_id,omitempty"`
	Flow      string `json:"flow"`
	Row       int    `json:"row"`
	LeadID    int64  `json:"lead_id,omitempty"`
	ContactID int64  `json:"contact_id,omitempty"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
}
