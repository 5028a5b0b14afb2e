// ABOUTME: Tests for the webhook HTTP server
// ABOUTME: Checks routing, payload parsing and error status mapping
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/leadbridge/db"
	"github.com/harperreed/leadbridge/models"
	"github.com/harperreed/leadbridge/sync"
)

type fakeReconciler struct {
	sheetEvent  models.SheetEvent
	secret      string
	crmEvents   []models.CRMEvent
	sheetResult *models.SheetResult
	sheetErr    error
	crmErr      error
}

func (f *fakeReconciler) HandleSheetEvent(_ context.Context, event models.SheetEvent, secret string) (*models.SheetResult, error) {
	f.sheetEvent = event
	f.secret = secret
	if f.sheetErr != nil {
		return nil, f.sheetErr
	}
	return f.sheetResult, nil
}

func (f *fakeReconciler) HandleCRMEvent(_ context.Context, event models.CRMEvent) (*models.CRMResult, error) {
	f.crmEvents = append(f.crmEvents, event)
	if f.crmErr != nil {
		return nil, f.crmErr
	}
	if event.LeadID == 0 {
		return &models.CRMResult{Status: "ok"}, nil
	}
	return &models.CRMResult{Status: "ok", Updated: "1"}, nil
}

type fakeImporter struct {
	summary models.ImportSummary
	err     error
}

func (f *fakeImporter) Run(context.Context) (models.ImportSummary, error) {
	return f.summary, f.err
}

func newTestServer(t *testing.T, rec *fakeReconciler, im *fakeImporter) *Server {
	t.Helper()
	s, err := NewServer(rec, im, nil, nil)
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path, contentType, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeReconciler{}, &fakeImporter{})

	rec := do(s, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeMap(t, rec)["status"])
}

func TestSheetsWebhook(t *testing.T) {
	fr := &fakeReconciler{sheetResult: &models.SheetResult{Success: true, RowIndex: 2, LeadID: 101, ContactID: 102}}
	s := newTestServer(t, fr, &fakeImporter{})

	body := `{"row_index": 2, "data": {"name": "Ivan", "phone": "9991234567", "email": "ivan@x.com", "budget": 1000}}`
	rec := do(s, http.MethodPost, "/webhook/sheets", "application/json", body, map[string]string{SecretHeader: "s3cret"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s3cret", fr.secret)
	assert.Equal(t, 2, fr.sheetEvent.RowIndex)
	assert.Equal(t, "Ivan", fr.sheetEvent.Data.Name)
	assert.Equal(t, 1000.0, fr.sheetEvent.Data.Budget)

	out := decodeMap(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(101), out["lead_id"])
}

func TestSheetsWebhookErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"bad secret", &sync.ValidationError{Err: sync.ErrInvalidSecret}, http.StatusForbidden, sync.ErrInvalidSecret.Error()},
		{"bad row", &sync.ValidationError{Err: sync.ErrInvalidRowIndex}, http.StatusUnprocessableEntity, sync.ErrInvalidRowIndex.Error()},
		{"fatal", &sync.FatalSyncError{Row: 2, Err: errors.New(strings.Repeat("z", 70))}, http.StatusInternalServerError, strings.Repeat("z", 50)},
		{"other", errors.New("boom"), http.StatusInternalServerError, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeReconciler{sheetErr: tt.err}, &fakeImporter{})
			rec := do(s, http.MethodPost, "/webhook/sheets", "application/json", `{"row_index": 2, "data": {"name": "x"}}`, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.detail, decodeMap(t, rec)["detail"])
		})
	}
}

func TestSheetsWebhookMalformedBody(t *testing.T) {
	fr := &fakeReconciler{}
	s := newTestServer(t, fr, &fakeImporter{})

	rec := do(s, http.MethodPost, "/webhook/sheets", "application/json", `{not json`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Zero(t, fr.sheetEvent.RowIndex)
}

func TestAmoCRMWebhookPayloads(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		leadID      int64
	}{
		{"form update", "application/x-www-form-urlencoded", "leads%5Bupdate%5D%5B0%5D%5Bid%5D=101&account%5Bid%5D=5", 101},
		{"form status fallback", "application/x-www-form-urlencoded", "leads%5Bstatus%5D%5B0%5D%5Bid%5D=202", 202},
		{"json flat", "application/json", `{"leads[update][0][id]": "303"}`, 303},
		{"json flat number", "application/json", `{"leads[update][0][id]": 404}`, 404},
		{"json nested", "application/json", `{"leads": {"update": [{"id": 505}]}}`, 505},
		{"no lead", "application/x-www-form-urlencoded", "contacts%5Bupdate%5D%5B0%5D%5Bid%5D=9", 0},
		{"empty json", "application/json", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := &fakeReconciler{}
			s := newTestServer(t, fr, &fakeImporter{})

			rec := do(s, http.MethodPost, "/webhook/amocrm", tt.contentType, tt.body, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.Len(t, fr.crmEvents, 1)
			assert.Equal(t, tt.leadID, fr.crmEvents[0].LeadID)
			assert.Equal(t, "ok", decodeMap(t, rec)["status"])
		})
	}
}

func TestAmoCRMWebhookNonNumericLead(t *testing.T) {
	fr := &fakeReconciler{}
	s := newTestServer(t, fr, &fakeImporter{})

	rec := do(s, http.MethodPost, "/webhook/amocrm", "application/x-www-form-urlencoded", "leads%5Bupdate%5D%5B0%5D%5Bid%5D=abc", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, fr.crmEvents)
	assert.Contains(t, decodeMap(t, rec)["detail"], sync.ErrInvalidLeadID.Error())
}

func TestAmoCRMWebhookFailure(t *testing.T) {
	s := newTestServer(t, &fakeReconciler{crmErr: errors.New("failed to get lead 101: timeout")}, &fakeImporter{})

	rec := do(s, http.MethodPost, "/webhook/amocrm", "application/x-www-form-urlencoded", "leads%5Bupdate%5D%5B0%5D%5Bid%5D=101", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestImport(t *testing.T) {
	s := newTestServer(t, &fakeReconciler{}, &fakeImporter{summary: models.ImportSummary{Created: 2, Skipped: 3, Errors: 1}})

	rec := do(s, http.MethodPost, "/import", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.ImportSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, models.ImportSummary{Created: 2, Skipped: 3, Errors: 1}, summary)
}

func TestImportFailure(t *testing.T) {
	s := newTestServer(t, &fakeReconciler{}, &fakeImporter{err: errors.New("failed to read rows: quota")})

	rec := do(s, http.MethodPost, "/import", "", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to read rows: quota", decodeMap(t, rec)["detail"])
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &fakeReconciler{}, &fakeImporter{})

	rec := do(s, http.MethodGet, "/webhook/sheets", "", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusPage(t *testing.T) {
	database, err := db.OpenDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, db.UpdateSyncStatus(database, models.FlowSheets, db.StatusIdle, nil))
	require.NoError(t, db.RecordSyncOutcome(database, models.SyncOutcome{
		Flow: models.FlowSheets, Row: 2, LeadID: 101, Outcome: models.OutcomeCreated,
	}))

	s, err := NewServer(&fakeReconciler{}, &fakeImporter{}, database, nil)
	require.NoError(t, err)

	rec := do(s, http.MethodGet, "/", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Sync status")
	assert.Contains(t, body, models.FlowSheets)
	assert.Contains(t, body, "101")
	assert.Contains(t, body, models.OutcomeCreated)
}

func TestStatusPageDisabledWithoutDatabase(t *testing.T) {
	s := newTestServer(t, &fakeReconciler{}, &fakeImporter{})

	rec := do(s, http.MethodGet, "/", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
