// ABOUTME: HTTP server for spreadsheet and AmoCRM webhooks
// ABOUTME: Exposes health, webhook, import and a read-only sync status page
package web

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harperreed/leadbridge/db"
	"github.com/harperreed/leadbridge/models"
	"github.com/harperreed/leadbridge/sync"
)

//go:embed templates/*
var templatesFS embed.FS

const (
	SecretHeader = "X-Webhook-Secret"

	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Reconciler handles webhook events. *sync.Reconciler implements it.
type Reconciler interface {
	HandleSheetEvent(ctx context.Context, event models.SheetEvent, secret string) (*models.SheetResult, error)
	HandleCRMEvent(ctx context.Context, event models.CRMEvent) (*models.CRMResult, error)
}

// Importer runs a bulk import. *sync.Importer implements it.
type Importer interface {
	Run(ctx context.Context) (models.ImportSummary, error)
}

type Server struct {
	reconciler Reconciler
	importer   Importer
	db         *sql.DB
	templates  *template.Template
	logger     *slog.Logger
	mux        *http.ServeMux
}

// NewServer wires the routes. database may be nil, in which case the status
// page is not served.
func NewServer(reconciler Reconciler, importer Importer, database *sql.DB, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	funcMap := template.FuncMap{
		"ago": func(t *time.Time) string {
			if t == nil {
				return "never"
			}
			return time.Since(*t).Round(time.Second).String() + " ago"
		},
	}

	tmpl, err := template.New("").Funcs(funcMap).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &Server{
		reconciler: reconciler,
		importer:   importer,
		db:         database,
		templates:  tmpl,
		logger:     logger,
		mux:        http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /webhook/sheets", s.handleSheetsWebhook)
	s.mux.HandleFunc("POST /webhook/amocrm", s.handleAmoCRMWebhook)
	s.mux.HandleFunc("POST /import", s.handleImport)
	if database != nil {
		s.mux.HandleFunc("GET /{$}", s.handleStatus)
	}

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting web server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSheetsWebhook(w http.ResponseWriter, r *http.Request) {
	var event models.SheetEvent
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&event); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid payload: "+err.Error())
		return
	}

	result, err := s.reconciler.HandleSheetEvent(r.Context(), event, r.Header.Get(SecretHeader))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAmoCRMWebhook(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	s.logger.Info("received AmoCRM webhook", "content_type", contentType)

	leadID, err := parseCRMEvent(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.reconciler.HandleCRMEvent(r.Context(), models.CRMEvent{LeadID: leadID})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	summary, err := s.importer.Run(r.Context())
	if err != nil {
		s.logger.Error("import failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	states, err := db.GetAllSyncStates(s.db)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	entries, err := db.RecentSyncLog(s.db, 0, 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"Title":   "Sync status",
		"States":  states,
		"Entries": entries,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "status.html", data); err != nil {
		s.logger.Error("template error", "template", "status.html", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *sync.ValidationError
	if errors.As(err, &verr) {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, sync.ErrInvalidSecret) {
			status = http.StatusForbidden
		}
		writeDetail(w, status, verr.Error())
		return
	}

	s.logger.Error("webhook failed", "error", err)
	var fatal *sync.FatalSyncError
	if errors.As(err, &fatal) {
		writeDetail(w, http.StatusInternalServerError, fatal.Message())
		return
	}
	writeDetail(w, http.StatusInternalServerError, sync.Truncate(err.Error(), sync.StatusMessageLimit))
}

// Lead id keys in AmoCRM webhook payloads, in lookup order.
var leadIDKeys = []string{"leads[update][0][id]", "leads[status][0][id]"}

// parseCRMEvent extracts the updated lead id from a JSON or form payload.
// A payload without a lead id yields 0.
func parseCRMEvent(r *http.Request) (int64, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return 0, fmt.Errorf("failed to read body: %w", err)
	}

	var raw string
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		raw, err = leadIDFromJSON(body)
	} else {
		raw, err = leadIDFromForm(body)
	}
	if err != nil {
		return 0, &sync.ValidationError{Err: err}
	}
	if raw == "" {
		return 0, nil
	}

	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, &sync.ValidationError{Err: fmt.Errorf("%w: %q", sync.ErrInvalidLeadID, raw)}
	}
	return id, nil
}

func leadIDFromForm(body []byte) (string, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", fmt.Errorf("invalid form payload: %w", err)
	}
	for _, key := range leadIDKeys {
		if v := values.Get(key); v != "" {
			return v, nil
		}
	}
	return "", nil
}

// leadIDFromJSON accepts both the flattened form keys and the nested
// {"leads": {"update": [{"id": ...}]}} shape.
func leadIDFromJSON(body []byte) (string, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", nil
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("invalid JSON payload: %w", err)
	}

	for _, key := range leadIDKeys {
		if v, ok := payload[key]; ok {
			return scalar(v), nil
		}
	}

	var nested struct {
		Leads map[string][]struct {
			ID json.RawMessage `json:"id"`
		} `json:"leads"`
	}
	if err := json.Unmarshal(body, &nested); err != nil {
		return "", nil
	}
	for _, kind := range []string{"update", "status"} {
		if leads := nested.Leads[kind]; len(leads) > 0 {
			return scalar(leads[0].ID), nil
		}
	}
	return "", nil
}

// scalar renders a JSON string or number as its text.
func scalar(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(v))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
