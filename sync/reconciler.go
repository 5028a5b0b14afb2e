// ABOUTME: Bidirectional reconciliation between the lead sheet and AmoCRM
// ABOUTME: Handles sheet-originated and CRM-originated events under sync locks
package sync

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harperreed/leadbridge/identity"
	"github.com/harperreed/leadbridge/lock"
	"github.com/harperreed/leadbridge/models"
)

const (
	DefaultCreationWait = 3 * time.Second

	defaultStatus = "created"
)

// SpreadsheetStore is the sheet holding one lead per row.
type SpreadsheetStore interface {
	ReadAllRows(ctx context.Context) ([]models.SheetRow, error)
	UpdateCells(ctx context.Context, rowIndex int, mapping map[string]string) error
	FindRowByColumnValue(ctx context.Context, column, value string) (int, error)
}

// CRMService is the CRM side of the sync. Lookups return nil when nothing
// matches.
type CRMService interface {
	FindContact(ctx context.Context, phone, email, name string) (*models.Contact, error)
	UpsertContact(ctx context.Context, name, phone, email string) (int64, error)
	UpdateContact(ctx context.Context, id int64, name, phone, email string) (int64, error)
	FindLead(ctx context.Context, email, name string, leadID int64) (*models.Lead, error)
	CreateLead(ctx context.Context, name string, contactID int64, budget float64) (int64, error)
	UpsertLead(ctx context.Context, name string, contactID int64, budget float64, email string, leadID int64) (int64, error)
	GetContactInfo(ctx context.Context, id int64) (*models.Contact, error)
	GetLeadInfo(ctx context.Context, id int64) (*models.LeadDetails, error)
	LeadLink(id int64) string
}

// SyncLocks is the lock protocol shared by every flow. *lock.Service
// implements it.
type SyncLocks interface {
	MarkInboundFromCRM(ctx context.Context, row int)
	IsMarkedFromCRM(ctx context.Context, row int) bool
	TryAcquireCreationLock(ctx context.Context, row int) bool
	IsCreationLocked(ctx context.Context, row int) bool
	ReleaseCreationLock(ctx context.Context, row int)
}

// Journal receives flow and row outcomes. Implementations must not block
// for long and never fail the sync.
type Journal interface {
	FlowStarted(flow string)
	FlowFinished(flow string, err error)
	RowOutcome(o models.SyncOutcome)
}

type nopJournal struct{}

func (nopJournal) FlowStarted(string)            {}
func (nopJournal) FlowFinished(string, error)    {}
func (nopJournal) RowOutcome(models.SyncOutcome) {}

type Options struct {
	WebhookSecret string
	// CreationWait bounds how long a sheet event waits for a concurrent lead
	// creation on the same row before re-reading it.
	CreationWait time.Duration
	Signals      *lock.Signals
	Journal      Journal
	Logger       *slog.Logger
}

func (o *Options) withDefaults() {
	if o.CreationWait <= 0 {
		o.CreationWait = DefaultCreationWait
	}
	if o.Signals == nil {
		o.Signals = lock.NewSignals()
	}
	if o.Journal == nil {
		o.Journal = nopJournal{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type Reconciler struct {
	store   SpreadsheetStore
	crm     CRMService
	locks   SyncLocks
	secret  string
	wait    time.Duration
	signals *lock.Signals
	journal Journal
	logger  *slog.Logger
}

func NewReconciler(store SpreadsheetStore, crm CRMService, locks SyncLocks, opts Options) *Reconciler {
	opts.withDefaults()
	return &Reconciler{
		store:   store,
		crm:     crm,
		locks:   locks,
		secret:  opts.WebhookSecret,
		wait:    opts.CreationWait,
		signals: opts.Signals,
		journal: opts.Journal,
		logger:  opts.Logger,
	}
}

func newEventID() string {
	return ulid.Make().String()
}

// HandleSheetEvent pushes one edited row into the CRM and writes the CRM
// ids back. Skips are successful results carrying a reason; failures are
// recorded in the row's status column and returned as *FatalSyncError.
func (r *Reconciler) HandleSheetEvent(ctx context.Context, event models.SheetEvent, secret string) (*models.SheetResult, error) {
	if subtle.ConstantTimeCompare([]byte(secret), []byte(r.secret)) != 1 {
		return nil, invalid(ErrInvalidSecret)
	}
	row := event.RowIndex
	if row < models.FirstDataRow {
		return nil, invalid(ErrInvalidRowIndex)
	}

	data := event.Data
	name := strings.TrimSpace(data.Name)
	email := strings.TrimSpace(data.Email)
	phone := identity.NormalizePhone(data.Phone)
	externalID := identity.MakeExternalID(phone, email)

	eventID := newEventID()
	logger := r.logger.With("event_id", eventID, "row", row, "external_id", externalID)
	outcome := models.SyncOutcome{EventID: eventID, Flow: models.FlowSheets, Row: row}

	if r.locks.IsMarkedFromCRM(ctx, row) {
		logger.Info("skipping row recently written from CRM")
		r.recordSkip(outcome, models.SkipSyncLockActive)
		return &models.SheetResult{Success: true, Skipped: models.SkipSyncLockActive, RowIndex: row}, nil
	}

	r.journal.FlowStarted(models.FlowSheets)

	leadID, contactID, err := r.storedIDs(ctx, row)
	if err != nil {
		logger.Warn("failed to read row", "error", err)
	}

	lockedByMe := false
	if leadID == 0 {
		if r.locks.IsCreationLocked(ctx, row) {
			logger.Info("lead creation in progress, waiting for amo_deal_id", "wait", r.wait)
			woken := r.signals.Wait(ctx, row, r.wait)

			leadID, contactID, err = r.storedIDs(ctx, row)
			switch {
			case err != nil:
				logger.Warn("failed to re-read row after wait", "error", err)
				r.recordSkip(outcome, models.SkipReadErrorAfterWait)
				r.journal.FlowFinished(models.FlowSheets, nil)
				return &models.SheetResult{Skipped: models.SkipReadErrorAfterWait, RowIndex: row}, nil
			case leadID == 0:
				logger.Info("amo_deal_id still missing after wait", "woken", woken)
				r.recordSkip(outcome, models.SkipLeadStillCreating)
				r.journal.FlowFinished(models.FlowSheets, nil)
				return &models.SheetResult{Skipped: models.SkipLeadStillCreating, RowIndex: row}, nil
			}
			logger.Info("lead appeared after wait", "lead_id", leadID, "woken", woken)
		}

		if leadID == 0 {
			if !r.locks.TryAcquireCreationLock(ctx, row) {
				logger.Info("lead already being created for row")
				r.recordSkip(outcome, models.SkipLeadCreating)
				r.journal.FlowFinished(models.FlowSheets, nil)
				return &models.SheetResult{Skipped: models.SkipLeadCreating, RowIndex: row}, nil
			}
			lockedByMe = true
			defer func() {
				r.locks.ReleaseCreationLock(context.WithoutCancel(ctx), row)
				r.signals.Broadcast(row)
			}()
		}
	}

	result, err := r.pushRow(ctx, logger, row, leadID, contactID, name, phone, email, data.Budget, externalID)
	if err != nil {
		logger.Error("sheet sync failed", "error", err)
		r.writeErrorStatus(ctx, logger, row, err)

		outcome.Outcome = models.OutcomeError
		outcome.Reason = Truncate(err.Error(), StatusMessageLimit)
		r.journal.RowOutcome(outcome)
		r.journal.FlowFinished(models.FlowSheets, err)
		return nil, &FatalSyncError{Row: row, Err: err}
	}

	outcome.LeadID = result.LeadID
	outcome.ContactID = result.ContactID
	outcome.Outcome = models.OutcomeUpdated
	if lockedByMe {
		outcome.Outcome = models.OutcomeCreated
	}
	r.journal.RowOutcome(outcome)
	r.journal.FlowFinished(models.FlowSheets, nil)

	return result, nil
}

func (r *Reconciler) pushRow(ctx context.Context, logger *slog.Logger, row int, leadID, contactID int64, name, phone, email string, budget float64, externalID string) (*models.SheetResult, error) {
	var err error
	if contactID != 0 {
		logger.Info("updating stored contact", "contact_id", contactID)
		contactID, err = r.crm.UpdateContact(ctx, contactID, name, phone, email)
	} else {
		contactID, err = r.crm.UpsertContact(ctx, name, phone, email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert contact: %w", err)
	}

	leadID, err = r.crm.UpsertLead(ctx, name, contactID, budget, email, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert lead: %w", err)
	}

	if err := writeBack(ctx, r.store, r.crm, logger, row, leadID, contactID, externalID); err != nil {
		return nil, err
	}

	logger.Info("row synced to CRM", "lead_id", leadID, "contact_id", contactID)
	return &models.SheetResult{Success: true, RowIndex: row, LeadID: leadID, ContactID: contactID}, nil
}

// HandleCRMEvent mirrors a CRM lead update into its sheet row. The loop guard
// is set before the write so the resulting sheet webhook is ignored.
func (r *Reconciler) HandleCRMEvent(ctx context.Context, event models.CRMEvent) (*models.CRMResult, error) {
	if event.LeadID == 0 {
		r.logger.Debug("CRM event carries no lead update")
		return &models.CRMResult{Status: "ok"}, nil
	}

	eventID := newEventID()
	logger := r.logger.With("event_id", eventID, "lead_id", event.LeadID)

	r.journal.FlowStarted(models.FlowAmoCRM)
	result, row, err := r.mirrorLead(ctx, logger, event.LeadID)
	r.journal.FlowFinished(models.FlowAmoCRM, err)
	if err != nil {
		logger.Error("CRM sync failed", "error", err)
		return nil, err
	}

	if row != 0 {
		outcome := models.SyncOutcome{EventID: eventID, Flow: models.FlowAmoCRM, Row: row, LeadID: event.LeadID, Outcome: models.OutcomeMirrored}
		if result.Updated == "" {
			outcome.Outcome = models.OutcomeSkipped
			outcome.Reason = result.Message
		}
		r.journal.RowOutcome(outcome)
	}
	return result, nil
}

func (r *Reconciler) mirrorLead(ctx context.Context, logger *slog.Logger, leadID int64) (*models.CRMResult, int, error) {
	row, err := r.store.FindRowByColumnValue(ctx, models.ColAmoDealID, strconv.FormatInt(leadID, 10))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find row for lead %d: %w", leadID, err)
	}
	if row == 0 {
		logger.Warn("lead has no row in sheet")
		return &models.CRMResult{Status: "ok", Message: "lead not found in sheets"}, 0, nil
	}
	logger = logger.With("row", row)

	_, storedContactID, err := r.storedIDs(ctx, row)
	if err != nil {
		logger.Warn("failed to read row", "error", err)
	}

	info, err := r.crm.GetLeadInfo(ctx, leadID)
	if err != nil {
		return nil, row, fmt.Errorf("failed to get lead %d: %w", leadID, err)
	}
	if info == nil {
		logger.Warn("lead info not available")
		return &models.CRMResult{Status: "ok", Message: "lead info not available"}, row, nil
	}

	mapping := make(map[string]string)
	if info.Name != "" {
		mapping[models.ColName] = info.Name
	}
	if info.Price != nil {
		mapping[models.ColBudget] = strconv.FormatInt(*info.Price, 10)
	}
	if info.StatusName != "" {
		mapping[models.ColStatus] = info.StatusName
	}

	contactID := info.ContactID
	if contactID == 0 {
		contactID = storedContactID
	}
	if contactID != 0 {
		contact, err := r.crm.GetContactInfo(ctx, contactID)
		if err != nil {
			logger.Warn("failed to get contact", "contact_id", contactID, "error", err)
		} else if contact != nil {
			if contact.Phone != "" {
				mapping[models.ColPhone] = contact.Phone
			}
			if contact.Email != "" {
				mapping[models.ColEmail] = contact.Email
			}
			if contact.Name != "" {
				mapping[models.ColName] = contact.Name
			}
		}
	}

	if len(mapping) > 0 {
		r.locks.MarkInboundFromCRM(ctx, row)
		if err := r.store.UpdateCells(ctx, row, mapping); err != nil {
			return nil, row, fmt.Errorf("failed to update row %d: %w", row, err)
		}
		logger.Info("row updated from CRM", "columns", len(mapping))
	}

	return &models.CRMResult{Status: "ok", Updated: "1"}, row, nil
}

// storedIDs reads the CRM ids already written into row.
func (r *Reconciler) storedIDs(ctx context.Context, row int) (leadID, contactID int64, err error) {
	rows, err := r.store.ReadAllRows(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, sr := range rows {
		if sr.Index == row {
			return sr.DealID(), sr.ContactID(), nil
		}
	}
	return 0, 0, nil
}

func (r *Reconciler) recordSkip(o models.SyncOutcome, reason string) {
	o.Outcome = models.OutcomeSkipped
	o.Reason = reason
	r.journal.RowOutcome(o)
}

func (r *Reconciler) writeErrorStatus(ctx context.Context, logger *slog.Logger, row int, cause error) {
	err := r.store.UpdateCells(context.WithoutCancel(ctx), row, map[string]string{models.ColStatus: errorStatus(cause)})
	if err != nil {
		logger.Error("failed to write error status", "error", err)
	}
}

// writeBack stores the CRM ids, link, status and external id in row.
func writeBack(ctx context.Context, store SpreadsheetStore, crm CRMService, logger *slog.Logger, row int, leadID, contactID int64, externalID string) error {
	status := defaultStatus
	info, err := crm.GetLeadInfo(ctx, leadID)
	switch {
	case err != nil:
		logger.Warn("failed to get lead status", "lead_id", leadID, "error", err)
	case info != nil && info.StatusName != "":
		status = info.StatusName
	}

	mapping := map[string]string{
		models.ColAmoDealID:    strconv.FormatInt(leadID, 10),
		models.ColAmoContactID: strconv.FormatInt(contactID, 10),
		models.ColAmoLink:      crm.LeadLink(leadID),
		models.ColStatus:       status,
		models.ColExternalID:   externalID,
	}
	if err := store.UpdateCells(ctx, row, mapping); err != nil {
		return fmt.Errorf("failed to write back row %d: %w", row, err)
	}
	return nil
}
