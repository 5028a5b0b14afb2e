// ABOUTME: Bulk import of unlinked sheet rows into AmoCRM
// ABOUTME: Creates contacts and leads for backlog rows with bounded parallelism
package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/harperreed/leadbridge/identity"
	"github.com/harperreed/leadbridge/lock"
	"github.com/harperreed/leadbridge/models"
)

// DefaultImportConcurrency keeps bulk import within AmoCRM rate limits.
const DefaultImportConcurrency = 2

type ImporterOptions struct {
	Concurrency int
	Signals     *lock.Signals
	Journal     Journal
	Logger      *slog.Logger
}

type Importer struct {
	store       SpreadsheetStore
	crm         CRMService
	locks       SyncLocks
	concurrency int
	signals     *lock.Signals
	journal     Journal
	logger      *slog.Logger

	mu gosync.Mutex
}

func NewImporter(store SpreadsheetStore, crm CRMService, locks SyncLocks, opts ImporterOptions) *Importer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultImportConcurrency
	}
	if opts.Signals == nil {
		opts.Signals = lock.NewSignals()
	}
	if opts.Journal == nil {
		opts.Journal = nopJournal{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Importer{
		store:       store,
		crm:         crm,
		locks:       locks,
		concurrency: opts.Concurrency,
		signals:     opts.Signals,
		journal:     opts.Journal,
		logger:      opts.Logger,
	}
}

type importUnit struct {
	row        int
	name       string
	phone      string
	email      string
	budget     float64
	externalID string
}

// Run imports every row that has neither amo_deal_id nor external_id and a
// non-empty name. Row failures are counted, never returned; only a failure to
// read the sheet is an error. Concurrent runs are serialized.
func (im *Importer) Run(ctx context.Context) (models.ImportSummary, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	var summary models.ImportSummary
	im.journal.FlowStarted(models.FlowImport)

	rows, err := im.store.ReadAllRows(ctx)
	if err != nil {
		err = fmt.Errorf("failed to read rows: %w", err)
		im.journal.FlowFinished(models.FlowImport, err)
		return summary, err
	}

	var units []importUnit
	for _, row := range rows {
		if row.Get(models.ColAmoDealID) != "" || row.Get(models.ColExternalID) != "" {
			summary.Skipped++
			continue
		}
		name := row.Get(models.ColName)
		if name == "" {
			summary.Skipped++
			continue
		}

		phone := identity.NormalizePhone(row.Get(models.ColPhone))
		email := row.Get(models.ColEmail)
		units = append(units, importUnit{
			row:        row.Index,
			name:       name,
			phone:      phone,
			email:      email,
			budget:     row.Budget(),
			externalID: identity.MakeExternalID(phone, email),
		})
	}

	im.logger.Info("starting import", "rows", len(rows), "candidates", len(units), "skipped", summary.Skipped)

	var counts gosync.Mutex
	var g errgroup.Group
	g.SetLimit(im.concurrency)

	for _, unit := range units {
		g.Go(func() error {
			outcome := im.importRow(ctx, unit)
			im.journal.RowOutcome(outcome)

			counts.Lock()
			defer counts.Unlock()
			switch outcome.Outcome {
			case models.OutcomeCreated:
				summary.Created++
			case models.OutcomeSkipped:
				summary.Skipped++
			default:
				summary.Errors++
			}
			return nil
		})
	}
	_ = g.Wait()

	im.logger.Info("import finished", "created", summary.Created, "skipped", summary.Skipped, "errors", summary.Errors)
	im.journal.FlowFinished(models.FlowImport, nil)
	return summary, nil
}

func (im *Importer) importRow(ctx context.Context, unit importUnit) models.SyncOutcome {
	outcome := models.SyncOutcome{Flow: models.FlowImport, Row: unit.row}
	logger := im.logger.With("row", unit.row, "external_id", unit.externalID)

	if !im.locks.TryAcquireCreationLock(ctx, unit.row) {
		logger.Info("row is being created by another flow")
		outcome.Outcome = models.OutcomeSkipped
		outcome.Reason = models.SkipLeadCreating
		return outcome
	}
	defer func() {
		im.locks.ReleaseCreationLock(context.WithoutCancel(ctx), unit.row)
		im.signals.Broadcast(unit.row)
	}()

	contactID, leadID, err := im.createRow(ctx, logger, unit)
	if err != nil {
		logger.Error("import of row failed", "error", err)
		status := map[string]string{models.ColStatus: errorStatus(err)}
		if werr := im.store.UpdateCells(context.WithoutCancel(ctx), unit.row, status); werr != nil {
			logger.Warn("failed to write error status", "error", werr)
		}
		outcome.Outcome = models.OutcomeError
		outcome.Reason = Truncate(err.Error(), StatusMessageLimit)
		return outcome
	}

	logger.Info("imported row", "lead_id", leadID, "contact_id", contactID)
	outcome.Outcome = models.OutcomeCreated
	outcome.LeadID = leadID
	outcome.ContactID = contactID
	return outcome
}

func (im *Importer) createRow(ctx context.Context, logger *slog.Logger, unit importUnit) (contactID, leadID int64, err error) {
	contactID, err = im.crm.UpsertContact(ctx, unit.name, unit.phone, unit.email)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to upsert contact: %w", err)
	}

	leadID, err = im.crm.CreateLead(ctx, unit.name, contactID, unit.budget)
	if err != nil {
		return contactID, 0, fmt.Errorf("failed to create lead: %w", err)
	}

	if err := writeBack(ctx, im.store, im.crm, logger, unit.row, leadID, contactID, unit.externalID); err != nil {
		return contactID, leadID, err
	}
	return contactID, leadID, nil
}
