// ABOUTME: Service wiring shared by the CLI commands
// ABOUTME: Builds the state database, lock service, sheet store, CRM service and sync flows
package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harperreed/leadbridge/config"
	"github.com/harperreed/leadbridge/crm"
	"github.com/harperreed/leadbridge/db"
	"github.com/harperreed/leadbridge/lock"
	"github.com/harperreed/leadbridge/retry"
	"github.com/harperreed/leadbridge/sheets"
	"github.com/harperreed/leadbridge/sync"
)

const (
	redisDialTimeout  = 3 * time.Second
	lockPurgeInterval = time.Minute
)

type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	DB         *sql.DB
	Locks      *lock.Service
	Sheets     *sheets.Store
	CRM        *crm.Service
	Reconciler *sync.Reconciler
	Importer   *sync.Importer

	sqliteLocks *db.LockStore
}

// NewApp opens every collaborator. The caller must Close the result.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	database, err := db.OpenDatabase(cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	logger.Info("state database", "path", cfg.StateDB)

	app := &App{Config: cfg, Logger: logger, DB: database}

	store := app.openLockStore(ctx)
	app.Locks = lock.NewService(store, lock.Options{
		LoopTTL:     cfg.Sync.LockTTL,
		CreationTTL: cfg.Sync.CreationLockTTL,
	}, logger)

	policy := retry.Policy{
		Attempts:  cfg.Retry.Attempts,
		BaseDelay: cfg.Retry.BaseDelay,
		MaxDelay:  cfg.Retry.MaxDelay,
		OnRetry: func(op string, err error, wait time.Duration) {
			logger.Warn("retrying upstream call", "op", op, "wait", wait, "error", err)
		},
	}

	app.Sheets, err = sheets.Open(ctx, sheets.Options{
		SpreadsheetID:   cfg.Google.SpreadsheetID,
		Worksheet:       cfg.Google.WorksheetName,
		CredentialsFile: cfg.Google.ServiceAccountJSON,
		Retry:           policy,
	}, logger)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}

	client := crm.NewClient(cfg.Amo.BaseURL, cfg.Amo.AccessToken)
	app.CRM = crm.NewService(client, crm.Config{
		BaseURL:    cfg.Amo.BaseURL,
		PipelineID: cfg.Amo.PipelineID,
		StatusID:   cfg.Amo.StatusID,
		Retry:      policy,
	}, logger)

	journal := db.NewJournal(database, logger)
	signals := lock.NewSignals()

	app.Reconciler = sync.NewReconciler(app.Sheets, app.CRM, app.Locks, sync.Options{
		WebhookSecret: cfg.Webhook.Secret,
		CreationWait:  cfg.Sync.CreationWait,
		Signals:       signals,
		Journal:       journal,
		Logger:        logger,
	})
	app.Importer = sync.NewImporter(app.Sheets, app.CRM, app.Locks, sync.ImporterOptions{
		Signals: signals,
		Journal: journal,
		Logger:  logger,
	})

	return app, nil
}

// openLockStore returns nil when locking is disabled or Redis cannot be
// reached, so sync runs without loop protection instead of failing.
func (a *App) openLockStore(ctx context.Context) lock.Store {
	switch a.Config.Lock.Backend {
	case config.LockRedis:
		store, err := lock.NewRedisStore(ctx, lock.RedisOptions{
			Addr:     a.Config.Redis.Addr(),
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
			Timeout:  redisDialTimeout,
		})
		if err != nil {
			a.Logger.Warn("redis unavailable", "addr", a.Config.Redis.Addr(), "error", err)
			return nil
		}
		a.Logger.Info("using redis lock store", "addr", a.Config.Redis.Addr())
		return store
	case config.LockSQLite:
		a.sqliteLocks = db.NewLockStore(a.DB)
		return a.sqliteLocks
	case config.LockMemory:
		return lock.NewMemoryStore()
	default:
		return nil
	}
}

// PurgeLocks removes expired sqlite lock rows until ctx is done. It returns
// immediately for other backends.
func (a *App) PurgeLocks(ctx context.Context) {
	if a.sqliteLocks == nil {
		return
	}
	ticker := time.NewTicker(lockPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.sqliteLocks.PurgeExpiredLocks(ctx)
			if err != nil {
				a.Logger.Warn("failed to purge expired locks", "error", err)
				continue
			}
			if n > 0 {
				a.Logger.Debug("purged expired locks", "count", n)
			}
		}
	}
}

func (a *App) Close() error {
	var errs []error
	if a.Locks != nil {
		errs = append(errs, a.Locks.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
