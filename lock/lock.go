// ABOUTME: Short-lived sync locks over a shared key/value store
// ABOUTME: Provides the CRM->sheet loop guard and the per-row lead creation lock
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultLoopTTL     = 10 * time.Second
	DefaultCreationTTL = 10 * time.Second

	marker = "1"
)

// Store is the coordination backend. Every operation must be atomic on its
// own; no multi-key transactions are needed.
type Store interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

type Options struct {
	LoopTTL     time.Duration
	CreationTTL time.Duration
}

// Service wraps a Store with the sync lock protocol. A nil or failing store
// never blocks sync: checks report "not locked", acquisitions succeed
// unprotected, and a warning is logged.
type Service struct {
	store       Store
	loopTTL     time.Duration
	creationTTL time.Duration
	logger      *slog.Logger
}

func NewService(store Store, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.LoopTTL <= 0 {
		opts.LoopTTL = DefaultLoopTTL
	}
	if opts.CreationTTL <= 0 {
		opts.CreationTTL = DefaultCreationTTL
	}
	if store == nil {
		logger.Warn("lock store unavailable, sync continues without loop protection")
	}
	return &Service{
		store:       store,
		loopTTL:     opts.LoopTTL,
		creationTTL: opts.CreationTTL,
		logger:      logger,
	}
}

// Protected reports whether a lock store is configured.
func (s *Service) Protected() bool {
	return s.store != nil
}

func inboundKey(row int) string {
	return fmt.Sprintf("sync:amocrm_to_sheets:%d", row)
}

func creationKey(row int) string {
	return fmt.Sprintf("creating_lead:%d", row)
}

// MarkInboundFromCRM records that the row is about to be written from the CRM
// side, so sheet events for it are ignored until the TTL passes.
func (s *Service) MarkInboundFromCRM(ctx context.Context, row int) {
	if s.store == nil {
		return
	}
	if err := s.store.Set(ctx, inboundKey(row), marker, s.loopTTL); err != nil {
		s.logger.Warn("failed to set loop guard", "row", row, "error", err)
		return
	}
	s.logger.Debug("loop guard set", "row", row, "ttl", s.loopTTL)
}

// IsMarkedFromCRM reports whether the loop guard for row is active.
func (s *Service) IsMarkedFromCRM(ctx context.Context, row int) bool {
	if s.store == nil {
		return false
	}
	exists, err := s.store.Exists(ctx, inboundKey(row))
	if err != nil {
		s.logger.Warn("failed to check loop guard", "row", row, "error", err)
		return false
	}
	return exists
}

// IsCreationLocked reports whether another flow is creating a lead for row.
func (s *Service) IsCreationLocked(ctx context.Context, row int) bool {
	if s.store == nil {
		return false
	}
	exists, err := s.store.Exists(ctx, creationKey(row))
	if err != nil {
		s.logger.Warn("failed to check creation lock", "row", row, "error", err)
		return false
	}
	return exists
}

// TryAcquireCreationLock claims the creation lock for row. It returns false
// only when another holder owns it; store failures grant the claim
// unprotected.
func (s *Service) TryAcquireCreationLock(ctx context.Context, row int) bool {
	if s.store == nil {
		return true
	}
	ok, err := s.store.SetNX(ctx, creationKey(row), marker, s.creationTTL)
	if err != nil {
		s.logger.Warn("failed to acquire creation lock, continuing unprotected", "row", row, "error", err)
		return true
	}
	if ok {
		s.logger.Debug("creation lock acquired", "row", row, "ttl", s.creationTTL)
	}
	return ok
}

// ReleaseCreationLock drops the creation lock. Releasing an expired or
// missing lock is fine.
func (s *Service) ReleaseCreationLock(ctx context.Context, row int) {
	if s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, creationKey(row)); err != nil {
		s.logger.Warn("failed to release creation lock", "row", row, "error", err)
		return
	}
	s.logger.Debug("creation lock released", "row", row)
}

func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
