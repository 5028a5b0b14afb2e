// ABOUTME: SQLite-backed lock store for single-node deployments
// ABOUTME: Implements conditional set, exists and delete with expiry timestamps
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LockStore keeps sync locks in the sync_locks table. Expired rows are
// ignored by reads and replaced by writes.
type LockStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewLockStore(db *sql.DB) *LockStore {
	return &LockStore{db: db, now: time.Now}
}

func (s *LockStore) SetNX(ctx context.Context, key, _ string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_locks (key, expires_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at
		WHERE sync_locks.expires_at <= ?
	`, key, now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *LockStore) Set(ctx context.Context, key, _ string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_locks (key, expires_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at
	`, key, s.now().Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("failed to set lock %s: %w", key, err)
	}
	return nil
}

func (s *LockStore) Exists(ctx context.Context, key string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_locks WHERE key = ? AND expires_at > ?
	`, key, s.now().UnixNano()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check lock %s: %w", key, err)
	}
	return count > 0, nil
}

func (s *LockStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_locks WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete lock %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the database handle belongs to the caller.
func (s *LockStore) Close() error {
	return nil
}

// PurgeExpiredLocks removes lock rows whose TTL has passed.
func (s *LockStore) PurgeExpiredLocks(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_locks WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired locks: %w", err)
	}
	return res.RowsAffected()
}
