package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLocked is returned when another owner holds an unexpired lock.
var ErrLocked = errors.New("lock held by another owner")

// LockInfo describes the current holder of a lock.
type LockInfo struct {
	Name       string `json:"name"`
	Owner      string `json:"owner"`
	AcquiredAt string `json:"acquired_at"`
	ExpiresAt  string `json:"expires_at"`
}

// AcquireLock takes the advisory lock name for owner until ttl elapses.
// An expired lock is taken over. Re-acquiring a lock already held by owner
// extends it. Otherwise ErrLocked is returned.
func (s *Store) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) error {
	now := s.now().UTC()
	nowText := now.Format(timeLayout)
	expires := now.Add(ttl).Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("acquire lock: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM ingest_lock WHERE name = ? AND expires_at <= ?
	`, name, nowText); err != nil {
		return fmt.Errorf("acquire lock: expire: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ingest_lock (name, owner, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET expires_at = excluded.expires_at
		WHERE ingest_lock.owner = excluded.owner
	`, name, owner, nowText, expires)
	if err != nil {
		return fmt.Errorf("acquire lock: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquire lock: rows affected: %w", err)
	}
	if n == 0 {
		var holder string
		if err := tx.QueryRowContext(ctx, `SELECT owner FROM ingest_lock WHERE name = ?`, name).Scan(&holder); err != nil {
			return fmt.Errorf("acquire lock: read holder: %w", err)
		}
		return fmt.Errorf("acquire lock %q: %w (%s)", name, ErrLocked, holder)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("acquire lock: commit: %w", err)
	}
	return nil
}

// ReleaseLock releases name if owner holds it. Releasing a lock held by
// someone else, or not held at all, is a no-op.
func (s *Store) ReleaseLock(ctx context.Context, name, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM ingest_lock WHERE name = ? AND owner = ?
	`, name, owner)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// ReadLock returns the current holder of name, or nil when unlocked.
// Expired locks are reported as they are stored.
func (s *Store) ReadLock(ctx context.Context, name string) (*LockInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, owner, acquired_at, expires_at FROM ingest_lock
		WHERE name = ?
		ORDER BY name COLLATE BINARY ASC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("read lock: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var info LockInfo
	if err := rows.Scan(&info.Name, &info.Owner, &info.AcquiredAt, &info.ExpiresAt); err != nil {
		return nil, fmt.Errorf("scan lock: %w", err)
	}
	return &info, nil
}
