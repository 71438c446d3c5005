package catalog

import (
	"context"
	"fmt"
	"time"
)

// TryAcquireLock attempts to take the advisory lock for jobName, used by
// C6's leader election so a scheduled job runs at-most-once per instant
// across however many process instances share this catalog database.
//
// A lock is acquirable if no row exists for jobName, or the existing row's
// expires_at has passed. On success the row is (re)written with a fresh
// expires_at = now + ttl.
func (s *Store) TryAcquireLock(ctx context.Context, jobName, holder string, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning lock transaction for %q: %w", jobName, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var expiresAt string
	err = tx.QueryRowContext(ctx, `SELECT expires_at FROM job_locks WHERE job_name = ?`, jobName).Scan(&expiresAt)
	now := time.Now().UTC()
	held := err == nil && parseTime(expiresAt).After(now)
	if held {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_locks (job_name, holder, acquired_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(job_name) DO UPDATE SET
		    holder      = excluded.holder,
		    acquired_at = excluded.acquired_at,
		    expires_at  = excluded.expires_at`,
		jobName, holder, formatTime(now), formatTime(now.Add(ttl)))
	if err != nil {
		return false, fmt.Errorf("acquiring lock %q: %w", jobName, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing lock acquisition for %q: %w", jobName, err)
	}
	return true, nil
}

// ReleaseLock drops the advisory lock early, e.g. after a job completes
// well before its TTL expires.
func (s *Store) ReleaseLock(ctx context.Context, jobName, holder string) error {
	_, err := s.exec(ctx, `DELETE FROM job_locks WHERE job_name = ? AND holder = ?`, jobName, holder)
	if err != nil {
		return fmt.Errorf("releasing lock %q: %w", jobName, err)
	}
	return nil
}
