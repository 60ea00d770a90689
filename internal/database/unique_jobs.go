package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AcquireJobLock inserts the active-job row for jobName unless a live one exists.
// Expired rows are reclaimed in the same transaction.
func (db *DB) AcquireJobLock(ctx context.Context, jobName, ownerID, token string, ttl time.Duration) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `DELETE FROM unique_jobs WHERE job_name = ? AND expires_at <= ?`, jobName, now.UnixMilli()); err != nil {
		return false, fmt.Errorf("failed to reclaim expired job lock: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO unique_jobs (job_name, owner_id, token, acquired_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		jobName, ownerID, token, now.UnixMilli(), now.Add(ttl).UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert job lock: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit job lock: %w", err)
	}
	return inserted == 1, nil
}

// RefreshJobLock extends the lease if token still holds the lock.
func (db *DB) RefreshJobLock(ctx context.Context, jobName, token string, ttl time.Duration) (bool, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE unique_jobs SET expires_at = ? WHERE job_name = ? AND token = ?`,
		time.Now().Add(ttl).UnixMilli(), jobName, token,
	)
	if err != nil {
		return false, fmt.Errorf("failed to refresh job lock: %w", err)
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

func (db *DB) ReleaseJobLock(ctx context.Context, jobName, token string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM unique_jobs WHERE job_name = ? AND token = ?`, jobName, token)
	if err != nil {
		return fmt.Errorf("failed to release job lock: %w", err)
	}
	return nil
}

// JobLockOwner returns the owner of a live lock.
func (db *DB) JobLockOwner(ctx context.Context, jobName string) (string, bool, error) {
	var owner string
	err := db.QueryRowContext(ctx,
		`SELECT owner_id FROM unique_jobs WHERE job_name = ? AND expires_at > ?`,
		jobName, time.Now().UnixMilli(),
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get job lock owner: %w", err)
	}
	return owner, true, nil
}
