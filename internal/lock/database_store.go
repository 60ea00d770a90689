package lock

import (
	"context"
	"time"
)

// JobLockTable is the SQL side of DatabaseStore, implemented by *database.DB.
type JobLockTable interface {
	AcquireJobLock(ctx context.Context, jobName, ownerID, token string, ttl time.Duration) (bool, error)
	RefreshJobLock(ctx context.Context, jobName, token string, ttl time.Duration) (bool, error)
	ReleaseJobLock(ctx context.Context, jobName, token string) error
	JobLockOwner(ctx context.Context, jobName string) (string, bool, error)
}

// DatabaseStore keeps leases in the unique_jobs table; the primary key on
// job_name serializes acquirers across processes sharing the database file.
type DatabaseStore struct {
	table JobLockTable
}

func NewDatabaseStore(table JobLockTable) *DatabaseStore {
	return &DatabaseStore{table: table}
}

func (s *DatabaseStore) Acquire(ctx context.Context, jobName, ownerID, token string, ttl time.Duration) (bool, error) {
	return s.table.AcquireJobLock(ctx, jobName, ownerID, token, ttl)
}

func (s *DatabaseStore) Refresh(ctx context.Context, jobName, token string, ttl time.Duration) (bool, error) {
	return s.table.RefreshJobLock(ctx, jobName, token, ttl)
}

func (s *DatabaseStore) Release(ctx context.Context, jobName, token string) error {
	return s.table.ReleaseJobLock(ctx, jobName, token)
}

func (s *DatabaseStore) Owner(ctx context.Context, jobName string) (string, bool, error) {
	return s.table.JobLockOwner(ctx, jobName)
}
