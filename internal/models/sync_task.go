package models

import "time"

// SyncTask is a queued message persisted in sync_queue.
type SyncTask struct {
	ID            int64      `json:"id"`
	MessageID     string     `json:"message_id"`
	Topic         string     `json:"topic"`
	IntegrationID int64      `json:"integration_id"`
	Payload       string     `json:"payload"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     *string    `json:"last_error"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	NextRetryAt   *time.Time `json:"next_retry_at"`
}
