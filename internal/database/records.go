package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"channelsync/internal/models"
)

const recordColumns = `id, integration_id, entity, external_id, payload, checksum, deleted, updated_at`

// GetRecord returns nil without error when the record was never imported.
func (db *DB) GetRecord(ctx context.Context, integrationID int64, entity, externalID string) (*models.Record, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM integration_records WHERE integration_id = ? AND entity = ? AND external_id = ?`,
		integrationID, entity, externalID,
	)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

// SaveRecords upserts a batch in one transaction.
func (db *DB) SaveRecords(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO integration_records (integration_id, entity, external_id, payload, checksum, deleted, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(integration_id, entity, external_id) DO UPDATE SET
             payload = excluded.payload,
             checksum = excluded.checksum,
             deleted = excluded.deleted,
             updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare record upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range records {
		r := &records[i]
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, r.IntegrationID, r.Entity, r.ExternalID, r.Payload, r.Checksum, r.Deleted, r.UpdatedAt); err != nil {
			return fmt.Errorf("failed to save record %s/%s: %w", r.Entity, r.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}

// ListRecords returns live records of an entity, optionally restricted to externalIDs.
func (db *DB) ListRecords(ctx context.Context, integrationID int64, entity string, externalIDs []string) ([]models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM integration_records WHERE integration_id = ? AND entity = ? AND deleted = 0`
	args := []interface{}{integrationID, entity}
	if len(externalIDs) > 0 {
		query += ` AND external_id IN (?` + strings.Repeat(", ?", len(externalIDs)-1) + `)`
		for _, id := range externalIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func (db *DB) CountRecords(ctx context.Context, integrationID int64, entity string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM integration_records WHERE integration_id = ? AND entity = ? AND deleted = 0`,
		integrationID, entity,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var r models.Record
	err := row.Scan(&r.ID, &r.IntegrationID, &r.Entity, &r.ExternalID, &r.Payload, &r.Checksum, &r.Deleted, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	return &r, nil
}
