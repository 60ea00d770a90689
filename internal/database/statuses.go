package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"channelsync/internal/models"
)

// AddStatus appends a status record; statuses are never updated.
func (db *DB) AddStatus(ctx context.Context, status *models.Status) error {
	if status.CreatedAt.IsZero() {
		status.CreatedAt = time.Now().UTC()
	}
	result, err := db.ExecContext(ctx,
		`INSERT INTO integration_statuses (integration_id, connector, code, message, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		status.IntegrationID, status.Connector, status.Code, status.Message, status.Data, status.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add status: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	status.ID = id
	return nil
}

// GetStatuses returns the newest statuses first.
func (db *DB) GetStatuses(ctx context.Context, integrationID int64, limit int) ([]models.Status, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, integration_id, connector, code, message, data, created_at
         FROM integration_statuses WHERE integration_id = ?
         ORDER BY created_at DESC, id DESC LIMIT ?`,
		integrationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get statuses: %w", err)
	}
	defer rows.Close()

	var statuses []models.Status
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *s)
	}
	return statuses, rows.Err()
}

// LastStatus returns the newest status of a connector.
func (db *DB) LastStatus(ctx context.Context, integrationID int64, connector string) (*models.Status, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, integration_id, connector, code, message, data, created_at
         FROM integration_statuses WHERE integration_id = ? AND connector = ?
         ORDER BY created_at DESC, id DESC LIMIT 1`,
		integrationID, connector,
	)
	s, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func scanStatus(row rowScanner) (*models.Status, error) {
	var (
		s             models.Status
		message, data sql.NullString
	)
	if err := row.Scan(&s.ID, &s.IntegrationID, &s.Connector, &s.Code, &message, &data, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan status: %w", err)
	}
	s.Message = message.String
	s.Data = data.String
	return &s, nil
}
