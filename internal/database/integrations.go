package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"channelsync/internal/models"
)

const integrationColumns = `id, name, type, enabled, created_at, updated_at`

// CreateIntegration inserts the integration with its connectors and transport.
func (db *DB) CreateIntegration(ctx context.Context, integration *models.Integration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO integrations (name, type, enabled, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		integration.Name, integration.Type, integration.Enabled, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create integration: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	if err := replaceConnectors(ctx, tx, id, integration.Connectors); err != nil {
		return err
	}
	if integration.Transport != nil {
		if err := upsertTransport(ctx, tx, id, integration.Transport); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit integration: %w", err)
	}

	integration.ID = id
	integration.CreatedAt = now
	integration.UpdatedAt = now
	return nil
}

// SyncIntegrations upserts the configured integrations by name. The transport
// last sync date survives re-seeding.
func (db *DB) SyncIntegrations(ctx context.Context, integrations []models.Integration) error {
	for i := range integrations {
		integration := integrations[i]
		existing, err := db.GetIntegrationByName(ctx, integration.Name)
		if errors.Is(err, ErrNotFound) {
			if err := db.CreateIntegration(ctx, &integration); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		integration.ID = existing.ID
		if err := db.UpdateIntegration(ctx, &integration); err != nil {
			return err
		}
	}
	return nil
}

// UpdateIntegration rewrites type, enabled flag, connectors and transport settings.
func (db *DB) UpdateIntegration(ctx context.Context, integration *models.Integration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE integrations SET name = ?, type = ?, enabled = ?, updated_at = ? WHERE id = ?`,
		integration.Name, integration.Type, integration.Enabled, now, integration.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update integration: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("integration %d: %w", integration.ID, ErrNotFound)
	}

	if err := replaceConnectors(ctx, tx, integration.ID, integration.Connectors); err != nil {
		return err
	}
	if integration.Transport != nil {
		if err := upsertTransport(ctx, tx, integration.ID, integration.Transport); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit integration: %w", err)
	}
	integration.UpdatedAt = now
	return nil
}

func replaceConnectors(ctx context.Context, tx *sql.Tx, integrationID int64, connectors []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM integration_connectors WHERE integration_id = ?`, integrationID); err != nil {
		return fmt.Errorf("failed to clear connectors: %w", err)
	}
	for pos, connector := range connectors {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO integration_connectors (integration_id, position, connector) VALUES (?, ?, ?)`,
			integrationID, pos, connector,
		)
		if err != nil {
			return fmt.Errorf("failed to add connector %s: %w", connector, err)
		}
	}
	return nil
}

func upsertTransport(ctx context.Context, tx *sql.Tx, integrationID int64, transport *models.Transport) error {
	settings := transport.Settings
	if settings == nil {
		settings = models.Settings{}
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode transport settings: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO integration_transports (integration_id, type, settings) VALUES (?, ?, ?)
         ON CONFLICT(integration_id) DO UPDATE SET type = excluded.type, settings = excluded.settings`,
		integrationID, transport.Type, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to save transport: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM integration_transports WHERE integration_id = ?`, integrationID,
	).Scan(&id); err != nil {
		return fmt.Errorf("failed to read transport id: %w", err)
	}
	transport.ID = id
	transport.IntegrationID = integrationID
	return nil
}

func (db *DB) GetIntegration(ctx context.Context, id int64) (*models.Integration, error) {
	row := db.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id)
	integration, err := scanIntegration(row)
	if err != nil {
		return nil, err
	}
	return db.loadRelations(ctx, integration)
}

func (db *DB) GetIntegrationByName(ctx context.Context, name string) (*models.Integration, error) {
	row := db.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE name = ?`, name)
	integration, err := scanIntegration(row)
	if err != nil {
		return nil, err
	}
	return db.loadRelations(ctx, integration)
}

func (db *DB) ListIntegrations(ctx context.Context) ([]*models.Integration, error) {
	return db.queryIntegrations(ctx, `SELECT `+integrationColumns+` FROM integrations ORDER BY id`)
}

// ConfiguredForSync returns enabled integrations that have a transport,
// optionally narrowed to one type.
func (db *DB) ConfiguredForSync(ctx context.Context, integrationType string) ([]*models.Integration, error) {
	query := `SELECT i.id, i.name, i.type, i.enabled, i.created_at, i.updated_at
              FROM integrations i
              JOIN integration_transports t ON t.integration_id = i.id
              WHERE i.enabled = 1`
	args := []interface{}{}
	if integrationType != "" {
		query += ` AND i.type = ?`
		args = append(args, integrationType)
	}
	query += ` ORDER BY i.id`
	return db.queryIntegrations(ctx, query, args...)
}

func (db *DB) queryIntegrations(ctx context.Context, query string, args ...interface{}) ([]*models.Integration, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query integrations: %w", err)
	}

	var integrations []*models.Integration
	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		integrations = append(integrations, integration)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// relations are loaded after the cursor is closed: the pool holds one connection
	for _, integration := range integrations {
		if _, err := db.loadRelations(ctx, integration); err != nil {
			return nil, err
		}
	}
	return integrations, nil
}

func (db *DB) SetIntegrationEnabled(ctx context.Context, id int64, enabled bool) error {
	result, err := db.ExecContext(ctx, `UPDATE integrations SET enabled = ?, updated_at = ? WHERE id = ?`, enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update integration: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("integration %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteIntegration removes the integration; transport, connectors, statuses
// and records cascade.
func (db *DB) DeleteIntegration(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `DELETE FROM integrations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}
	return nil
}

// UpdateLastSyncDate stores the transport's last sync moment in a single statement.
func (db *DB) UpdateLastSyncDate(ctx context.Context, integrationID int64, at time.Time) error {
	result, err := db.ExecContext(ctx,
		`UPDATE integration_transports SET last_sync_date = ? WHERE integration_id = ?`,
		at.UTC(), integrationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update last sync date: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("transport of integration %d: %w", integrationID, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntegration(row rowScanner) (*models.Integration, error) {
	var i models.Integration
	err := row.Scan(&i.ID, &i.Name, &i.Type, &i.Enabled, &i.CreatedAt, &i.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan integration: %w", err)
	}
	return &i, nil
}

func (db *DB) loadRelations(ctx context.Context, integration *models.Integration) (*models.Integration, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT connector FROM integration_connectors WHERE integration_id = ? ORDER BY position`, integration.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get connectors: %w", err)
	}
	integration.Connectors = nil
	for rows.Next() {
		var connector string
		if err := rows.Scan(&connector); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan connector: %w", err)
		}
		integration.Connectors = append(integration.Connectors, connector)
	}
	rows.Close()

	var (
		transport models.Transport
		settings  string
	)
	err = db.QueryRowContext(ctx,
		`SELECT id, integration_id, type, settings, last_sync_date FROM integration_transports WHERE integration_id = ?`,
		integration.ID,
	).Scan(&transport.ID, &transport.IntegrationID, &transport.Type, &settings, &transport.LastSyncDate)
	if errors.Is(err, sql.ErrNoRows) {
		integration.Transport = nil
		return integration, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transport: %w", err)
	}
	if err := json.Unmarshal([]byte(settings), &transport.Settings); err != nil {
		return nil, fmt.Errorf("decode transport settings: %w", err)
	}
	integration.Transport = &transport
	return integration, nil
}
