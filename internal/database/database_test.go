package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"channelsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	return db
}

func seedIntegration(t *testing.T, db *DB, name string, enabled bool) *models.Integration {
	t.Helper()
	integration := &models.Integration{
		Name:       name,
		Type:       "rest",
		Enabled:    enabled,
		Connectors: []string{"customers", "orders"},
		Transport: &models.Transport{
			Type:     "rest_api",
			Settings: models.Settings{"base_url": "http://example.test", "page_size": float64(50)},
		},
	}
	require.NoError(t, db.CreateIntegration(context.Background(), integration))
	return integration
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_NilLogger(t *testing.T) {
	db, err := NewDB(":memory:", nil)
	require.NoError(t, err)
	defer db.Close()
	assert.NoError(t, db.Ping())
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "a.db?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", dsn("a.db"))
	assert.Equal(t, "a.db?mode=rwc&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", dsn("a.db?mode=rwc"))
}

func TestIntegrationCRUD(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	created := seedIntegration(t, db, "shop", true)
	require.NotZero(t, created.ID)
	require.NotZero(t, created.Transport.ID)
	assert.Equal(t, created.ID, created.Transport.IntegrationID)

	t.Run("GetByID", func(t *testing.T) {
		got, err := db.GetIntegration(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "shop", got.Name)
		assert.Equal(t, []string{"customers", "orders"}, got.Connectors)
		require.NotNil(t, got.Transport)
		assert.Equal(t, "rest_api", got.Transport.Type)
		assert.Equal(t, "http://example.test", got.Transport.Settings.GetString("base_url"))
		assert.Equal(t, int64(50), got.Transport.Settings.GetInt64("page_size"))
		assert.Nil(t, got.Transport.LastSyncDate)
	})

	t.Run("GetByName", func(t *testing.T) {
		got, err := db.GetIntegrationByName(ctx, "shop")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)

		_, err = db.GetIntegrationByName(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Update", func(t *testing.T) {
		got, err := db.GetIntegration(ctx, created.ID)
		require.NoError(t, err)
		got.Connectors = []string{"orders"}
		got.Transport.Settings["page_size"] = float64(10)
		got.Transport.ID = 0
		require.NoError(t, db.UpdateIntegration(ctx, got))
		assert.Equal(t, created.Transport.ID, got.Transport.ID)
		assert.Equal(t, created.ID, got.Transport.IntegrationID)

		updated, err := db.GetIntegration(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"orders"}, updated.Connectors)
		assert.Equal(t, int64(10), updated.Transport.Settings.GetInt64("page_size"))
	})

	t.Run("DuplicateName", func(t *testing.T) {
		err := db.CreateIntegration(ctx, &models.Integration{Name: "shop", Type: "rest"})
		assert.Error(t, err)
	})

	t.Run("LastSyncDate", func(t *testing.T) {
		at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, db.UpdateLastSyncDate(ctx, created.ID, at))

		got, err := db.GetIntegration(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Transport.LastSyncDate)
		assert.True(t, at.Equal(*got.Transport.LastSyncDate))
	})
}

func TestConfiguredForSync(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	enabled := seedIntegration(t, db, "enabled", true)
	seedIntegration(t, db, "disabled", false)
	require.NoError(t, db.CreateIntegration(ctx, &models.Integration{Name: "no-transport", Type: "rest", Enabled: true}))

	list, err := db.ConfiguredForSync(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, enabled.ID, list[0].ID)

	list, err = db.ConfiguredForSync(ctx, "sheets")
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, db.SetIntegrationEnabled(ctx, enabled.ID, false))
	list, err = db.ConfiguredForSync(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSyncIntegrations_UpsertsByName(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seed := []models.Integration{
		{Name: "a", Type: "rest", Enabled: true, Connectors: []string{"customers"}},
		{Name: "b", Type: "sheets", Enabled: false},
	}
	require.NoError(t, db.SyncIntegrations(ctx, seed))

	seed[0].Connectors = []string{"customers", "orders"}
	require.NoError(t, db.SyncIntegrations(ctx, seed))

	all, err := db.ListIntegrations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	a, err := db.GetIntegrationByName(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, a.Connectors)
}

func TestDeleteIntegration_Cascades(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	integration := seedIntegration(t, db, "shop", true)
	require.NoError(t, db.AddStatus(ctx, &models.Status{IntegrationID: integration.ID, Connector: "customers", Code: models.StatusCompleted}))
	require.NoError(t, db.SaveRecords(ctx, []models.Record{{IntegrationID: integration.ID, Entity: "customer", ExternalID: "1", Payload: "{}", Checksum: "x"}}))

	require.NoError(t, db.DeleteIntegration(ctx, integration.ID))

	_, err := db.GetIntegration(ctx, integration.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM integration_transports`).Scan(&count))
	assert.Zero(t, count)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM integration_statuses`).Scan(&count))
	assert.Zero(t, count)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM integration_records`).Scan(&count))
	assert.Zero(t, count)
}

func TestStatuses(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	integration := seedIntegration(t, db, "shop", true)

	base := time.Now().UTC().Add(-time.Hour)
	for i, code := range []string{models.StatusFailed, models.StatusCompleted} {
		require.NoError(t, db.AddStatus(ctx, &models.Status{
			IntegrationID: integration.ID,
			Connector:     "customers",
			Code:          code,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	statuses, err := db.GetStatuses(ctx, integration.ID, 10)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, models.StatusCompleted, statuses[0].Code)

	last, err := db.LastStatus(ctx, integration.ID, "customers")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, last.Code)

	_, err = db.LastStatus(ctx, integration.ID, "orders")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecords(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	integration := seedIntegration(t, db, "shop", true)

	records := []models.Record{
		{IntegrationID: integration.ID, Entity: "customer", ExternalID: "1", Payload: `{"n":1}`, Checksum: "a"},
		{IntegrationID: integration.ID, Entity: "customer", ExternalID: "2", Payload: `{"n":2}`, Checksum: "b"},
	}
	require.NoError(t, db.SaveRecords(ctx, records))

	got, err := db.GetRecord(ctx, integration.ID, "customer", "1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.Checksum)

	missing, err := db.GetRecord(ctx, integration.ID, "customer", "404")
	require.NoError(t, err)
	assert.Nil(t, missing)

	records[0].Checksum = "a2"
	records[1].Deleted = true
	require.NoError(t, db.SaveRecords(ctx, records))

	live, err := db.ListRecords(ctx, integration.ID, "customer", nil)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "a2", live[0].Checksum)

	filtered, err := db.ListRecords(ctx, integration.ID, "customer", []string{"2", "3"})
	require.NoError(t, err)
	assert.Empty(t, filtered)

	count, err := db.CountRecords(ctx, integration.ID, "customer")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestJobLocks(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	ok, err := db.AcquireJobLock(ctx, "job:1", "owner-a", "token-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.AcquireJobLock(ctx, "job:1", "owner-b", "token-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not acquire a live lock")

	owner, held, err := db.JobLockOwner(ctx, "job:1")
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, "owner-a", owner)

	refreshed, err := db.RefreshJobLock(ctx, "job:1", "token-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, refreshed)

	require.NoError(t, db.ReleaseJobLock(ctx, "job:1", "token-b"))
	_, held, _ = db.JobLockOwner(ctx, "job:1")
	assert.True(t, held, "release with foreign token is a no-op")

	require.NoError(t, db.ReleaseJobLock(ctx, "job:1", "token-a"))
	_, held, _ = db.JobLockOwner(ctx, "job:1")
	assert.False(t, held)

	t.Run("ExpiredLockIsReclaimed", func(t *testing.T) {
		ok, err := db.AcquireJobLock(ctx, "job:2", "owner-a", "t1", -time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = db.AcquireJobLock(ctx, "job:2", "owner-b", "t2", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
