package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"channelsync/internal/config"
	"channelsync/internal/database"
	"channelsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) ScheduleSync(ctx context.Context, integrationID int64, connector string, params map[string]interface{}, transportBatchSize int) (string, error) {
	args := m.Called(ctx, integrationID, connector, params, transportBatchSize)
	return args.String(0), args.Error(1)
}

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *database.DB, name, typ string, enabled, withTransport bool) *models.Integration {
	t.Helper()
	integration := &models.Integration{Name: name, Type: typ, Enabled: enabled, Connectors: []string{"orders"}}
	if withTransport {
		integration.Transport = &models.Transport{Type: "rest", Settings: models.Settings{"url": "http://x"}}
	}
	require.NoError(t, db.CreateIntegration(context.Background(), integration))
	return integration
}

func TestScheduler_EnqueueAll(t *testing.T) {
	db := setupDB(t)
	a := seed(t, db, "a", "crm", true, true)
	b := seed(t, db, "b", "crm", true, true)
	seed(t, db, "off", "crm", false, true)
	seed(t, db, "bare", "crm", true, false)
	seed(t, db, "sheet", "spreadsheet", true, true)

	d := new(mockDispatcher)
	d.On("ScheduleSync", mock.Anything, a.ID, "", map[string]interface{}(nil), 0).Return("m1", nil).Once()
	d.On("ScheduleSync", mock.Anything, b.ID, "", map[string]interface{}(nil), 0).Return("", errors.New("redis down")).Once()

	s := New(config.SchedulerConfig{Cron: "* * * * *", IntegrationType: "crm"}, db, d, nil)
	n, err := s.EnqueueAll(context.Background())
	assert.Equal(t, 1, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integration b: redis down")
	d.AssertExpectations(t)
}

func TestScheduler_StartRejectsBadCron(t *testing.T) {
	s := New(config.SchedulerConfig{Cron: "not a cron"}, setupDB(t), new(mockDispatcher), nil)
	assert.Error(t, s.Start(context.Background()))
}

func TestScheduler_StartStopsWithContext(t *testing.T) {
	s := New(config.SchedulerConfig{Cron: "*/5 * * * *"}, setupDB(t), new(mockDispatcher), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
