package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"channelsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pageReader struct {
	pages [][]Item
	err   error
	calls int
}

func (r *pageReader) Read(_ context.Context) ([]Item, error) {
	r.calls++
	if len(r.pages) == 0 {
		return nil, r.err
	}
	page := r.pages[0]
	r.pages = r.pages[1:]
	return page, nil
}

type memoryStore struct {
	mu      sync.Mutex
	records map[string]models.Record
	writes  int
	failOn  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]models.Record)}
}

func (s *memoryStore) GetRecord(_ context.Context, _ int64, entity, externalID string) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[entity+"/"+externalID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *memoryStore) SaveRecords(_ context.Context, records []models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failOn > 0 && s.writes == s.failOn {
		return errors.New("disk full")
	}
	for _, r := range records {
		s.records[r.Entity+"/"+r.ExternalID] = r
	}
	return nil
}

func item(id string, payload string) Item {
	return Item{ExternalID: id, Payload: json.RawMessage(payload)}
}

func TestExecuteJob_ImportClassifiesAndWrites(t *testing.T) {
	store := newMemoryStore()
	store.records["customer/1"] = models.Record{Entity: "customer", ExternalID: "1", Checksum: Checksum([]byte(`{"v":1}`))}
	store.records["customer/2"] = models.Record{Entity: "customer", ExternalID: "2", Checksum: "stale"}
	store.records["customer/3"] = models.Record{Entity: "customer", ExternalID: "3", Checksum: "x"}
	store.records["customer/4"] = models.Record{Entity: "customer", ExternalID: "4", Checksum: "x", Deleted: true}

	reader := &pageReader{pages: [][]Item{
		{item("1", `{"v":1}`), item("2", `{"v":2}`), {ExternalID: "3", Deleted: true}},
		{item("4", `{"v":4}`), item("5", `{"v":5}`), item("", `{}`), item("6", `not json`)},
	}}

	executor := NewExecutor(nil, nil)
	result := executor.ExecuteJob(context.Background(), ModeImport, "customer_import", Config{
		IntegrationID:  1,
		Entity:         "customer",
		ProcessorAlias: DefaultProcessorAlias,
		Reader:         reader,
		Store:          store,
		BatchSize:      2,
	})

	require.True(t, result.Successful, result.Failures)
	assert.Equal(t, Counts{Read: 7, Add: 1, Update: 1, Replace: 1, Delete: 1, Skip: 1, ErrorEntries: 2}, result.Counts)
	assert.Len(t, result.ContextErrors, 2)
	assert.Empty(t, result.Failures)

	assert.True(t, store.records["customer/3"].Deleted)
	assert.False(t, store.records["customer/4"].Deleted)
	assert.Contains(t, store.records, "customer/5")
	assert.Equal(t, 2, store.writes)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))
}

func TestExecuteJob_ValidationNeverWrites(t *testing.T) {
	store := newMemoryStore()
	reader := &pageReader{pages: [][]Item{{item("1", `{}`), item("2", `{}`)}}}

	result := NewExecutor(nil, nil).ExecuteJob(context.Background(), ModeImportValidation, "customer_import_validation", Config{
		Entity:         "customer",
		ProcessorAlias: DefaultProcessorAlias,
		Reader:         reader,
		Store:          store,
		BatchSize:      1,
	})

	require.True(t, result.Successful)
	assert.Equal(t, 2, result.Counts.Add)
	assert.Zero(t, store.writes)
	assert.Empty(t, store.records)
}

func TestExecuteJob_Failures(t *testing.T) {
	t.Run("ReaderError", func(t *testing.T) {
		reader := &pageReader{pages: [][]Item{{item("1", `{}`)}}, err: errors.New("timeout")}
		result := NewExecutor(nil, nil).ExecuteJob(context.Background(), ModeImport, "j", Config{
			ProcessorAlias: DefaultProcessorAlias, Reader: reader, Store: newMemoryStore(), BatchSize: 10,
		})
		assert.False(t, result.Successful)
		require.Len(t, result.Failures, 1)
		assert.Contains(t, result.Failures[0], "timeout")
		assert.Equal(t, 1, result.Counts.Add)
	})

	t.Run("WriterError", func(t *testing.T) {
		store := newMemoryStore()
		store.failOn = 1
		reader := &pageReader{pages: [][]Item{{item("1", `{}`)}}}
		result := NewExecutor(nil, nil).ExecuteJob(context.Background(), ModeImport, "j", Config{
			ProcessorAlias: DefaultProcessorAlias, Reader: reader, Store: store,
		})
		assert.False(t, result.Successful)
		require.Len(t, result.Failures, 1)
		assert.Contains(t, result.Failures[0], "disk full")
	})

	t.Run("UnknownProcessor", func(t *testing.T) {
		result := NewExecutor(nil, nil).ExecuteJob(context.Background(), ModeImport, "j", Config{
			ProcessorAlias: "nope", Reader: &pageReader{}, Store: newMemoryStore(),
		})
		assert.False(t, result.Successful)
		assert.Contains(t, result.Failures[0], "unknown processor alias")
	})

	t.Run("NotConfigured", func(t *testing.T) {
		result := NewExecutor(nil, nil).ExecuteJob(context.Background(), ModeImport, "j", Config{})
		assert.False(t, result.Successful)
		assert.Len(t, result.Failures, 1)
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result := NewExecutor(nil, nil).ExecuteJob(ctx, ModeImport, "j", Config{
			ProcessorAlias: DefaultProcessorAlias, Reader: &pageReader{}, Store: newMemoryStore(),
		})
		assert.False(t, result.Successful)
	})
}

func TestProcessorRegistry(t *testing.T) {
	registry := NewProcessorRegistry()
	registry.Register("order_import", "order", NewRecordProcessor)

	assert.Equal(t, []string{"order_import", DefaultProcessorAlias}, registry.ProcessorAliasesByEntity("order"))
	assert.Equal(t, []string{DefaultProcessorAlias}, registry.ProcessorAliasesByEntity("customer"))

	_, err := registry.New("missing", Config{})
	assert.ErrorIs(t, err, ErrUnknownProcessor)
}

func TestAction_String(t *testing.T) {
	for action, want := range map[Action]string{
		ActionAdd: "add", ActionUpdate: "update", ActionReplace: "replace", ActionDelete: "delete", ActionSkip: "skip",
	} {
		assert.Equal(t, want, action.String(), fmt.Sprint(int(action)))
	}
}
