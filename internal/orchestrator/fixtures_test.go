package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"channelsync/internal/database"
	"channelsync/internal/events"
	"channelsync/internal/job"
	"channelsync/internal/lock"
	"channelsync/internal/models"
	"channelsync/internal/registry"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testType = "T"

type namedType struct{ name string }

func (n namedType) Name() string  { return n.name }
func (n namedType) Label() string { return n.name }

type fakeTransport struct{}

func (fakeTransport) Init(_ context.Context, settings models.Settings) (bool, error) {
	if settings.GetString("fail") != "" {
		return false, nil
	}
	return true, nil
}

func (fakeTransport) Call(context.Context, string, map[string]interface{}) ([]byte, error) {
	return []byte(`{}`), nil
}

type fakeTransportType struct{ namedType }

func (fakeTransportType) New() registry.Transport { return fakeTransport{} }
func (fakeTransportType) SupportsSettings(*models.Transport) bool { return true }

type sliceReader struct {
	items []job.Item
	done  bool
}

func (r *sliceReader) Read(context.Context) ([]job.Item, error) {
	if r.done {
		return nil, nil
	}
	r.done = true
	return r.items, nil
}

type oneWayConnector struct {
	namedType
	entity  string
	items   []job.Item
	readers int32
}

func (c *oneWayConnector) ImportEntity() string { return c.entity }

func (c *oneWayConnector) ImportJobName(validation bool) string {
	if validation {
		return c.name + "_import_validation"
	}
	return c.name + "_import"
}

func (c *oneWayConnector) NewReader(context.Context, registry.Transport, models.Settings, registry.ReaderOptions) (job.Reader, error) {
	atomic.AddInt32(&c.readers, 1)
	return &sliceReader{items: c.items}, nil
}

type twoWayConnector struct {
	oneWayConnector
	mu       sync.Mutex
	exports  int
	exported [][]models.Record
	block    chan struct{}
	started  chan struct{}
	err      error
	errs     []string
}

func (c *twoWayConnector) Export(_ context.Context, _ registry.Transport, _ models.Settings, records []models.Record, _ map[string]interface{}) (*registry.ExportResult, error) {
	c.mu.Lock()
	c.exports++
	c.exported = append(c.exported, records)
	c.mu.Unlock()
	if c.started != nil {
		close(c.started)
	}
	if c.block != nil {
		<-c.block
	}
	if c.err != nil {
		return nil, c.err
	}
	return &registry.ExportResult{Exported: len(records), Errors: c.errs}, nil
}

func (c *twoWayConnector) exportCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exports
}

// countingStore records lookups so tests can assert none happened.
type countingStore struct {
	*database.DB
	lookups int32
}

func (s *countingStore) GetIntegration(ctx context.Context, id int64) (*models.Integration, error) {
	atomic.AddInt32(&s.lookups, 1)
	return s.DB.GetIntegration(ctx, id)
}

type fixture struct {
	db       *database.DB
	store    *countingStore
	registry *registry.Registry
	oneWay   *oneWayConnector
	twoWay   *twoWayConnector
	guard    *lock.Guard
	bus      *events.EventBus
	deps     Deps
}

func item(id, payload string) job.Item {
	return job.Item{ExternalID: id, Payload: json.RawMessage(payload)}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:       db,
		store:    &countingStore{DB: db},
		registry: registry.New(),
		oneWay:   &oneWayConnector{namedType: namedType{"c1"}, entity: "customer"},
		twoWay:   &twoWayConnector{oneWayConnector: oneWayConnector{namedType: namedType{"c"}, entity: "order"}},
		guard:    lock.NewGuard(lock.NewMemoryStore(), lock.DefaultTTL, nil),
		bus:      events.NewEventBus(),
	}
	require.NoError(t, f.registry.RegisterChannelType(testType, namedType{testType}))
	require.NoError(t, f.registry.RegisterConnectorType("c1", testType, f.oneWay))
	require.NoError(t, f.registry.RegisterConnectorType("c", testType, f.twoWay))
	require.NoError(t, f.registry.RegisterConnectorType("bad", testType, &oneWayConnector{namedType: namedType{"bad"}, entity: "misc"}))
	require.NoError(t, f.registry.RegisterTransportType("fake", testType, fakeTransportType{namedType{"fake"}}))

	f.deps = Deps{
		Store:      f.store,
		Registry:   f.registry,
		Runner:     job.NewExecutor(nil, nil),
		Processors: job.NewProcessorRegistry(),
		Events:     f.bus,
	}
	return f
}

func (f *fixture) integration(t *testing.T, name string, enabled bool, connectors ...string) *models.Integration {
	t.Helper()
	integration := &models.Integration{
		Name:       name,
		Type:       testType,
		Enabled:    enabled,
		Connectors: connectors,
		Transport:  &models.Transport{Type: "fake", Settings: models.Settings{"url": "http://remote"}},
	}
	require.NoError(t, f.db.CreateIntegration(context.Background(), integration))
	return integration
}

var errRemote = errors.New("remote unavailable")
