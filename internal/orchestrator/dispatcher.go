package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"channelsync/internal/database"
	"channelsync/internal/models"
	"channelsync/internal/queue"
	"channelsync/internal/registry"
)

// Publisher enqueues messages without waiting for them to be handled.
type Publisher interface {
	Publish(ctx context.Context, topic string, integrationID int64, body interface{}) (string, error)
}

// IntegrationLookup is the read side Dispatcher needs.
type IntegrationLookup interface {
	GetIntegration(ctx context.Context, id int64) (*models.Integration, error)
}

// Dispatcher turns schedule requests into queue messages.
type Dispatcher struct {
	store     IntegrationLookup
	registry  *registry.Registry
	publisher Publisher
}

func NewDispatcher(store IntegrationLookup, reg *registry.Registry, publisher Publisher) *Dispatcher {
	return &Dispatcher{store: store, registry: reg, publisher: publisher}
}

// ScheduleSync enqueues a "sync requested" message and returns its id.
// Missing or disabled integrations are refused.
func (d *Dispatcher) ScheduleSync(ctx context.Context, integrationID int64, connector string, params map[string]interface{}, transportBatchSize int) (string, error) {
	integration, err := d.enabledIntegration(ctx, integrationID)
	if err != nil {
		return "", err
	}
	if connector != "" && !integration.HasConnector(connector) {
		return "", fmt.Errorf("%w: connector %q is not configured", ErrMisconfigured, connector)
	}
	if transportBatchSize <= 0 {
		transportBatchSize = models.DefaultTransportBatchSize
	}
	return d.publisher.Publish(ctx, queue.TopicSyncRequested, integrationID, SyncRequest{
		IntegrationID:       IntegrationID(integrationID),
		Connector:           connector,
		ConnectorParameters: params,
		TransportBatchSize:  transportBatchSize,
	})
}

// ScheduleReverseSync enqueues a "reverse sync requested" message. The named
// connector must be two-way; without a name the integration needs at least
// one two-way connector.
func (d *Dispatcher) ScheduleReverseSync(ctx context.Context, integrationID int64, connector string, params map[string]interface{}) (string, error) {
	integration, err := d.enabledIntegration(ctx, integrationID)
	if err != nil {
		return "", err
	}
	if _, err := resolveReverseTargets(d.registry, integration, connector); err != nil {
		return "", err
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return d.publisher.Publish(ctx, queue.TopicReverseSyncRequested, integrationID, ReverseSyncRequest{
		IntegrationID:       IntegrationID(integrationID),
		Connector:           connector,
		ConnectorParameters: params,
	})
}

func (d *Dispatcher) enabledIntegration(ctx context.Context, integrationID int64) (*models.Integration, error) {
	integration, err := d.store.GetIntegration(ctx, integrationID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrIntegrationNotFound, integrationID)
	}
	if err != nil {
		return nil, err
	}
	if !integration.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrIntegrationDisabled, integration.Name)
	}
	return integration, nil
}
