package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"channelsync/internal/database"
	"channelsync/internal/events"
	"channelsync/internal/lock"
	"channelsync/internal/metrics"
	"channelsync/internal/models"
	"channelsync/internal/queue"
	"channelsync/internal/registry"

	"github.com/rs/zerolog"
)

// ReverseJobName is the uniqueness key of reverse syncs of one integration.
func ReverseJobName(integrationID int64) string {
	return fmt.Sprintf("revers_sync_integration:%d", integrationID)
}

// ReverseProcessor exports local records through two-way connectors.
type ReverseProcessor struct {
	deps   Deps
	logger *zerolog.Logger
	now    func() time.Time
}

func NewReverseProcessor(deps Deps) *ReverseProcessor {
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}
	return &ReverseProcessor{deps: deps, logger: deps.Logger, now: time.Now}
}

// Process exports the connector entity's records, optionally narrowed by
// params["ids"], and appends a status record. It returns true when every
// record was exported without error.
func (p *ReverseProcessor) Process(ctx context.Context, integration *models.Integration, connectorName string, connector registry.TwoWayConnectorType, params map[string]interface{}) (bool, error) {
	transport, err := OpenTransport(ctx, p.deps.Registry, integration)
	if err != nil {
		if errors.Is(err, ErrMisconfigured) {
			return false, queue.Fatal(err)
		}
		return false, err
	}

	ids := models.Settings(params).GetStrings("ids")
	records, err := p.deps.Store.ListRecords(ctx, integration.ID, connector.ImportEntity(), ids)
	if err != nil {
		return false, fmt.Errorf("load records: %w", err)
	}

	started := p.now()
	exported, err := connector.Export(ctx, transport, integration.Transport.Settings, records, params)
	if err != nil {
		p.record(ctx, integration, connectorName, models.StatusFailed, err.Error(), nil)
		p.publish(events.EventReverseFailed, integration, connectorName, false, err.Error(), nil)
		metrics.ObserveSyncRun(connectorName, "export", false, p.now().Sub(started), nil)
		return false, err
	}

	success := len(exported.Errors) == 0
	code := models.StatusCompleted
	eventType := events.EventReverseSynced
	message := fmt.Sprintf("exported %d, skipped %d", exported.Exported, exported.Skipped)
	if !success {
		code = models.StatusFailed
		eventType = events.EventReverseFailed
		message = strings.Join(exported.Errors, "; ")
	}
	p.record(ctx, integration, connectorName, code, message, exported)
	p.publish(eventType, integration, connectorName, success, message, exported)
	metrics.ObserveSyncRun(connectorName, "export", success, p.now().Sub(started), map[string]int{
		"exported": exported.Exported,
		"skipped":  exported.Skipped,
		"errors":   len(exported.Errors),
	})

	p.logger.Info().
		Int64("integration_id", integration.ID).
		Str("connector", connectorName).
		Int("records", len(records)).
		Int("exported", exported.Exported).
		Int("errors", len(exported.Errors)).
		Msg("Reverse sync finished")
	return success, nil
}

func (p *ReverseProcessor) record(ctx context.Context, integration *models.Integration, connector, code, message string, exported *registry.ExportResult) {
	var data []byte
	if exported != nil {
		data, _ = json.Marshal(exported)
	}
	err := p.deps.Store.AddStatus(ctx, &models.Status{
		IntegrationID: integration.ID,
		Connector:     connector,
		Code:          code,
		Message:       message,
		Data:          string(data),
	})
	if err != nil {
		p.logger.Error().Err(err).Int64("integration_id", integration.ID).Msg("Failed to save status")
	}
}

func (p *ReverseProcessor) publish(eventType string, integration *models.Integration, connector string, success bool, message string, exported *registry.ExportResult) {
	payload := events.SyncEventPayload{
		IntegrationID:   integration.ID,
		IntegrationName: integration.Name,
		Connector:       connector,
		Mode:            "export",
		Success:         success,
		Message:         message,
		OccurredAt:      p.now().UTC(),
	}
	if exported != nil {
		payload.Counts = map[string]int{"exported": exported.Exported, "skipped": exported.Skipped}
		payload.Errors = exported.Errors
	}
	_ = p.deps.Events.PublishJSON(eventType, payload)
}

// ReverseSyncHandler consumes "reverse sync requested" messages.
type ReverseSyncHandler struct {
	deps    Deps
	guard   *lock.Guard
	reverse *ReverseProcessor
	logger  *zerolog.Logger
}

func NewReverseSyncHandler(deps Deps, guard *lock.Guard, reverse *ReverseProcessor) *ReverseSyncHandler {
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}
	return &ReverseSyncHandler{deps: deps, guard: guard, reverse: reverse, logger: deps.Logger}
}

type reverseTarget struct {
	name      string
	connector registry.TwoWayConnectorType
}

// Handle validates the message, resolves the two-way connector and runs the
// reverse sync under the integration's unique job lock.
func (h *ReverseSyncHandler) Handle(ctx context.Context, msg *queue.Message) (queue.Status, error) {
	var body ReverseSyncRequest
	if err := msg.Decode(&body); err != nil {
		return queue.Reject, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if body.IntegrationID == 0 {
		return queue.Reject, queue.Fatal(fmt.Errorf("%w: integrationId is required", ErrMalformedMessage))
	}
	id := int64(body.IntegrationID)
	logger := h.logger.With().Str("message_id", msg.ID).Int64("integration_id", id).Logger()

	integration, err := h.deps.Store.GetIntegration(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		logger.Info().Msg("Integration not found, message dropped")
		return queue.Ack, nil
	}
	if err != nil {
		return queue.Reject, err
	}
	if !integration.Enabled {
		logger.Info().Msg("Integration is disabled, message dropped")
		return queue.Ack, nil
	}

	targets, err := resolveReverseTargets(h.deps.Registry, integration, body.Connector)
	if err != nil {
		logger.Error().Err(err).Msg("Reverse sync misconfigured")
		_ = h.deps.Events.PublishJSON(events.EventReverseFailed, events.SyncEventPayload{
			IntegrationID:   integration.ID,
			IntegrationName: integration.Name,
			Connector:       body.Connector,
			Message:         err.Error(),
			OccurredAt:      time.Now().UTC(),
		})
		return queue.Reject, queue.Fatal(err)
	}

	params := body.ConnectorParameters
	if params == nil {
		params = map[string]interface{}{}
	}

	ok, err := h.guard.RunUnique(ctx, msg.ID, ReverseJobName(id), func(ctx context.Context) (bool, error) {
		success := true
		for _, target := range targets {
			ok, err := h.reverse.Process(ctx, integration, target.name, target.connector, params)
			if err != nil {
				return false, err
			}
			success = success && ok
		}
		return success, nil
	})
	switch {
	case errors.Is(err, lock.ErrHeldBySameOwner):
		logger.Info().Msg("Message redelivered while its reverse sync is still running")
		return queue.InFlight, nil
	case errors.Is(err, lock.ErrAlreadyRunning):
		logger.Info().Msg("Reverse sync already running, message requeued")
		return queue.Requeue, nil
	case err != nil:
		return queue.Reject, err
	case ok:
		return queue.Ack, nil
	default:
		return queue.Reject, nil
	}
}

// resolveReverseTargets returns the named connector, or every configured
// two-way connector when name is empty. A named connector must support
// two-way sync.
func resolveReverseTargets(reg *registry.Registry, integration *models.Integration, name string) ([]reverseTarget, error) {
	names := []string{name}
	if name == "" {
		names = integration.Connectors
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: integration %q has no connectors", ErrMisconfigured, integration.Name)
	}

	targets := make([]reverseTarget, 0, len(names))
	for _, n := range names {
		connector, err := reg.ConnectorType(integration.Type, n)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMisconfigured, err)
		}
		twoWay, ok := registry.IsTwoWay(connector)
		if !ok {
			if name == "" {
				continue
			}
			return nil, fmt.Errorf("%w: connector %q of integration %q does not support two-way sync", ErrMisconfigured, n, integration.Name)
		}
		targets = append(targets, reverseTarget{name: n, connector: twoWay})
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: integration %q has no two-way connectors", ErrMisconfigured, integration.Name)
	}
	return targets, nil
}
