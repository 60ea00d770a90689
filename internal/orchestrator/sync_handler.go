package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"channelsync/internal/database"
	"channelsync/internal/lock"
	"channelsync/internal/queue"

	"github.com/rs/zerolog"
)

// SyncJobName is the uniqueness key of one-way syncs of one integration.
func SyncJobName(integrationID int64) string {
	return fmt.Sprintf("sync_integration:%d", integrationID)
}

// SyncRequestHandler consumes "sync requested" messages and runs a forced
// one-way sync under the integration's unique job lock.
type SyncRequestHandler struct {
	deps      Deps
	guard     *lock.Guard
	processor *Processor
	logger    *zerolog.Logger
}

func NewSyncRequestHandler(deps Deps, guard *lock.Guard, processor *Processor) *SyncRequestHandler {
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}
	return &SyncRequestHandler{deps: deps, guard: guard, processor: processor, logger: deps.Logger}
}

func (h *SyncRequestHandler) Handle(ctx context.Context, msg *queue.Message) (queue.Status, error) {
	var body SyncRequest
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

	opts := RunOptions{
		Connector:          body.Connector,
		Params:             body.StringParameters(),
		TransportBatchSize: body.TransportBatchSize,
		Reporter:           NewLogReporter(&logger),
	}
	_, err = h.guard.RunUnique(ctx, msg.ID, SyncJobName(id), func(ctx context.Context) (bool, error) {
		_, err := h.processor.ProcessIntegration(ctx, integration, true, opts)
		return err == nil, err
	})
	switch {
	case errors.Is(err, lock.ErrHeldBySameOwner):
		logger.Info().Msg("Message redelivered while its sync is still running")
		return queue.InFlight, nil
	case errors.Is(err, lock.ErrAlreadyRunning):
		logger.Info().Msg("Sync already running, message requeued")
		return queue.Requeue, nil
	case err != nil:
		return queue.Reject, err
	default:
		return queue.Ack, nil
	}
}
