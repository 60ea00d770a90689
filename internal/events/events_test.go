package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishJSON(t *testing.T) {
	bus := NewEventBus()

	var received []SyncEventPayload
	bus.Subscribe(EventConnectorSynced, func(event *Event) error {
		var payload SyncEventPayload
		require.NoError(t, event.Decode(&payload))
		received = append(received, payload)
		assert.False(t, event.CreatedAt.IsZero())
		return nil
	})

	require.NoError(t, bus.PublishJSON(EventConnectorSynced, SyncEventPayload{IntegrationID: 1, Connector: "customers", Success: true}))
	require.NoError(t, bus.PublishJSON(EventConnectorSkipped, SyncEventPayload{IntegrationID: 2}))

	require.Len(t, received, 1)
	assert.Equal(t, "customers", received[0].Connector)
}

func TestEventBus_NilIsNoop(t *testing.T) {
	var bus *EventBus
	assert.NoError(t, bus.PublishJSON(EventReverseFailed, SyncEventPayload{}))
}

func TestEventBus_HandlerErrors(t *testing.T) {
	bus := NewEventBus()
	var calls int
	var failed []string
	bus.OnError(func(eventType string, err error) {
		failed = append(failed, eventType+": "+err.Error())
	})
	bus.Subscribe(EventReverseFailed, func(*Event) error {
		calls++
		return errors.New("telegram down")
	})
	bus.Subscribe(EventReverseFailed, func(*Event) error {
		calls++
		return nil
	})

	bus.Publish(&Event{Type: EventReverseFailed})
	assert.Equal(t, 2, calls, "a failing handler does not stop the others")
	assert.Equal(t, []string{"reverse_failed: telegram down"}, failed)
}

func TestEventBus_UnmarshalablePayload(t *testing.T) {
	bus := NewEventBus()
	assert.Error(t, bus.PublishJSON(EventConnectorSynced, map[string]interface{}{"ch": make(chan int)}))
}
