package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventConnectorSynced  = "connector_synced"
	EventConnectorSkipped = "connector_skipped"
	EventReverseSynced    = "reverse_synced"
	EventReverseFailed    = "reverse_failed"
)

// SyncEventPayload describes one connector outcome for event consumers.
type SyncEventPayload struct {
	IntegrationID   int64          `json:"integration_id"`
	IntegrationName string         `json:"integration_name"`
	Connector       string         `json:"connector"`
	Mode            string         `json:"mode,omitempty"`
	Success         bool           `json:"success"`
	Message         string         `json:"message,omitempty"`
	Counts          map[string]int `json:"counts,omitempty"`
	Errors          []string       `json:"errors,omitempty"`
	OccurredAt      time.Time      `json:"occurred_at"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	onError     func(eventType string, err error)
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError sets a callback for handler errors, which are otherwise dropped.
func (b *EventBus) OnError(fn func(eventType string, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event.Type, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
