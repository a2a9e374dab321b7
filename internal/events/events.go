package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventRecordEnqueued     = "record_enqueued"
	EventRecordDeadLettered = "record_dead_lettered"
	EventSyncCompleted      = "sync_completed"
	EventSyncSkipped        = "sync_skipped"
	EventConnectivity       = "connectivity_changed"
	EventQueueCleared       = "queue_cleared"
)

// RecordEventPayload identifies a queued mutation for event consumers.
type RecordEventPayload struct {
	RecordID   string `json:"record_id"`
	Module     string `json:"module"`
	Action     string `json:"action"`
	RetryCount int    `json:"retry_count,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// SyncCompletedPayload summarizes a finished replay pass.
type SyncCompletedPayload struct {
	HistoryID    string   `json:"history_id"`
	Trigger      string   `json:"trigger"`
	TotalItems   int      `json:"total_items"`
	SuccessCount int      `json:"success_count"`
	ErrorCount   int      `json:"error_count"`
	DurationMs   int64    `json:"duration_ms"`
	Details      []string `json:"details,omitempty"`
}

// SyncSkippedPayload explains why a requested pass did not run.
type SyncSkippedPayload struct {
	Trigger string `json:"trigger"`
	Reason  string `json:"reason"`
}

// ConnectivityPayload reports a connectivity transition.
type ConnectivityPayload struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// ErrorHook observes handler failures; the bus itself never stops on them.
type ErrorHook func(event *Event, err error)

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	onError     ErrorHook
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError installs a hook called whenever a handler returns an error.
func (b *EventBus) OnError(hook ErrorHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = hook
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
	hook := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && hook != nil {
			hook(event, err)
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
