package events

import (
	"errors"
	"testing"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventSyncCompleted, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON(EventSyncCompleted, SyncCompletedPayload{
		HistoryID:    "h1",
		Trigger:      "manual",
		TotalItems:   3,
		SuccessCount: 2,
		ErrorCount:   1,
	})
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if received.Type != EventSyncCompleted {
		t.Errorf("expected type %s, got %s", EventSyncCompleted, received.Type)
	}
	if received.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt to be set")
	}

	var decoded SyncCompletedPayload
	if err := received.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.HistoryID != "h1" || decoded.ErrorCount != 1 {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: "event"})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestEventBusHandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewEventBus()
	var hooked error
	var second bool

	bus.OnError(func(_ *Event, err error) { hooked = err })
	bus.Subscribe("event", func(_ *Event) error { return errors.New("telegram down") })
	bus.Subscribe("event", func(_ *Event) error { second = true; return nil })

	bus.Publish(&Event{Type: "event"})

	if !second {
		t.Errorf("expected second handler to run")
	}
	if hooked == nil || hooked.Error() != "telegram down" {
		t.Errorf("expected error hook to receive handler error, got %v", hooked)
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	bus.Publish(&Event{Type: "unknown"})
	if err := bus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}
}

func TestEventBusNil(t *testing.T) {
	var bus *EventBus
	if err := bus.PublishJSON(EventQueueCleared, nil); err != nil {
		t.Errorf("nil bus should be a no-op, got %v", err)
	}
}

func TestPublishJSONMarshalError(t *testing.T) {
	bus := NewEventBus()
	if err := bus.PublishJSON("event", make(chan int)); err == nil {
		t.Errorf("expected marshal error")
	}
}
