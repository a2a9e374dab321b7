package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the kind of mutation a queued record carries.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is one of the supported mutation kinds.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	default:
		return false
	}
}

// QueueRecord represents one pending mutation awaiting remote application.
type QueueRecord struct {
	ID         string          `json:"id"`
	Module     string          `json:"module"`
	Action     Action          `json:"action"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
}

// UpdatePayload is the conventional payload of an update mutation.
type UpdatePayload struct {
	ID      string          `json:"id"`
	Updates json.RawMessage `json:"updates"`
}

// DeletePayload is the conventional payload of a delete mutation.
type DeletePayload struct {
	ID string `json:"id"`
}

// EntityID extracts the target entity id from update and delete payloads.
func (r QueueRecord) EntityID() (string, error) {
	var ref struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(r.Payload, &ref); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	if len(ref.ID) == 0 || string(ref.ID) == "null" {
		return "", fmt.Errorf("payload has no id")
	}

	var s string
	if err := json.Unmarshal(ref.ID, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("payload has empty id")
		}
		return s, nil
	}
	// numeric ids are kept verbatim
	return string(ref.ID), nil
}

// DeadLetter is a record removed from the queue after exhausting its retry budget.
type DeadLetter struct {
	Record         QueueRecord `json:"record"`
	Reason         string      `json:"reason"`
	DeadLetteredAt time.Time   `json:"deadLetteredAt"`
}
