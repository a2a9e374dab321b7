package models

import "time"

// Trigger labels what started a replay pass.
type Trigger string

const (
	TriggerAutomatic Trigger = "automatic"
	TriggerManual    Trigger = "manual"
)

// HistoryEntry summarizes one completed replay pass.
type HistoryEntry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Trigger      Trigger   `json:"trigger"`
	TotalItems   int       `json:"totalItems"`
	SuccessCount int       `json:"successCount"`
	ErrorCount   int       `json:"errorCount"`
	DurationMs   int64     `json:"durationMs"`
	Details      []string  `json:"details"`
}

// SyncState is the replay state of the processor.
type SyncState string

const (
	SyncStateIdle    SyncState = "idle"
	SyncStateSyncing SyncState = "syncing"
)
