package database

import (
	"context"
	"encoding/json"
	"fmt"

	"offlinesync/internal/domain"
	"offlinesync/internal/models"
)

// RecordHistory inserts an entry and trims the table to the newest limit rows.
func (db *DB) RecordHistory(ctx context.Context, entry models.HistoryEntry, limit int) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal history details: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `INSERT INTO sync_history
        (id, started_at, trigger, total_items, success_count, error_count, duration_ms, details)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Timestamp.UTC().Format(timeLayout),
		string(entry.Trigger),
		entry.TotalItems,
		entry.SuccessCount,
		entry.ErrorCount,
		entry.DurationMs,
		string(details),
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}

	if limit > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sync_history WHERE seq NOT IN
            (SELECT seq FROM sync_history ORDER BY seq DESC LIMIT ?)`, limit)
		if err != nil {
			return fmt.Errorf("failed to trim history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history entry: %w", err)
	}
	return nil
}

// ListHistory returns entries newest first.
func (db *DB) ListHistory(ctx context.Context) ([]models.HistoryEntry, error) {
	query := `SELECT id, started_at, trigger, total_items, success_count, error_count, duration_ms, details
        FROM sync_history ORDER BY seq DESC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := make([]models.HistoryEntry, 0)
	for rows.Next() {
		var (
			e                  models.HistoryEntry
			startedAt, trigger string
			details            string
		)
		if err := rows.Scan(&e.ID, &startedAt, &trigger, &e.TotalItems, &e.SuccessCount,
			&e.ErrorCount, &e.DurationMs, &details); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Trigger = models.Trigger(trigger)
		if e.Timestamp, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("failed to decode history details: %w", err)
		}
		if e.Details == nil {
			e.Details = []string{}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (db *DB) ClearHistory(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM sync_history`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// History exposes the history table as a domain.HistoryStore capped at limit entries.
func (db *DB) History(limit int) *SQLHistory {
	if limit <= 0 {
		limit = models.HistoryLimit
	}
	return &SQLHistory{db: db, limit: limit}
}

type SQLHistory struct {
	db    *DB
	limit int
}

var _ domain.HistoryStore = (*SQLHistory)(nil)

func (h *SQLHistory) Record(ctx context.Context, entry models.HistoryEntry) error {
	return h.db.RecordHistory(ctx, entry, h.limit)
}

func (h *SQLHistory) List(ctx context.Context) ([]models.HistoryEntry, error) {
	return h.db.ListHistory(ctx)
}

func (h *SQLHistory) Clear(ctx context.Context) error {
	return h.db.ClearHistory(ctx)
}
