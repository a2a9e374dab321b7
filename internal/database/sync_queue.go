package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"offlinesync/internal/domain"
	"offlinesync/internal/models"
)

// AppendRecord stores a record at the tail of the queue.
func (db *DB) AppendRecord(ctx context.Context, rec models.QueueRecord) error {
	query := `INSERT INTO sync_queue (id, module, action, payload, created_at, retry_count)
        VALUES (?, ?, ?, ?, ?, ?)`

	_, err := db.ExecContext(ctx, query,
		rec.ID,
		rec.Module,
		string(rec.Action),
		string(rec.Payload),
		rec.Timestamp.UTC().Format(timeLayout),
		rec.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to append queue record: %w", err)
	}
	return nil
}

// RemoveRecord deletes a record by id. Removing an absent id is not an error.
func (db *DB) RemoveRecord(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove queue record: %w", err)
	}
	return nil
}

func (db *DB) ClearQueue(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// SnapshotQueue returns the queue in insertion order.
func (db *DB) SnapshotQueue(ctx context.Context) ([]models.QueueRecord, error) {
	query := `SELECT id, module, action, payload, created_at, retry_count
        FROM sync_queue ORDER BY seq ASC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	defer rows.Close()

	records := make([]models.QueueRecord, 0)
	for rows.Next() {
		var (
			rec       models.QueueRecord
			action    string
			payload   string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Module, &action, &payload, &createdAt, &rec.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan queue record: %w", err)
		}
		rec.Action = models.Action(action)
		rec.Payload = []byte(payload)
		if rec.Timestamp, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue: %w", err)
	}
	return records, nil
}

// IncrementRetryCount bumps the record's retry counter and returns the new value.
func (db *DB) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE sync_queue SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to increment retry count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, domain.ErrRecordNotFound
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT retry_count FROM sync_queue WHERE id = ?`, id).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrRecordNotFound
		}
		return 0, fmt.Errorf("failed to read retry count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit retry count: %w", err)
	}
	return count, nil
}

// PushDeadLetter stores a record that exhausted its retries.
func (db *DB) PushDeadLetter(ctx context.Context, dl models.DeadLetter) error {
	query := `INSERT INTO sync_dead_letter
        (record_id, module, action, payload, created_at, retry_count, reason, dead_lettered_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	at := dl.DeadLetteredAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err := db.ExecContext(ctx, query,
		dl.Record.ID,
		dl.Record.Module,
		string(dl.Record.Action),
		string(dl.Record.Payload),
		dl.Record.Timestamp.UTC().Format(timeLayout),
		dl.Record.RetryCount,
		dl.Reason,
		at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns dead letters oldest first.
func (db *DB) ListDeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	query := `SELECT record_id, module, action, payload, created_at, retry_count, reason, dead_lettered_at
        FROM sync_dead_letter ORDER BY seq ASC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	letters := make([]models.DeadLetter, 0)
	for rows.Next() {
		var (
			dl                   models.DeadLetter
			action, payload      string
			createdAt, deadAtRaw string
		)
		if err := rows.Scan(&dl.Record.ID, &dl.Record.Module, &action, &payload,
			&createdAt, &dl.Record.RetryCount, &dl.Reason, &deadAtRaw); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		dl.Record.Action = models.Action(action)
		dl.Record.Payload = []byte(payload)
		if dl.Record.Timestamp, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if dl.DeadLetteredAt, err = parseTime(deadAtRaw); err != nil {
			return nil, err
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

// Queue exposes the queue table as a domain.QueueStore.
func (db *DB) Queue() *SQLQueue {
	return &SQLQueue{db: db}
}

type SQLQueue struct {
	db *DB
}

var (
	_ domain.QueueStore      = (*SQLQueue)(nil)
	_ domain.DeadLetterStore = (*SQLQueue)(nil)
)

func (q *SQLQueue) Append(ctx context.Context, rec models.QueueRecord) error {
	return q.db.AppendRecord(ctx, rec)
}

func (q *SQLQueue) Remove(ctx context.Context, id string) error {
	return q.db.RemoveRecord(ctx, id)
}

func (q *SQLQueue) Clear(ctx context.Context) error {
	return q.db.ClearQueue(ctx)
}

func (q *SQLQueue) Snapshot(ctx context.Context) ([]models.QueueRecord, error) {
	return q.db.SnapshotQueue(ctx)
}

func (q *SQLQueue) IncrementRetry(ctx context.Context, id string) (int, error) {
	return q.db.IncrementRetryCount(ctx, id)
}

func (q *SQLQueue) PushDeadLetter(ctx context.Context, dl models.DeadLetter) error {
	return q.db.PushDeadLetter(ctx, dl)
}

func (q *SQLQueue) ListDeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	return q.db.ListDeadLetters(ctx)
}
