package repository

import (
	"context"
	"sync"

	"offlinesync/internal/domain"
	"offlinesync/internal/models"
)

// MemoryQueueStore is a process-local queue. Contents are lost on exit.
type MemoryQueueStore struct {
	mu      sync.Mutex
	records []models.QueueRecord
	dead    []models.DeadLetter
}

var (
	_ domain.QueueStore      = (*MemoryQueueStore)(nil)
	_ domain.DeadLetterStore = (*MemoryQueueStore)(nil)
)

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{}
}

func (m *MemoryQueueStore) Append(_ context.Context, rec models.QueueRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryQueueStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryQueueStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	return nil
}

func (m *MemoryQueueStore) Snapshot(_ context.Context) ([]models.QueueRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.QueueRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *MemoryQueueStore) IncrementRetry(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].RetryCount++
			return m.records[i].RetryCount, nil
		}
	}
	return 0, domain.ErrRecordNotFound
}

func (m *MemoryQueueStore) PushDeadLetter(_ context.Context, dl models.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = append(m.dead, dl)
	return nil
}

func (m *MemoryQueueStore) ListDeadLetters(_ context.Context) ([]models.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.DeadLetter, len(m.dead))
	copy(out, m.dead)
	return out, nil
}

// MemoryHistoryStore keeps the newest entries first, capped at limit.
type MemoryHistoryStore struct {
	mu      sync.Mutex
	entries []models.HistoryEntry
	limit   int
}

var _ domain.HistoryStore = (*MemoryHistoryStore)(nil)

func NewMemoryHistoryStore(limit int) *MemoryHistoryStore {
	if limit <= 0 {
		limit = models.HistoryLimit
	}
	return &MemoryHistoryStore{limit: limit}
}

func (m *MemoryHistoryStore) Record(_ context.Context, entry models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append([]models.HistoryEntry{entry}, m.entries...)
	if len(m.entries) > m.limit {
		m.entries = m.entries[:m.limit]
	}
	return nil
}

func (m *MemoryHistoryStore) List(_ context.Context) ([]models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.HistoryEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *MemoryHistoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}
