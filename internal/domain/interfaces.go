package domain

import (
	"context"

	"offlinesync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// QueueStore persists the ordered list of pending mutations.
// Remove of an absent id is a no-op.
type QueueStore interface {
	Append(ctx context.Context, record models.QueueRecord) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Snapshot(ctx context.Context) ([]models.QueueRecord, error)
	IncrementRetry(ctx context.Context, id string) (int, error)
}

// HistoryStore keeps the most recent replay passes, newest first.
type HistoryStore interface {
	Record(ctx context.Context, entry models.HistoryEntry) error
	Clear(ctx context.Context) error
	List(ctx context.Context) ([]models.HistoryEntry, error)
}

// DeadLetterStore receives records that exhausted their retry budget.
type DeadLetterStore interface {
	PushDeadLetter(ctx context.Context, letter models.DeadLetter) error
	ListDeadLetters(ctx context.Context) ([]models.DeadLetter, error)
}

// ConnectivityState is the read side of the connectivity monitor.
type ConnectivityState interface {
	Online() bool
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
