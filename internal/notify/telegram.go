package notify

import (
	"context"
	"fmt"

	"offlinesync/internal/domain"
	"offlinesync/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// NewTelegramBot connects to the Bot API with token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return bot, nil
}

// TelegramNotifier forwards pass summaries, skipped manual syncs and dead
// letters to operator chats. Messages are sent from Run so event publishers
// never wait on the Bot API.
type TelegramNotifier struct {
	sender  domain.TelegramSender
	chatIDs []int64
	outbox  chan string
	logger  *zerolog.Logger
}

func NewTelegramNotifier(sender domain.TelegramSender, chatIDs []int64, logger *zerolog.Logger) *TelegramNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TelegramNotifier{
		sender:  sender,
		chatIDs: chatIDs,
		outbox:  make(chan string, 64),
		logger:  logger,
	}
}

func (n *TelegramNotifier) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventSyncCompleted, func(e *events.Event) error {
		var p events.SyncCompletedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		n.enqueue(SyncSummary(p))
		return nil
	})

	bus.Subscribe(events.EventSyncSkipped, func(e *events.Event) error {
		var p events.SyncSkippedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		n.enqueue(SkippedMessage(p))
		return nil
	})

	bus.Subscribe(events.EventRecordDeadLettered, func(e *events.Event) error {
		var p events.RecordEventPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		n.enqueue(DeadLetterMessage(p))
		return nil
	})
}

func (n *TelegramNotifier) enqueue(text string) {
	select {
	case n.outbox <- text:
	default:
		n.logger.Warn().Str("text", text).Msg("telegram outbox full, notification dropped")
	}
}

// Run delivers queued notifications until ctx is done.
func (n *TelegramNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-n.outbox:
			n.Broadcast(text)
		}
	}
}

// Broadcast sends text to every configured chat, returning the number of
// successful deliveries.
func (n *TelegramNotifier) Broadcast(text string) int {
	delivered := 0
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.sender.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send telegram notification")
			continue
		}
		delivered++
	}
	return delivered
}
