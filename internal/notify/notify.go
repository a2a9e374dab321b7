// Package notify turns sync events into operator-facing messages.
package notify

import (
	"fmt"
	"strings"

	"offlinesync/internal/events"

	"github.com/rs/zerolog"
)

// SyncSummary renders the aggregate outcome of a pass.
func SyncSummary(p events.SyncCompletedPayload) string {
	parts := make([]string, 0, 2)
	if p.SuccessCount > 0 {
		parts = append(parts, fmt.Sprintf("%d synced", p.SuccessCount))
	}
	if p.ErrorCount > 0 {
		parts = append(parts, fmt.Sprintf("%d failed, will retry", p.ErrorCount))
	}
	if len(parts) == 0 {
		parts = append(parts, "nothing to sync")
	}
	return fmt.Sprintf("Sync (%s): %s", p.Trigger, strings.Join(parts, ", "))
}

// SkippedMessage renders why a manual sync did not run.
func SkippedMessage(p events.SyncSkippedPayload) string {
	return fmt.Sprintf("Sync not started: %s", p.Reason)
}

// DeadLetterMessage renders a record that left the queue for good.
func DeadLetterMessage(p events.RecordEventPayload) string {
	return fmt.Sprintf("Record %s (%s %s) moved to dead letter after %d attempts: %s",
		p.RecordID, p.Module, p.Action, p.RetryCount, p.Reason)
}

// LogNotifier writes every sync notification to the structured log.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventSyncCompleted, func(e *events.Event) error {
		var p events.SyncCompletedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		lvl := n.logger.Info()
		if p.ErrorCount > 0 {
			lvl = n.logger.Warn()
		}
		lvl.Str("trigger", p.Trigger).Int("synced", p.SuccessCount).Int("failed", p.ErrorCount).Msg(SyncSummary(p))
		return nil
	})

	bus.Subscribe(events.EventSyncSkipped, func(e *events.Event) error {
		var p events.SyncSkippedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		n.logger.Info().Str("trigger", p.Trigger).Msg(SkippedMessage(p))
		return nil
	})

	bus.Subscribe(events.EventRecordDeadLettered, func(e *events.Event) error {
		var p events.RecordEventPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		n.logger.Error().Str("id", p.RecordID).Str("module", p.Module).Msg(DeadLetterMessage(p))
		return nil
	})

	bus.Subscribe(events.EventConnectivity, func(e *events.Event) error {
		var p events.ConnectivityPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		n.logger.Info().Bool("online", p.Online).Msg("connectivity changed")
		return nil
	})
}
