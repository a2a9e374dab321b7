package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"offlinesync/internal/domain"
	"offlinesync/internal/events"
	"offlinesync/internal/handlers"
	"offlinesync/internal/metrics"
	"offlinesync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Deps are the collaborators a SyncProcessor drives.
type Deps struct {
	Queue        domain.QueueStore
	History      domain.HistoryStore
	DeadLetters  domain.DeadLetterStore
	Registry     *handlers.Registry
	Connectivity domain.ConnectivityState
	Events       domain.EventPublisher
	Logger       *zerolog.Logger
}

// Options tune replay behaviour.
type Options struct {
	// HandlerTimeout bounds a single handler call.
	HandlerTimeout time.Duration
	// Retry.MaxRetries is the dead-letter threshold; 0 keeps records forever.
	Retry RetryPolicy
	// AutoRetry re-runs failed passes on the Retry backoff while online.
	AutoRetry bool
	// DrainOnEnqueue starts a pass right after an enqueue while online.
	DrainOnEnqueue bool
}

// SyncProcessor drains the durable queue against the registered handlers,
// one pass at a time.
type SyncProcessor struct {
	queue    domain.QueueStore
	history  domain.HistoryStore
	dead     domain.DeadLetterStore
	registry *handlers.Registry
	conn     domain.ConnectivityState
	events   domain.EventPublisher
	logger   *zerolog.Logger
	opts     Options

	syncing atomic.Bool
	trigger chan struct{}

	lifeMu   sync.Mutex
	lifetime context.Context

	retryMu      sync.Mutex
	retryAttempt int
	retryTimer   *time.Timer
}

func NewSyncProcessor(deps Deps, opts Options) (*SyncProcessor, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("queue store is required")
	case deps.History == nil:
		return nil, errors.New("history store is required")
	case deps.Registry == nil:
		return nil, errors.New("handler registry is required")
	case deps.Connectivity == nil:
		return nil, errors.New("connectivity state is required")
	}

	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = models.DefaultHandlerTimeout
	}
	if opts.Retry.MaxRetries < 0 {
		opts.Retry.MaxRetries = 0
	}
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &SyncProcessor{
		queue:    deps.Queue,
		history:  deps.History,
		dead:     deps.DeadLetters,
		registry: deps.Registry,
		conn:     deps.Connectivity,
		events:   deps.Events,
		logger:   logger,
		opts:     opts,
		trigger:  make(chan struct{}, 1),
	}, nil
}

// Enqueue validates and durably appends a mutation. The record is visible
// to the next Queue call once Enqueue returns.
func (p *SyncProcessor) Enqueue(ctx context.Context, module string, action models.Action, payload any) (models.QueueRecord, error) {
	if !p.registry.Has(module) {
		return models.QueueRecord{}, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}

	rec, err := NewRecord(module, action, payload, time.Now())
	if err != nil {
		return models.QueueRecord{}, err
	}
	if err := p.queue.Append(ctx, rec); err != nil {
		return models.QueueRecord{}, fmt.Errorf("persist queue record: %w", err)
	}

	p.logger.Debug().Str("id", rec.ID).Str("module", module).Str("action", string(action)).Msg("record enqueued")
	p.publish(events.EventRecordEnqueued, events.RecordEventPayload{
		RecordID: rec.ID,
		Module:   rec.Module,
		Action:   string(rec.Action),
	})
	p.refreshDepth(ctx)

	if p.opts.DrainOnEnqueue && p.conn.Online() {
		p.Trigger()
	}
	return rec, nil
}

// NewRecord builds a queue record with a fresh id. The module is not
// checked against any registry.
func NewRecord(module string, action models.Action, payload any, at time.Time) (models.QueueRecord, error) {
	if !action.Valid() {
		return models.QueueRecord{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return models.QueueRecord{}, err
	}
	return models.QueueRecord{
		ID:        newRecordID(module, at),
		Module:    module,
		Action:    action,
		Payload:   raw,
		Timestamp: at,
	}, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid JSON")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid JSON")
		}
		return json.RawMessage(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return data, nil
	}
}

// newRecordID builds "<module>-<unix millis>-<suffix>".
func newRecordID(module string, at time.Time) string {
	return fmt.Sprintf("%s-%d-%s", module, at.UnixMilli(), uuid.NewString()[:8])
}

func (p *SyncProcessor) ClearQueue(ctx context.Context) error {
	if err := p.queue.Clear(ctx); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	p.resetRetry()
	p.publish(events.EventQueueCleared, struct{}{})
	metrics.SetQueueDepth(0)
	p.logger.Info().Msg("queue cleared")
	return nil
}

func (p *SyncProcessor) ClearHistory(ctx context.Context) error {
	if err := p.history.Clear(ctx); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (p *SyncProcessor) Queue(ctx context.Context) ([]models.QueueRecord, error) {
	return p.queue.Snapshot(ctx)
}

func (p *SyncProcessor) History(ctx context.Context) ([]models.HistoryEntry, error) {
	return p.history.List(ctx)
}

func (p *SyncProcessor) DeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	if p.dead == nil {
		return []models.DeadLetter{}, nil
	}
	return p.dead.ListDeadLetters(ctx)
}

func (p *SyncProcessor) HasPending(ctx context.Context) (bool, error) {
	records, err := p.queue.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

func (p *SyncProcessor) Online() bool {
	return p.conn.Online()
}

func (p *SyncProcessor) Syncing() bool {
	return p.syncing.Load()
}

func (p *SyncProcessor) State() models.SyncState {
	if p.syncing.Load() {
		return models.SyncStateSyncing
	}
	return models.SyncStateIdle
}

// RequestManualSync runs a pass labeled manual. It refuses while offline,
// with an empty queue or while another pass is running. Once started, the
// pass outlives ctx and is only cut short when Start's context ends.
func (p *SyncProcessor) RequestManualSync(ctx context.Context) (*models.HistoryEntry, error) {
	if !p.conn.Online() {
		p.skipped(models.TriggerManual, ErrOffline)
		return nil, ErrOffline
	}
	pending, err := p.HasPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	if !pending {
		p.skipped(models.TriggerManual, ErrNothingPending)
		return nil, ErrNothingPending
	}
	if p.syncing.Load() {
		return nil, ErrSyncInProgress
	}

	passCtx, cancel := p.detach(ctx)
	defer cancel()
	return p.runPass(passCtx, models.TriggerManual)
}

// SyncNow runs an automatic pass in the caller's goroutine.
func (p *SyncProcessor) SyncNow(ctx context.Context) (*models.HistoryEntry, error) {
	return p.runPass(ctx, models.TriggerAutomatic)
}

// detach drops ctx's cancellation but keeps its values. The returned
// context is cancelled when the processor's lifetime ends.
func (p *SyncProcessor) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	passCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	p.lifeMu.Lock()
	life := p.lifetime
	p.lifeMu.Unlock()
	if life == nil {
		return passCtx, cancel
	}

	stop := context.AfterFunc(life, cancel)
	return passCtx, func() {
		stop()
		cancel()
	}
}

// Trigger asks the Start loop for an automatic pass. Extra requests while
// one is already queued are dropped.
func (p *SyncProcessor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Start reacts to Trigger calls until ctx is done. Pending records left by a
// previous run are drained on startup when online.
func (p *SyncProcessor) Start(ctx context.Context) {
	p.logger.Info().Msg("sync processor started")
	defer p.logger.Info().Msg("sync processor stopped")
	defer p.resetRetry()

	p.lifeMu.Lock()
	p.lifetime = ctx
	p.lifeMu.Unlock()

	if p.conn.Online() {
		p.Trigger()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.trigger:
			_, err := p.runPass(ctx, models.TriggerAutomatic)
			switch {
			case err == nil:
			case errors.Is(err, ErrOffline), errors.Is(err, ErrNothingPending), errors.Is(err, ErrSyncInProgress):
				p.logger.Debug().Err(err).Msg("automatic sync skipped")
			default:
				p.logger.Error().Err(err).Msg("automatic sync failed")
			}
		}
	}
}

func (p *SyncProcessor) runPass(ctx context.Context, trigger models.Trigger) (*models.HistoryEntry, error) {
	if !p.conn.Online() {
		return nil, ErrOffline
	}
	if !p.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer p.syncing.Store(false)

	records, err := p.queue.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot queue: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNothingPending
	}

	start := time.Now()
	entry := models.HistoryEntry{
		ID:        uuid.NewString(),
		Timestamp: start,
		Trigger:   trigger,
		Details:   make([]string, 0, len(records)),
	}
	log := p.logger.With().Str("pass", entry.ID).Str("trigger", string(trigger)).Logger()
	log.Info().Int("records", len(records)).Msg("sync pass started")

	// bookkeeping must land even if the pass is cancelled mid-handler
	storeCtx := context.WithoutCancel(ctx)

	for _, rec := range records {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("sync pass interrupted")
			break
		}
		if detail, ok := p.replay(ctx, storeCtx, &log, rec, &entry); ok {
			entry.Details = append(entry.Details, detail)
		}
	}
	entry.TotalItems = entry.SuccessCount + entry.ErrorCount
	entry.DurationMs = time.Since(start).Milliseconds()

	if entry.TotalItems > 0 {
		if err := p.history.Record(storeCtx, entry); err != nil {
			log.Error().Err(err).Msg("failed to record sync history")
		}
	}

	metrics.ObservePass(string(trigger), time.Since(start))
	p.refreshDepth(storeCtx)
	p.publish(events.EventSyncCompleted, events.SyncCompletedPayload{
		HistoryID:    entry.ID,
		Trigger:      string(entry.Trigger),
		TotalItems:   entry.TotalItems,
		SuccessCount: entry.SuccessCount,
		ErrorCount:   entry.ErrorCount,
		DurationMs:   entry.DurationMs,
		Details:      entry.Details,
	})

	log.Info().
		Int("success", entry.SuccessCount).
		Int("errors", entry.ErrorCount).
		Int64("duration_ms", entry.DurationMs).
		Msg("sync pass finished")

	if entry.ErrorCount > 0 {
		p.scheduleRetry()
	} else {
		p.resetRetry()
	}
	return &entry, nil
}

// replay applies one record and returns its history detail line. ok is
// false when the pass was cancelled under the handler; such a record is
// left untouched and not counted.
func (p *SyncProcessor) replay(ctx, storeCtx context.Context, log *zerolog.Logger, rec models.QueueRecord, entry *models.HistoryEntry) (string, bool) {
	h, ok := p.registry.Get(rec.Module)
	if !ok {
		entry.ErrorCount++
		metrics.RecordProcessed(rec.Module, metrics.OutcomeNoHandler)
		log.Warn().Str("id", rec.ID).Str("module", rec.Module).Msg("no handler registered")
		return fmt.Sprintf("%s %s %s: no handler registered", rec.Module, rec.Action, rec.ID), true
	}

	if err := p.apply(ctx, h, rec); err != nil {
		if ctx.Err() != nil {
			log.Warn().Err(err).Str("id", rec.ID).Msg("pass cancelled during handler, record kept")
			return "", false
		}
		entry.ErrorCount++
		metrics.RecordProcessed(rec.Module, metrics.OutcomeFailure)
		log.Warn().Err(err).Str("id", rec.ID).Str("module", rec.Module).Msg("record failed")

		detail := fmt.Sprintf("%s %s %s: failed: %v", rec.Module, rec.Action, rec.ID, err)
		count, ierr := p.queue.IncrementRetry(storeCtx, rec.ID)
		switch {
		case errors.Is(ierr, domain.ErrRecordNotFound):
			log.Debug().Str("id", rec.ID).Msg("record removed during pass")
		case ierr != nil:
			log.Error().Err(ierr).Str("id", rec.ID).Msg("failed to increment retry count")
		case p.opts.Retry.Exhausted(count):
			rec.RetryCount = count
			if p.deadLetter(storeCtx, log, rec, err) {
				detail += " (moved to dead letter)"
			}
		}
		return detail, true
	}

	entry.SuccessCount++
	metrics.RecordProcessed(rec.Module, metrics.OutcomeSuccess)
	if err := p.queue.Remove(storeCtx, rec.ID); err != nil {
		log.Error().Err(err).Str("id", rec.ID).Msg("failed to remove synced record")
	}
	return fmt.Sprintf("%s %s %s: synced", rec.Module, rec.Action, rec.ID), true
}

// apply runs the handler with a bounded context and waits for it to return,
// so two handler calls never overlap. A handler that ignores its context
// holds the pass until it finishes. Panics come back as errors.
func (p *SyncProcessor) apply(ctx context.Context, h handlers.SyncHandler, rec models.QueueRecord) (err error) {
	hctx, cancel := context.WithTimeout(ctx, p.opts.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	err = h.Apply(hctx, rec)
	if err == nil || hctx.Err() == nil {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("pass cancelled: %w", err)
	}
	return fmt.Errorf("handler timed out after %s: %w", p.opts.HandlerTimeout, err)
}

func (p *SyncProcessor) deadLetter(ctx context.Context, log *zerolog.Logger, rec models.QueueRecord, cause error) bool {
	if p.dead == nil {
		return false
	}
	dl := models.DeadLetter{Record: rec, Reason: cause.Error(), DeadLetteredAt: time.Now()}
	if err := p.dead.PushDeadLetter(ctx, dl); err != nil {
		log.Error().Err(err).Str("id", rec.ID).Msg("failed to dead-letter record")
		return false
	}
	if err := p.queue.Remove(ctx, rec.ID); err != nil {
		log.Error().Err(err).Str("id", rec.ID).Msg("failed to remove dead-lettered record")
	}

	metrics.IncDeadLetter(rec.Module)
	log.Warn().Str("id", rec.ID).Int("retries", rec.RetryCount).Msg("record moved to dead letter")
	p.publish(events.EventRecordDeadLettered, events.RecordEventPayload{
		RecordID:   rec.ID,
		Module:     rec.Module,
		Action:     string(rec.Action),
		RetryCount: rec.RetryCount,
		Reason:     dl.Reason,
	})
	return true
}

func (p *SyncProcessor) scheduleRetry() {
	if !p.opts.AutoRetry {
		return
	}
	p.retryMu.Lock()
	defer p.retryMu.Unlock()

	p.retryAttempt++
	delay := p.opts.Retry.NextDelay(p.retryAttempt)
	if p.retryTimer != nil {
		p.retryTimer.Stop()
	}
	p.retryTimer = time.AfterFunc(delay, p.Trigger)
	p.logger.Debug().Int("attempt", p.retryAttempt).Dur("delay", delay).Msg("retry scheduled")
}

func (p *SyncProcessor) resetRetry() {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()

	p.retryAttempt = 0
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
}

func (p *SyncProcessor) skipped(trigger models.Trigger, reason error) {
	p.logger.Info().Str("reason", reason.Error()).Msg("manual sync skipped")
	p.publish(events.EventSyncSkipped, events.SyncSkippedPayload{
		Trigger: string(trigger),
		Reason:  reason.Error(),
	})
}

func (p *SyncProcessor) refreshDepth(ctx context.Context) {
	records, err := p.queue.Snapshot(ctx)
	if err != nil {
		return
	}
	metrics.SetQueueDepth(len(records))
}

func (p *SyncProcessor) publish(eventType string, payload interface{}) {
	if p.events == nil {
		return
	}
	if err := p.events.PublishJSON(eventType, payload); err != nil {
		p.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}
