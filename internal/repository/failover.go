package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"offlinesync/internal/domain"
	"offlinesync/internal/models"

	"github.com/rs/zerolog"
)

// FailoverHistoryStore writes history to the primary store and falls back to
// a secondary one while the primary is failing. The primary is retried after
// recheckAfter. A Clear that cannot reach the primary is replayed on it
// before the primary serves anything again.
type FailoverHistoryStore struct {
	primary      domain.HistoryStore
	fallback     domain.HistoryStore
	logger       *zerolog.Logger
	recheckAfter time.Duration

	isDown       atomic.Bool
	pendingClear atomic.Bool
	mu           sync.Mutex
	lastCheck time.Time
}

var _ domain.HistoryStore = (*FailoverHistoryStore)(nil)

func NewFailoverHistoryStore(primary, fallback domain.HistoryStore, logger *zerolog.Logger) *FailoverHistoryStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverHistoryStore{
		primary:      primary,
		fallback:     fallback,
		logger:       logger,
		recheckAfter: time.Minute,
	}
}

// usePrimary reports whether the primary should be tried for this call.
func (r *FailoverHistoryStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastCheck) > r.recheckAfter
}

func (r *FailoverHistoryStore) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("primary history store failed, falling back")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverHistoryStore) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("primary history store recovered")
	}
}

// flushClear applies a deferred Clear to the primary.
func (r *FailoverHistoryStore) flushClear(ctx context.Context) error {
	if !r.pendingClear.Load() {
		return nil
	}
	if err := r.primary.Clear(ctx); err != nil {
		return err
	}
	r.pendingClear.Store(false)
	r.logger.Info().Msg("deferred history clear applied to primary")
	return nil
}

func (r *FailoverHistoryStore) Record(ctx context.Context, entry models.HistoryEntry) error {
	if r.usePrimary() {
		err := r.flushClear(ctx)
		if err == nil {
			err = r.primary.Record(ctx, entry)
		}
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.Record(ctx, entry)
}

func (r *FailoverHistoryStore) List(ctx context.Context) ([]models.HistoryEntry, error) {
	if r.usePrimary() {
		err := r.flushClear(ctx)
		if err == nil {
			var entries []models.HistoryEntry
			entries, err = r.primary.List(ctx)
			if err == nil {
				r.markUp()
				return entries, nil
			}
		}
		r.markDown(err)
	}
	return r.fallback.List(ctx)
}

// Clear clears both stores. If the primary is unreachable the clear is
// remembered and applied once it recovers.
func (r *FailoverHistoryStore) Clear(ctx context.Context) error {
	if err := r.fallback.Clear(ctx); err != nil {
		return err
	}
	if r.usePrimary() {
		err := r.primary.Clear(ctx)
		if err == nil {
			r.pendingClear.Store(false)
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	r.pendingClear.Store(true)
	r.logger.Warn().Msg("primary history store unavailable, clear deferred")
	return nil
}
