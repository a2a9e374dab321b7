// Package connectivity tracks whether the remote system is reachable and
// signals when it comes back.
package connectivity

import (
	"context"
	"sync"
	"time"

	"offlinesync/internal/domain"
	"offlinesync/internal/events"

	"github.com/rs/zerolog"
)

// Source reports the current reachability of the remote system.
type Source interface {
	Check(ctx context.Context) bool
}

// Monitor holds the online flag, fans transitions out to subscribers and
// fires restore callbacks once the connection has settled.
type Monitor struct {
	mu          sync.Mutex
	online      bool
	settle      time.Duration
	generation  uint64
	pending     *time.Timer
	subscribers []func(online bool)
	restore     []func()

	events domain.EventPublisher
	logger *zerolog.Logger
}

func NewMonitor(initial bool, settle time.Duration, publisher domain.EventPublisher, logger *zerolog.Logger) *Monitor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if settle < 0 {
		settle = 0
	}
	return &Monitor{
		online: initial,
		settle: settle,
		events: publisher,
		logger: logger,
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn for every state change.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// OnRestore registers fn to run after an offline to online transition,
// once the settle delay passed with the connection still up.
func (m *Monitor) OnRestore(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restore = append(m.restore, fn)
}

// Set records the externally observed state. Repeated values are ignored.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.generation++
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
	if online && len(m.restore) > 0 {
		gen := m.generation
		m.pending = time.AfterFunc(m.settle, func() { m.fireRestore(gen) })
	}
	subs := append(([]func(bool))(nil), m.subscribers...)
	m.mu.Unlock()

	if online {
		m.logger.Info().Msg("connectivity restored")
	} else {
		m.logger.Warn().Msg("connectivity lost")
	}

	for _, fn := range subs {
		fn(online)
	}

	if m.events != nil {
		payload := events.ConnectivityPayload{Online: online, At: time.Now()}
		if err := m.events.PublishJSON(events.EventConnectivity, payload); err != nil {
			m.logger.Warn().Err(err).Msg("failed to publish connectivity event")
		}
	}
}

func (m *Monitor) fireRestore(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || !m.online {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	callbacks := append(([]func())(nil), m.restore...)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// Run polls src every interval and feeds the result into Set until ctx ends.
func (m *Monitor) Run(ctx context.Context, src Source, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.Set(src.Check(ctx))

		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels a pending restore callback.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}
