package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"offlinesync/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_SubscribeAndEvents(t *testing.T) {
	bus := events.NewEventBus()
	var published []events.ConnectivityPayload
	bus.Subscribe(events.EventConnectivity, func(e *events.Event) error {
		var p events.ConnectivityPayload
		require.NoError(t, e.Decode(&p))
		published = append(published, p)
		return nil
	})

	m := NewMonitor(false, time.Millisecond, bus, nil)
	var seen []bool
	m.Subscribe(func(online bool) { seen = append(seen, online) })

	m.Set(true)
	m.Set(true)
	m.Set(false)

	assert.Equal(t, []bool{true, false}, seen)
	require.Len(t, published, 2)
	assert.True(t, published[0].Online)
	assert.False(t, published[1].Online)
	assert.False(t, m.Online())
}

func TestMonitor_CallbacksRunOnSnapshot(t *testing.T) {
	m := NewMonitor(false, time.Millisecond, nil, nil)

	var late atomic.Int32
	m.Subscribe(func(bool) {
		m.Subscribe(func(bool) { late.Add(1) })
	})
	restored := make(chan struct{}, 2)
	m.OnRestore(func() {
		m.OnRestore(func() {})
		restored <- struct{}{}
	})

	m.Set(true)
	assert.Equal(t, int32(0), late.Load(), "a subscriber added during Set waits for the next change")
	select {
	case <-restored:
	case <-time.After(time.Second):
		t.Fatal("restore callback did not run")
	}

	m.Set(false)
	assert.Equal(t, int32(1), late.Load())
}

func TestMonitor_RestoreAfterSettle(t *testing.T) {
	m := NewMonitor(false, 20*time.Millisecond, nil, nil)
	var calls atomic.Int32
	m.OnRestore(func() { calls.Add(1) })

	m.Set(true)
	assert.Equal(t, int32(0), calls.Load(), "callback must wait for the settle delay")

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMonitor_FlapCancelsRestore(t *testing.T) {
	m := NewMonitor(false, 50*time.Millisecond, nil, nil)
	var calls atomic.Int32
	m.OnRestore(func() { calls.Add(1) })

	m.Set(true)
	m.Set(false)

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestMonitor_NoRestoreWhenStartingOnline(t *testing.T) {
	m := NewMonitor(true, time.Millisecond, nil, nil)
	var calls atomic.Int32
	m.OnRestore(func() { calls.Add(1) })

	m.Set(true)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestMonitor_RunWithStaticSource(t *testing.T) {
	src := NewStaticSource(false)
	m := NewMonitor(false, time.Millisecond, nil, nil)

	var mu sync.Mutex
	var restored bool
	m.OnRestore(func() {
		mu.Lock()
		restored = true
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, src, 5*time.Millisecond)
		close(done)
	}()

	src.Set(true)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return restored
	}, time.Second, 5*time.Millisecond)
	assert.True(t, m.Online())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestProber(t *testing.T) {
	status := atomic.Int32{}
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p := NewProber(srv.URL, time.Second, srv.Client())
	ctx := context.Background()

	assert.True(t, p.Check(ctx))

	status.Store(http.StatusUnauthorized)
	assert.True(t, p.Check(ctx), "4xx still means the remote answered")

	status.Store(http.StatusServiceUnavailable)
	assert.False(t, p.Check(ctx))

	srv.Close()
	assert.False(t, p.Check(ctx))
}

func TestProber_BadURL(t *testing.T) {
	p := NewProber("://bad", 0, nil)
	assert.False(t, p.Check(context.Background()))
}
