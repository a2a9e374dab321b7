// Package handlers maps module names to the code that replays their
// mutations against the remote system.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"offlinesync/internal/models"
)

var (
	ErrDuplicateModule = errors.New("handler already registered for module")
	ErrEmptyModule     = errors.New("module name is empty")
)

// SyncHandler applies one queued mutation remotely. A nil error means the
// remote side accepted it.
type SyncHandler interface {
	Module() string
	Apply(ctx context.Context, rec models.QueueRecord) error
}

// Func adapts a plain function to SyncHandler.
type Func struct {
	Name string
	Fn   func(ctx context.Context, rec models.QueueRecord) error
}

func (f Func) Module() string { return f.Name }

func (f Func) Apply(ctx context.Context, rec models.QueueRecord) error {
	return f.Fn(ctx, rec)
}

// Registry holds at most one handler per module.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]SyncHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]SyncHandler)}
}

func (r *Registry) Register(h SyncHandler) error {
	name := h.Module()
	if name == "" {
		return ErrEmptyModule
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateModule, name)
	}
	r.handlers[name] = h
	return nil
}

// MustRegister panics on registration errors; meant for wiring at startup.
func (r *Registry) MustRegister(hs ...SyncHandler) {
	for _, h := range hs {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(module string) (SyncHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[module]
	return h, ok
}

func (r *Registry) Has(module string) bool {
	_, ok := r.Get(module)
	return ok
}

// Modules returns the registered module names, sorted.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
