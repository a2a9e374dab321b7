package handlers

import (
	"context"
	"errors"
	"testing"

	"offlinesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(name string) Func {
	return Func{Name: name, Fn: func(context.Context, models.QueueRecord) error { return nil }}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(noop(models.ModuleTickets)))
	require.NoError(t, r.Register(noop(models.ModuleTechnicians)))

	err := r.Register(noop(models.ModuleTickets))
	assert.ErrorIs(t, err, ErrDuplicateModule)
	assert.ErrorIs(t, r.Register(noop("")), ErrEmptyModule)

	h, ok := r.Get(models.ModuleTickets)
	require.True(t, ok)
	assert.Equal(t, models.ModuleTickets, h.Module())

	assert.False(t, r.Has(models.ModuleTechnicalResources))
	assert.Equal(t, []string{models.ModuleTechnicians, models.ModuleTickets}, r.Modules())
}

func TestFuncApply(t *testing.T) {
	boom := errors.New("boom")
	var got models.QueueRecord
	f := Func{Name: "m", Fn: func(_ context.Context, rec models.QueueRecord) error {
		got = rec
		return boom
	}}

	err := f.Apply(context.Background(), models.QueueRecord{ID: "r1"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "r1", got.ID)
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() {
		r.MustRegister(noop("a"), noop("a"))
	})
}
