package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionValid(t *testing.T) {
	assert.True(t, ActionCreate.Valid())
	assert.True(t, ActionUpdate.Valid())
	assert.True(t, ActionDelete.Valid())
	assert.False(t, Action("upsert").Valid())
	assert.False(t, Action("").Valid())
}

func TestQueueRecord_EntityID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{name: "string id", payload: `{"id":"X","updates":{"title":"B"}}`, want: "X"},
		{name: "numeric id", payload: `{"id":42}`, want: "42"},
		{name: "missing id", payload: `{"title":"A"}`, wantErr: true},
		{name: "null id", payload: `{"id":null}`, wantErr: true},
		{name: "empty id", payload: `{"id":""}`, wantErr: true},
		{name: "not an object", payload: `[1,2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := QueueRecord{Payload: json.RawMessage(tt.payload)}
			got, err := rec.EntityID()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueueRecord_JSONFieldNames(t *testing.T) {
	rec := QueueRecord{ID: "tickets-1", Module: ModuleTickets, Action: ActionCreate, Payload: json.RawMessage(`{"title":"A"}`), RetryCount: 2}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"id", "module", "action", "payload", "timestamp", "retryCount"} {
		assert.Contains(t, fields, key)
	}
}
