package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"offlinesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupMockSheets(t *testing.T) (*http.ServeMux, *SheetsHandler) {
	t.Helper()
	ctx := context.Background()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(ctx, option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	h := NewSheetsHandler(srv, "audit_tid", "Mutations", models.ModuleTechnicalResources)
	h.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	return mux, h
}

func TestSheetsHandler_Apply(t *testing.T) {
	mux, h := setupMockSheets(t)

	var got sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/audit_tid/values/Mutations!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "RAW", r.URL.Query().Get("valueInputOption"))
		assert.Equal(t, "INSERT_ROWS", r.URL.Query().Get("insertDataOption"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: "Mutations!A2:H2"},
		})
	})

	rec := models.QueueRecord{
		ID:         "technical_resources-1-abc",
		Module:     models.ModuleTechnicalResources,
		Action:     models.ActionUpdate,
		Payload:    json.RawMessage(`{"id":"res-9","updates":{"state":"broken"}}`),
		Timestamp:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		RetryCount: 2,
	}
	require.NoError(t, h.Apply(context.Background(), rec))

	require.Len(t, got.Values, 1)
	row := got.Values[0]
	require.Len(t, row, 8)
	assert.Equal(t, "technical_resources-1-abc", row[0])
	assert.Equal(t, "update", row[2])
	assert.Equal(t, "res-9", row[3])
	assert.Equal(t, "2024-05-01 10:00:00", row[7])
}

func TestSheetsHandler_ApplyRemoteError(t *testing.T) {
	mux, h := setupMockSheets(t)
	mux.HandleFunc("/v4/spreadsheets/audit_tid/values/Mutations!A:A:append", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":503,"message":"backend"}}`, http.StatusServiceUnavailable)
	})

	rec := models.QueueRecord{ID: "r", Action: models.ActionCreate, Payload: json.RawMessage(`{}`)}
	assert.Error(t, h.Apply(context.Background(), rec))
}

func TestSheetsHandler_DeleteNeedsID(t *testing.T) {
	_, h := setupMockSheets(t)
	rec := models.QueueRecord{ID: "r", Action: models.ActionDelete, Payload: json.RawMessage(`{}`)}
	assert.Error(t, h.Apply(context.Background(), rec))
}

func TestSheetsHandler_TestConnection(t *testing.T) {
	mux, h := setupMockSheets(t)
	mux.HandleFunc("/v4/spreadsheets/audit_tid/values/Mutations!A1", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	assert.NoError(t, h.TestConnection(context.Background()))
}

func TestNewSheetsService_MissingFile(t *testing.T) {
	_, err := NewSheetsService(context.Background(), "/nonexistent/creds.json")
	assert.Error(t, err)
}
