package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"offlinesync/internal/config"
	"offlinesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type seenRequest struct {
	Method         string
	Path           string
	Body           string
	Auth           string
	IdempotencyKey string
}

func newRemote(t *testing.T, status int) (*httptest.Server, *[]seenRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []seenRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, seenRequest{
			Method:         r.Method,
			Path:           r.URL.Path,
			Body:           string(body),
			Auth:           r.Header.Get("Authorization"),
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		})
		mu.Unlock()
		w.WriteHeader(status)
		if status >= 400 {
			_, _ = w.Write([]byte(`{"error":"rejected"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func testRecord(id string, action models.Action, payload string) models.QueueRecord {
	return models.QueueRecord{
		ID:        id,
		Module:    models.ModuleTickets,
		Action:    action,
		Payload:   json.RawMessage(payload),
		Timestamp: time.Now(),
	}
}

func TestRESTHandler_ActionMapping(t *testing.T) {
	srv, seen := newRemote(t, http.StatusOK)
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, srv.Client())

	client, err := NewRESTClient(ctx, config.RemoteConfig{BaseURL: srv.URL + "/api/", Timeout: time.Second}, nil)
	require.NoError(t, err)
	h := client.Handler(models.ModuleTickets, "/tickets/")
	assert.Equal(t, models.ModuleTickets, h.Module())

	require.NoError(t, h.Apply(ctx, testRecord("r1", models.ActionCreate, `{"title":"A"}`)))
	require.NoError(t, h.Apply(ctx, testRecord("r2", models.ActionUpdate, `{"id":"X 1","updates":{"title":"B"}}`)))
	require.NoError(t, h.Apply(ctx, testRecord("r3", models.ActionDelete, `{"id":42}`)))

	require.Len(t, *seen, 3)
	assert.Equal(t, seenRequest{Method: http.MethodPost, Path: "/api/tickets", Body: `{"title":"A"}`, IdempotencyKey: "r1"}, (*seen)[0])
	assert.Equal(t, http.MethodPatch, (*seen)[1].Method)
	assert.Equal(t, "/api/tickets/X 1", (*seen)[1].Path)
	assert.JSONEq(t, `{"title":"B"}`, (*seen)[1].Body)
	assert.Equal(t, http.MethodDelete, (*seen)[2].Method)
	assert.Equal(t, "/api/tickets/42", (*seen)[2].Path)
	assert.Empty(t, (*seen)[2].Body)
}

func TestRESTHandler_Errors(t *testing.T) {
	srv, _ := newRemote(t, http.StatusUnprocessableEntity)
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, srv.Client())

	client, err := NewRESTClient(ctx, config.RemoteConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	h := client.Handler(models.ModuleTickets, "tickets")

	err = h.Apply(ctx, testRecord("r1", models.ActionCreate, `{}`))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
	assert.Contains(t, se.Error(), "rejected")

	assert.Error(t, h.Apply(ctx, testRecord("r2", models.ActionUpdate, `{"updates":{}}`)), "update without id")
	assert.Error(t, h.Apply(ctx, testRecord("r3", models.Action("upsert"), `{}`)))
}

func TestRESTHandler_DeleteNotFoundIsSuccess(t *testing.T) {
	srv, _ := newRemote(t, http.StatusNotFound)
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, srv.Client())

	client, err := NewRESTClient(ctx, config.RemoteConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	assert.NoError(t, client.Handler("technicians", "technicians").Apply(ctx, testRecord("r1", models.ActionDelete, `{"id":"7"}`)))
}

func TestRESTHandler_OAuth2(t *testing.T) {
	srv, seen := newRemote(t, http.StatusCreated)
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, srv.Client())

	client, err := NewRESTClient(ctx, config.RemoteConfig{
		BaseURL: srv.URL,
		OAuth2: config.OAuth2Config{
			Enabled:      true,
			TokenURL:     srv.URL + "/oauth/token",
			ClientID:     "id",
			ClientSecret: "secret",
		},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, client.Handler("tickets", "tickets").Apply(ctx, testRecord("r1", models.ActionCreate, `{}`)))
	require.Len(t, *seen, 1)
	assert.Equal(t, "Bearer tok-123", (*seen)[0].Auth)
}

func TestRESTHandler_RateLimitHonoursContext(t *testing.T) {
	srv, seen := newRemote(t, http.StatusOK)
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, srv.Client())

	client, err := NewRESTClient(ctx, config.RemoteConfig{
		BaseURL:   srv.URL,
		RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1},
	}, nil)
	require.NoError(t, err)
	h := client.Handler("tickets", "tickets")

	require.NoError(t, h.Apply(ctx, testRecord("r1", models.ActionCreate, `{}`)))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, h.Apply(short, testRecord("r2", models.ActionCreate, `{}`)))
	assert.Len(t, *seen, 1)
}

func TestNewRESTClient_InvalidBase(t *testing.T) {
	_, err := NewRESTClient(context.Background(), config.RemoteConfig{BaseURL: "not a url"}, nil)
	assert.Error(t, err)
}
