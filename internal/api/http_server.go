package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"offlinesync/internal/config"
	"offlinesync/internal/export"
	"offlinesync/internal/metrics"
	"offlinesync/internal/models"
	"offlinesync/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// SyncService is the part of the sync processor the HTTP API drives.
type SyncService interface {
	Enqueue(ctx context.Context, module string, action models.Action, payload any) (models.QueueRecord, error)
	ClearQueue(ctx context.Context) error
	Queue(ctx context.Context) ([]models.QueueRecord, error)
	RequestManualSync(ctx context.Context) (*models.HistoryEntry, error)
	History(ctx context.Context) ([]models.HistoryEntry, error)
	ClearHistory(ctx context.Context) error
	DeadLetters(ctx context.Context) ([]models.DeadLetter, error)
	Online() bool
	Syncing() bool
	State() models.SyncState
}

// ReadyFunc reports whether the backing store can serve requests.
type ReadyFunc func(ctx context.Context) error

// HTTPServer exposes the queue, history and manual sync over HTTP.
type HTTPServer struct {
	cfg    config.APIConfig
	sync   SyncService
	ready  ReadyFunc
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc SyncService, ready ReadyFunc, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{cfg: cfg, sync: svc, ready: ready, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	srv.route(mux, "GET /healthz", srv.handleHealth)
	srv.route(mux, "GET /readyz", srv.handleReady)
	srv.route(mux, "GET /api/v1/status", srv.handleStatus)
	srv.route(mux, "GET /api/v1/queue", srv.handleListQueue)
	srv.route(mux, "POST /api/v1/queue", srv.handleEnqueue)
	srv.route(mux, "DELETE /api/v1/queue", srv.handleClearQueue)
	srv.route(mux, "POST /api/v1/sync", srv.handleSync)
	srv.route(mux, "GET /api/v1/history", srv.handleListHistory)
	srv.route(mux, "DELETE /api/v1/history", srv.handleClearHistory)
	srv.route(mux, "GET /api/v1/history/export", srv.handleExport)
	srv.route(mux, "GET /api/v1/deadletter", srv.handleDeadLetters)

	handler := loggingMiddleware(logger, srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}

	return srv
}

func (s *HTTPServer) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		h(w, r)
	})
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	Online     bool             `json:"online"`
	Syncing    bool             `json:"syncing"`
	State      models.SyncState `json:"state"`
	HasPending bool             `json:"hasPending"`
	Pending    int              `json:"pending"`
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	records, err := s.sync.Queue(r.Context())
	if err != nil {
		s.internalError(w, r, "read queue", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Online:     s.sync.Online(),
		Syncing:    s.sync.Syncing(),
		State:      s.sync.State(),
		HasPending: len(records) > 0,
		Pending:    len(records),
	})
}

func (s *HTTPServer) handleListQueue(w http.ResponseWriter, r *http.Request) {
	records, err := s.sync.Queue(r.Context())
	if err != nil {
		s.internalError(w, r, "read queue", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

type enqueueRequest struct {
	Module  string          `json:"module"`
	Action  models.Action   `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Module = strings.TrimSpace(req.Module)
	if req.Module == "" {
		writeError(w, http.StatusBadRequest, "module is required")
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	rec, err := s.sync.Enqueue(r.Context(), req.Module, req.Action, payload)
	switch {
	case errors.Is(err, worker.ErrInvalidAction), errors.Is(err, worker.ErrUnknownModule):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.internalError(w, r, "enqueue", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *HTTPServer) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.ClearQueue(r.Context()); err != nil {
		s.internalError(w, r, "clear queue", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	entry, err := s.sync.RequestManualSync(r.Context())
	switch {
	case errors.Is(err, worker.ErrNothingPending):
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped", "reason": err.Error()})
	case errors.Is(err, worker.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, worker.ErrOffline):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.internalError(w, r, "manual sync", err)
	default:
		writeJSON(w, http.StatusOK, entry)
	}
}

func (s *HTTPServer) handleListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.sync.History(r.Context())
	if err != nil {
		s.internalError(w, r, "read history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *HTTPServer) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.ClearHistory(r.Context()); err != nil {
		s.internalError(w, r, "clear history", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		report export.Report
		err    error
	)
	if report.History, err = s.sync.History(ctx); err != nil {
		s.internalError(w, r, "read history", err)
		return
	}
	if report.Queue, err = s.sync.Queue(ctx); err != nil {
		s.internalError(w, r, "read queue", err)
		return
	}
	if report.DeadLetters, err = s.sync.DeadLetters(ctx); err != nil {
		s.internalError(w, r, "read dead letters", err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, report); err != nil {
		s.internalError(w, r, "export", err)
		return
	}

	name := fmt.Sprintf("sync_report_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *HTTPServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := s.sync.DeadLetters(r.Context())
	if err != nil {
		s.internalError(w, r, "read dead letters", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deadLetters": letters})
}

func (s *HTTPServer) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error().Err(err).Str("op", op).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func loggingMiddleware(logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		logger.Info().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
