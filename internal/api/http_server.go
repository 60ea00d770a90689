package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"channelsync/internal/config"
	"channelsync/internal/database"
	"channelsync/internal/metrics"
	"channelsync/internal/models"
	"channelsync/internal/orchestrator"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	requestIDHeader    = "X-Request-ID"
	defaultStatusLimit = 20
	maxStatusLimit     = 500
	maxBodySize        = 1 << 20
)

// Dispatcher enqueues sync requests.
type Dispatcher interface {
	ScheduleSync(ctx context.Context, integrationID int64, connector string, params map[string]interface{}, transportBatchSize int) (string, error)
	ScheduleReverseSync(ctx context.Context, integrationID int64, connector string, params map[string]interface{}) (string, error)
}

// StatusStore is the read side of the status endpoint.
type StatusStore interface {
	GetIntegration(ctx context.Context, id int64) (*models.Integration, error)
	GetStatuses(ctx context.Context, integrationID int64, limit int) ([]models.Status, error)
}

// Deps are the collaborators of the HTTP API.
type Deps struct {
	Dispatcher Dispatcher
	Store      StatusStore
	// Checks are run by /readyz; each must return quickly.
	Checks map[string]func(ctx context.Context) error
	// Metrics is served on /metrics when set.
	Metrics http.Handler
}

// HTTPServer exposes sync scheduling and status history.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	logger zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "http").Logger()
	}
	srv := &HTTPServer{cfg: cfg, deps: deps, auth: NewHTTPAuth(cfg), logger: base}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/integrations/{id}/sync", srv.handleSync)
	mux.HandleFunc("POST /api/v1/integrations/{id}/reverse-sync", srv.handleReverseSync)
	mux.HandleFunc("GET /api/v1/integrations/{id}/status", srv.handleStatus)
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /readyz", srv.handleReadyz)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type syncRequest struct {
	Connector          string                 `json:"connector"`
	Parameters         map[string]interface{} `json:"connector_parameters"`
	TransportBatchSize int                    `json:"transport_batch_size"`
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	id, ok := integrationID(w, r)
	if !ok {
		return
	}
	var body syncRequest
	if !decodeBody(w, r, &body) {
		return
	}

	messageID, err := s.deps.Dispatcher.ScheduleSync(r.Context(), id, body.Connector, body.Parameters, body.TransportBatchSize)
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"message_id": messageID, "integration_id": id})
}

func (s *HTTPServer) handleReverseSync(w http.ResponseWriter, r *http.Request) {
	id, ok := integrationID(w, r)
	if !ok {
		return
	}
	var body syncRequest
	if !decodeBody(w, r, &body) {
		return
	}

	messageID, err := s.deps.Dispatcher.ScheduleReverseSync(r.Context(), id, body.Connector, body.Parameters)
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"message_id": messageID, "integration_id": id})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := integrationID(w, r)
	if !ok {
		return
	}

	limit := defaultStatusLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxStatusLimit {
			n = maxStatusLimit
		}
		limit = n
	}

	integration, err := s.deps.Store.GetIntegration(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "integration not found")
		return
	}
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	statuses, err := s.deps.Store.GetStatuses(r.Context(), id, limit)
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	if statuses == nil {
		statuses = []models.Status{}
	}

	var lastSync *time.Time
	if integration.Transport != nil {
		lastSync = integration.Transport.LastSyncDate
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"integration": map[string]any{
			"id":             integration.ID,
			"name":           integration.Name,
			"type":           integration.Type,
			"enabled":        integration.Enabled,
			"connectors":     integration.Connectors,
			"last_sync_date": lastSync,
		},
		"statuses": statuses,
	})
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.deps.Checks))
	code := http.StatusOK
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	status := "ok"
	if code != http.StatusOK {
		status = "unavailable"
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (s *HTTPServer) writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrIntegrationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrIntegrationDisabled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrMisconfigured):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeInternal(w, r, err)
	}
}

func (s *HTTPServer) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error().Err(err).Str("request_id", w.Header().Get(requestIDHeader)).Str("path", r.URL.Path).Msg("Request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func integrationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid integration id")
		return 0, false
	}
	return id, true
}

// decodeBody accepts an empty body.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.IncHTTP(pattern)
		s.logger.Info().
			Str("request_id", requestID).
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
