package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/constants"
	"github.com/rescale/shellxfer/internal/events"
	"github.com/rescale/shellxfer/internal/history"
	"github.com/rescale/shellxfer/internal/logging"
	"github.com/rescale/shellxfer/internal/transfer"
)

// Engine is the part of the transfer engine the server drives.
type Engine interface {
	Enqueue(spec transfer.TaskSpec) (transfer.TaskInfo, error)
	CancelActive() bool
	Stats() transfer.Stats
	Snapshot() []transfer.TaskInfo
}

// ServerOptions configures a Server.
type ServerOptions struct {
	Engine  Engine
	Bus     *events.EventBus
	History *history.Store // optional; /v1/history returns 404 without it
	Logger  *logging.Logger

	// DefaultDestination fills fields a request leaves out.
	DefaultDestination channel.Destination

	// Token is the bearer token every route except /health requires.
	Token string

	// Heartbeat is the SSE keep-alive interval. Zero uses SSEHeartbeatInterval.
	Heartbeat time.Duration
}

// Server is the loopback control API of a running engine.
type Server struct {
	opts ServerOptions
	mux  *http.ServeMux
}

// NewServer creates a server. Engine, Bus and Token are required.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Engine == nil || opts.Bus == nil {
		return nil, errors.New("control API requires an engine and an event bus")
	}
	if opts.Token == "" {
		return nil, errors.New("control API requires a token")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = constants.SSEHeartbeatInterval
	}

	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.mux.HandleFunc("/health", s.health)
	s.mux.HandleFunc("/v1/transfers", s.transfers)
	s.mux.HandleFunc("/v1/cancel", s.cancel)
	s.mux.HandleFunc("/v1/status", s.status)
	s.mux.HandleFunc("/v1/history", s.history)
	s.mux.HandleFunc("/v1/events", s.events)
	return s, nil
}

// Handler returns the authenticated handler tree.
func (s *Server) Handler() http.Handler {
	return authMiddleware(s.opts.Token, s.mux)
}

// Serve runs the API on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: constants.APIRequestTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.opts.Logger.Info().Str("addr", ln.Addr().String()).Msg("Control API listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.APIShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.opts.Logger.Warn().Err(err).Msg("Control API shutdown incomplete")
			srv.Close()
		}
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": s.opts.Engine.Stats().Running,
	})
}

func (s *Server) transfers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	defer r.Body.Close()

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	spec, err := req.taskSpec(s.opts.DefaultDestination)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := s.opts.Engine.Enqueue(spec)
	switch {
	case errors.Is(err, transfer.ErrEngineStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.opts.Logger.Debug().Str("task_id", info.ID).Str("remote_path", info.RemotePath).Msg("Transfer enqueued via control API")
	writeJSON(w, http.StatusAccepted, info)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Canceled: s.opts.Engine.CancelActive()})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Stats: s.opts.Engine.Stats(),
		Tasks: s.opts.Engine.Snapshot(),
	})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.opts.History == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	limit := constants.HistoryDefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	recs, err := s.opts.History.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Records: recs})
}

// events streams every bus event as SSE until the client goes away.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.opts.Bus.SubscribeAll()
	defer s.opts.Bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.opts.Logger.Debug().Err(err).Msg("Failed to marshal event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type(), data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func authMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		provided := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if len(provided) == len(token) && subtle.ConstantTimeCompare([]byte(provided), []byte(token)) == 1 {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// EnsureToken reads the bearer token at path, creating one if missing.
func EnsureToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("failed to create token directory: %w", err)
	}
	token := uuid.NewString()
	if err := os.WriteFile(path, []byte(token), 0600); err != nil {
		return "", fmt.Errorf("failed to write token: %w", err)
	}
	return token, nil
}

// ReadToken reads an existing bearer token.
func ReadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: no token at %s", ErrServerUnavailable, path)
		}
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
