// Package server exposes the session over HTTP and websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarchat/internal/archive"
	"github.com/normanking/avatarchat/internal/bus"
	"github.com/normanking/avatarchat/internal/engine"
	"github.com/normanking/avatarchat/internal/gate"
	"github.com/normanking/avatarchat/internal/logging"
	"github.com/normanking/avatarchat/internal/metrics"
	"github.com/normanking/avatarchat/internal/session"
)

const (
	maxBodyBytes   = 1 << 20
	connectTimeout = 30 * time.Second
)

// Options configures the HTTP server.
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// Server serves the session API, the viewer stream and, in bridge mode, the
// engine page socket.
type Server struct {
	opts    Options
	ctl     *session.Controller
	hub     *Hub
	archive *archive.Store
	bridge  http.Handler
	logs    *logging.Logger
	logger  zerolog.Logger
	mux     *http.ServeMux
	http    *http.Server
}

// Option attaches optional collaborators.
type Option func(*Server)

// WithArchive enables the /api/sessions routes.
func WithArchive(store *archive.Store) Option {
	return func(s *Server) { s.archive = store }
}

// WithBridge mounts the engine page socket at /bridge.
func WithBridge(h http.Handler) Option {
	return func(s *Server) { s.bridge = h }
}

// WithLogHistory enables /api/logs.
func WithLogHistory(l *logging.Logger) Option {
	return func(s *Server) { s.logs = l }
}

// New wires the routes. The hub is attached to eventBus so viewers see every
// session event.
func New(opts Options, ctl *session.Controller, eventBus *bus.EventBus, logger zerolog.Logger, extra ...Option) *Server {
	s := &Server{
		opts:   opts,
		ctl:    ctl,
		logger: logger.With().Str("component", "server").Logger(),
		mux:    http.NewServeMux(),
	}
	for _, o := range extra {
		o(s)
	}

	s.hub = NewHub(CheckOrigin(opts.AllowedOrigins), logger)
	if eventBus != nil {
		s.hub.Attach(eventBus)
	}

	s.routes()
	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	s.mux.HandleFunc("DELETE /api/transcript", s.handleClearTranscript)
	s.mux.HandleFunc("GET /api/logs", s.handleLogs)

	s.mux.HandleFunc("POST /api/connect", s.handleConnect)
	s.mux.HandleFunc("POST /api/disconnect", s.command(s.ctl.Disconnect))
	s.mux.HandleFunc("POST /api/text", s.handleText)
	s.mux.HandleFunc("POST /api/echo", s.handleEcho)
	s.mux.HandleFunc("POST /api/echo/next", s.handleEchoNext)
	s.mux.HandleFunc("POST /api/audio-echo/start", s.handleAudioEchoStart)
	s.mux.HandleFunc("POST /api/audio-echo/end", s.command(s.ctl.EndAudioEcho))
	s.mux.HandleFunc("POST /api/stt/start", s.command(s.ctl.StartStt))
	s.mux.HandleFunc("POST /api/stt/end", s.command(s.ctl.EndStt))
	s.mux.HandleFunc("POST /api/stt/cancel", s.command(s.ctl.CancelStt))
	s.mux.HandleFunc("POST /api/speech/stop", s.handleStopSpeech)
	s.mux.HandleFunc("POST /api/messages/clear", s.command(s.ctl.ClearMessageList))
	s.mux.HandleFunc("POST /api/avatar", s.handleChangeAvatar)

	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}/transcript", s.handleSessionTranscript)

	s.mux.HandleFunc("GET /ws", s.handleViewer)
	if s.bridge != nil {
		s.mux.Handle("GET /bridge", s.bridge)
	}
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	return s.instrument(s.mux)
}

// Hub returns the viewer hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("HTTP server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.hub.Close()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hijacked connections cannot be wrapped.
		if r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RequestCount.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// CheckOrigin builds a websocket origin policy. An empty list allows
// same-host origins only; "*" allows everything.
func CheckOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrAlreadyConnected),
		errors.Is(err, session.ErrAvatarBusy),
		errors.Is(err, engine.ErrNotInitialized),
		errors.Is(err, gate.ErrEmptyPlaylist):
		return http.StatusConflict
	case errors.Is(err, session.ErrEmptyMessage),
		errors.Is(err, engine.ErrInvalidOption):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotAttached):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrAckTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, archive.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, archive.ErrInvalidID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeError(w, status, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		return errBadBody
	}
	return nil
}

var errBadBody = errors.New("request body must be a JSON object")

type textRequest struct {
	Text string `json:"text"`
}

type audioRequest struct {
	Audio string `json:"audio"`
}
