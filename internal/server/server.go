// Package server exposes the session archive and the live transcription
// session over HTTP and a WebSocket.
//
//	GET    /api/sessions                  list (?type=&q=&limit=&offset=)
//	GET    /api/sessions/stats            aggregate statistics
//	GET    /api/sessions/{id}             one session
//	PATCH  /api/sessions/{id}             edit title, type or summary
//	DELETE /api/sessions/{id}             remove
//	GET    /api/sessions/{id}/export      download (?format=txt|pdf|docx)
//	GET    /api/live                      live state
//	POST   /api/live/{start,pause,resume,stop}
//	POST   /api/live/save                 persist the live transcript
//	POST   /api/live/answers              toggle question answering
//	GET    /api/live/export               download the live transcript
//	GET    /api/live/ws                   audio in, live events out
//	POST   /api/live/items/{id}/clarify   explain one transcript item
//	POST   /api/ask                       ad hoc question over recent context
//
// Errors are JSON objects of the form {"error": "..."}.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/MrWong99/scribeline/internal/answer"
	"github.com/MrWong99/scribeline/internal/health"
	"github.com/MrWong99/scribeline/internal/observe"
	"github.com/MrWong99/scribeline/internal/recorder"
	"github.com/MrWong99/scribeline/internal/transcript"
	"github.com/MrWong99/scribeline/pkg/store"
	"github.com/MrWong99/scribeline/pkg/types"
)

// ErrUnavailable is returned by a [Live] implementation when a feature needs a
// provider that is not configured.
var ErrUnavailable = errors.New("server: feature unavailable")

// ErrItemNotFound is returned by a [Live] implementation for an unknown
// transcript item ID.
var ErrItemNotFound = errors.New("server: transcript item not found")

var errBadRequest = errors.New("bad request")

const maxBodyBytes = 1 << 20

// Live is the live-session controller the API drives.
type Live interface {
	State() types.LiveSessionState
	Start(ctx context.Context, opts transcript.CaptureOptions) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	SetQuestionAnswerEnabled(on bool)
	Save(ctx context.Context, opts recorder.SnapshotOptions) (*types.Session, error)
	Ask(ctx context.Context, question string) (answer.Answer, error)
	Clarify(ctx context.Context, itemID string) (answer.Answer, error)
	SendAudio(frame []byte) error

	// Subscribe returns a stream of live events. The first event is an
	// EventSnapshot of the state at subscription; every later event describes a
	// change after it. The channel is closed after cancel is called or when the
	// controller shuts down.
	Subscribe() (events <-chan types.LiveEvent, cancel func())
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics sets the metrics used by the request middleware.
// Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth registers /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler serves h under path, typically the Prometheus scrape
// endpoint.
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(s *Server) { s.metricsPath, s.metricsHandler = path, h }
}

// WithAllowedOrigins enables CORS and cross-origin WebSocket upgrades for the
// listed origins ("https://app.example.com", or "*" for any).
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = slices.Clone(origins) }
}

// WithSaveDefaults sets what a save request without explicit choices uses.
func WithSaveDefaults(kind types.SessionKind, summarise bool) Option {
	return func(s *Server) { s.defaultKind, s.summarise = kind, summarise }
}

// Server routes API requests to the live controller and the session store.
type Server struct {
	live           Live
	store          store.Store
	log            *slog.Logger
	metrics        *observe.Metrics
	health         *health.Handler
	metricsPath    string
	metricsHandler http.Handler
	origins        []string
	defaultKind    types.SessionKind
	summarise      bool

	handler http.Handler
}

// New builds the route table.
func New(live Live, st store.Store, opts ...Option) *Server {
	s := &Server{live: live, store: st, defaultKind: types.SessionOther}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/stats", s.handleStats)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PATCH /api/sessions/{id}", s.handlePatchSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/export", s.handleExportSession)

	mux.HandleFunc("GET /api/live", s.handleLiveState)
	mux.HandleFunc("POST /api/live/start", s.handleLiveStart)
	mux.HandleFunc("POST /api/live/pause", s.lifecycle(s.live.Pause))
	mux.HandleFunc("POST /api/live/resume", s.lifecycle(s.live.Resume))
	mux.HandleFunc("POST /api/live/stop", s.lifecycle(s.live.Stop))
	mux.HandleFunc("POST /api/live/save", s.handleLiveSave)
	mux.HandleFunc("POST /api/live/answers", s.handleLiveAnswers)
	mux.HandleFunc("GET /api/live/export", s.handleExportLive)
	mux.HandleFunc("GET /api/live/ws", s.handleLiveWS)
	mux.HandleFunc("POST /api/live/items/{id}/clarify", s.handleClarify)
	mux.HandleFunc("POST /api/ask", s.handleAsk)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET "+s.metricsPath, s.metricsHandler)
	}

	s.handler = observe.Middleware(s.metrics, s.log)(s.cors(mux))
	return s
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler { return s.handler }

// ─── CORS ────────────────────────────────────────────────────────────────────

func (s *Server) allowOrigin(origin string) bool {
	return slices.Contains(s.origins, "*") || slices.Contains(s.origins, origin)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !s.allowOrigin(origin) {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, traceparent")
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originPatterns converts the allowed origins into host patterns for the
// WebSocket origin check.
func (s *Server) originPatterns() []string {
	patterns := make([]string, 0, len(s.origins))
	for _, o := range s.origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}

// ─── Encoding ────────────────────────────────────────────────────────────────

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", errBadRequest, msg)
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, transcript.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, recorder.ErrEmptySession):
		return http.StatusUnprocessableEntity
	case errors.Is(err, recorder.ErrPersistence),
		errors.Is(err, store.ErrUnavailable),
		errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, transcript.ErrCapture),
		errors.Is(err, answer.ErrAnswerGeneration):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case status == http.StatusInternalServerError:
		observe.LoggerFrom(r.Context(), s.log).Error("request failed", "path", r.URL.Path, "err", err)
		msg = "internal error"
	case status >= 500:
		observe.LoggerFrom(r.Context(), s.log).Warn("request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: msg})
}
