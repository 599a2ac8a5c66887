// Package app wires the scribeline subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the session store, the
// answering and summarising pipeline, the live session and the HTTP API; Run
// serves until its context is cancelled; Shutdown tears everything down in
// order.
//
// For testing, inject doubles via functional options (WithStore, WithClock,
// etc.). When an option is not provided, New creates real implementations from
// the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/scribeline/internal/answer"
	"github.com/MrWong99/scribeline/internal/config"
	"github.com/MrWong99/scribeline/internal/health"
	"github.com/MrWong99/scribeline/internal/observe"
	"github.com/MrWong99/scribeline/internal/recorder"
	"github.com/MrWong99/scribeline/internal/server"
	"github.com/MrWong99/scribeline/internal/transcript/classify"
	"github.com/MrWong99/scribeline/pkg/provider/llm"
	"github.com/MrWong99/scribeline/pkg/provider/stt"
	"github.com/MrWong99/scribeline/pkg/store"
	"github.com/MrWong99/scribeline/pkg/store/memstore"
	"github.com/MrWong99/scribeline/pkg/store/postgres"
	"github.com/MrWong99/scribeline/pkg/store/sqlite"
)

const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics
	now       func() time.Time

	metricsHandler http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	store    store.Store
	answerer *answer.Orchestrator
	recorder *recorder.Recorder
	live     *LiveManager
	server   *server.Server

	httpMu  sync.Mutex
	httpSrv *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session store instead of opening the configured backend.
// The caller keeps ownership; Shutdown does not close it. Calls still pass
// through the tracing and latency instrumentation.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at the configured telemetry metrics path.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithClock overrides the time source for transcript items and saved sessions.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry) and may hold nil
// slots.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Session store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.store = observe.InstrumentStore(a.store, a.metrics)

	// ── 2. Answering ─────────────────────────────────────────────────────
	if err := a.initAnswerer(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init answerer: %w", err)
	}

	// ── 3. Recorder ──────────────────────────────────────────────────────
	a.initRecorder()

	// ── 4. Live session ──────────────────────────────────────────────────
	if err := a.initLive(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init live session: %w", err)
	}

	// ── 5. HTTP API ──────────────────────────────────────────────────────
	a.initServer()

	a.log.Info("app initialised",
		"store", a.cfg.Store.Backend,
		"stt", a.providers.STT != nil,
		"llm", a.providers.LLM != nil,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured backend unless a store was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	var (
		st  store.Store
		err error
	)
	switch a.cfg.Store.Backend {
	case config.StoreSQLite:
		st, err = sqlite.Open(ctx, a.cfg.Store.Path)
	case config.StorePostgres:
		st, err = postgres.Open(ctx, a.cfg.Store.PostgresDSN)
	case config.StoreMemory, "":
		st = memstore.New()
	default:
		return fmt.Errorf("unknown backend %q", a.cfg.Store.Backend)
	}
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	return nil
}

// initAnswerer builds the orchestrator when a language model is configured.
func (a *App) initAnswerer() error {
	if a.providers.LLM == nil {
		return nil
	}
	orch, err := answer.New(a.providers.LLM,
		answer.WithSettings(a.cfg.Answer.Settings()),
		answer.WithModelName(a.cfg.Providers.LLM.Model),
		answer.WithProviderName(a.cfg.Providers.LLM.Name),
		answer.WithMetrics(a.metrics),
		answer.WithLogger(a.log),
	)
	if err != nil {
		return err
	}
	a.answerer = orch
	return nil
}

func (a *App) initRecorder() {
	opts := []recorder.Option{
		recorder.WithLogger(a.log),
		recorder.WithMetrics(a.metrics),
	}
	if a.providers.LLM != nil {
		opts = append(opts, recorder.WithSummariser(answer.NewLLMSummariser(a.providers.LLM)))
	}
	if a.now != nil {
		opts = append(opts, recorder.WithClock(a.now))
	}
	a.recorder = recorder.New(a.store, opts...)
}

func (a *App) initLive() error {
	classifier, err := classify.New(classify.WithConfig(a.cfg.Classifier.Resolve()))
	if err != nil {
		return err
	}
	live, err := NewLiveManager(LiveManagerConfig{
		STT:                  a.providers.STT,
		Answerer:             a.answerer,
		Recorder:             a.recorder,
		Classifier:           classifier,
		Vocabulary:           newVocabulary(a.cfg.Vocabulary),
		Keywords:             a.cfg.Vocabulary.Keywords(),
		AnswersEnabled:       a.cfg.Answer.IsEnabled(),
		MaxConcurrentAnswers: a.cfg.Answer.MaxConcurrent,
		AnswerTimeout:        a.cfg.Answer.Timeout,
		Logger:               a.log,
		Metrics:              a.metrics,
		Now:                  a.now,
	})
	if err != nil {
		return err
	}
	a.live = live
	return nil
}

func (a *App) initServer() {
	checkers := []health.Checker{
		health.PingChecker("store", a.store),
		health.ConfiguredChecker("stt", a.providers.STT != nil),
	}
	if a.cfg.Answer.IsEnabled() {
		checkers = append(checkers, health.ConfiguredChecker("llm", a.providers.LLM != nil))
	}

	opts := []server.Option{
		server.WithLogger(a.log),
		server.WithMetrics(a.metrics),
		server.WithHealth(health.New(checkers...)),
		server.WithAllowedOrigins(a.cfg.Server.CORSOrigins),
		server.WithSaveDefaults(a.cfg.Recorder.DefaultKind, a.cfg.Recorder.Summarise),
	}
	if a.metricsHandler != nil {
		opts = append(opts, server.WithMetricsHandler(a.cfg.Telemetry.MetricsPath, a.metricsHandler))
	}
	a.server = server.New(a.live, a.store, opts...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Live returns the live session manager.
func (a *App) Live() *LiveManager { return a.live }

// Store returns the session store.
func (a *App) Store() store.Store { return a.store }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves the API until ctx is
// cancelled. It returns ctx.Err() after cancellation, or the listener error.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is cancelled. The listener is closed
// by Shutdown.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}
	a.httpMu.Lock()
	a.httpSrv = srv
	a.httpMu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()

	a.log.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable differences between old and new.
// Sections that need a restart are logged and otherwise ignored.
func (a *App) Reload(old, new *config.Config) config.ConfigDiff {
	diff := config.Diff(old, new)
	if !diff.Changed() {
		return diff
	}
	if len(diff.RestartRequired) > 0 {
		a.log.Warn("config changes require a restart", "sections", diff.RestartRequired)
	}
	if err := a.live.ApplyConfig(diff); err != nil {
		a.log.Error("config reload failed", "err", err)
	}
	return diff
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, ends a running recording (its transcript stays
// in memory), waits for in-flight answers and then closes the store. If ctx
// expires first the remaining steps are skipped and ctx.Err() is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		a.httpMu.Lock()
		srv := a.httpSrv
		a.httpMu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				a.log.Warn("http shutdown error", "err", err)
			}
		}

		if err := a.live.Close(ctx); err != nil {
			a.log.Warn("live session close error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers collected so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
