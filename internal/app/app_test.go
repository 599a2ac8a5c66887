package app_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/scribeline/internal/app"
	"github.com/MrWong99/scribeline/internal/config"
	sttmock "github.com/MrWong99/scribeline/pkg/provider/stt/mock"
	"github.com/MrWong99/scribeline/pkg/store"
	"github.com/MrWong99/scribeline/pkg/store/memstore"
	"github.com/MrWong99/scribeline/pkg/types"
)

const testYAML = `
server:
  listen_addr: "127.0.0.1:0"
  cors_origins: ["https://notes.example.com"]
providers:
  stt:
    name: deepgram
    model: nova-2
  llm:
    name: openai
    model: gpt-4o-mini
recorder:
  default_kind: lecture
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func testProviders() *app.Providers {
	return &app.Providers{
		LLM: answeringLLM(),
		STT: &sttmock.Provider{Session: sttmock.NewSession()},
	}
}

func shutdown(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

func TestNew_WithInjectedStore(t *testing.T) {
	t.Parallel()
	st := memstore.New()
	a, err := app.New(context.Background(), testConfig(t), testProviders(), app.WithStore(st))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer shutdown(t, a)

	seeded, err := st.Create(context.Background(), &types.Session{Title: "Retro"})
	if err != nil {
		t.Fatal(err)
	}
	if got, err := a.Store().Get(context.Background(), seeded.ID); err != nil || got.Title != "Retro" {
		t.Errorf("injected store not used: %+v, %v", got, err)
	}
	if a.Live() == nil {
		t.Fatal("no live manager")
	}
	if got := a.Live().State(); got.RecordingState != types.StateIdle || !got.QuestionAnswerEnabled {
		t.Errorf("initial live state = %+v", got)
	}
}

func TestNew_NoProviders(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer shutdown(t, a)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz without providers = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/live/start", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("start without stt = %d, want 503", rec.Code)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Store.Backend = "cassandra"
	if _, err := app.New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNew_SQLiteBackend(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Store.Backend = config.StoreSQLite
	cfg.Store.Path = filepath.Join(t.TempDir(), "sessions.db")

	a, err := app.New(context.Background(), cfg, testProviders())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := a.Store().Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	created, err := a.Store().Create(ctx, &types.Session{Title: "Seminar", StartTime: time.Now()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	shutdown(t, a)

	if err := a.Store().Ping(ctx); err == nil {
		t.Error("store still usable after Shutdown")
	}

	reopened, err := app.New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer shutdown(t, reopened)
	if got, err := reopened.Store().Get(ctx, created.ID); err != nil || got.Title != "Seminar" {
		t.Errorf("persisted session = %+v, %v", got, err)
	}
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

func TestApp_Handler(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(t), testProviders(), app.WithStore(memstore.New()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer shutdown(t, a)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{name: "liveness", method: http.MethodGet, path: "/healthz", want: http.StatusOK},
		{name: "readiness", method: http.MethodGet, path: "/readyz", want: http.StatusOK},
		{name: "live state", method: http.MethodGet, path: "/api/live", want: http.StatusOK},
		{name: "empty archive", method: http.MethodGet, path: "/api/sessions", want: http.StatusOK},
		{name: "save empty", method: http.MethodPost, path: "/api/live/save", want: http.StatusUnprocessableEntity},
		{name: "pause idle", method: http.MethodPost, path: "/api/live/pause", want: http.StatusConflict},
		{name: "unknown session", method: http.MethodGet, path: "/api/sessions/nope", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestApp_MetricsHandler(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# scribeline\n"))
	})
	a, err := app.New(context.Background(), testConfig(t), nil, app.WithMetricsHandler(metrics))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer shutdown(t, a)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "# scribeline") {
		t.Errorf("metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func TestApp_SaveUsesConfiguredDefaults(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	p := testProviders()
	sess := p.STT.(*sttmock.Provider).Session.(*sttmock.Session)
	a, err := app.New(context.Background(), testConfig(t), p,
		app.WithStore(memstore.New()),
		app.WithClock(func() time.Time { return fixed }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer shutdown(t, a)

	ctx := context.Background()
	events, cancel := a.Live().Subscribe()
	defer cancel()
	a.Live().SetQuestionAnswerEnabled(false)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/live/start", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("start = %d %s", rec.Code, rec.Body.String())
	}
	sess.Final(types.Transcript{Text: "Today we cover thermodynamics."})
	nextEvent(t, events, types.EventItem)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/live/save", strings.NewReader(`{"summarise":false}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("save = %d %s", rec.Code, rec.Body.String())
	}
	var saved types.Session
	if err := json.NewDecoder(rec.Body).Decode(&saved); err != nil {
		t.Fatal(err)
	}
	if saved.Kind != types.SessionLecture {
		t.Errorf("kind = %q, want lecture from config", saved.Kind)
	}
	if !saved.StartTime.Equal(fixed) {
		t.Errorf("start time = %v, want injected clock", saved.StartTime)
	}
	if got, err := a.Store().List(ctx, store.ListOptions{}); err != nil || len(got) != 1 {
		t.Errorf("stored sessions = %d, %v", len(got), err)
	}
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

func TestApp_ServeAndShutdown(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(t), testProviders(), app.WithStore(memstore.New()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for range 50 {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	shutdown(t, a)
	if _, err := http.Get(url); err == nil {
		t.Error("server still accepting connections after Shutdown")
	}
	shutdown(t, a)
}

func TestApp_Reload(t *testing.T) {
	t.Parallel()
	old := testConfig(t)
	a, err := app.New(context.Background(), old, testProviders(), app.WithStore(memstore.New()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer shutdown(t, a)

	next := testConfig(t)
	off := false
	next.Answer.Enabled = &off
	next.Vocabulary.Terms = []string{"Kubernetes"}
	next.Server.ListenAddr = "127.0.0.1:9999"

	diff := a.Reload(old, next)
	if !diff.AnswerEnabledChanged || !diff.VocabularyChanged {
		t.Errorf("diff = %+v", diff)
	}
	if len(diff.RestartRequired) == 0 {
		t.Error("listen address change should require a restart")
	}
	if a.Live().State().QuestionAnswerEnabled {
		t.Error("answering still enabled after reload")
	}

	if d := a.Reload(next, next); d.Changed() {
		t.Errorf("identical configs reported changes: %+v", d)
	}
}
