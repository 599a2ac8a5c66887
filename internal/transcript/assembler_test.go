package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/scribeline/internal/answer"
	"github.com/MrWong99/scribeline/internal/observe"
	"github.com/MrWong99/scribeline/internal/transcript/vocabulary"
	"github.com/MrWong99/scribeline/pkg/types"
)

// fakeCapture records lifecycle calls and exposes the sink it was given.
type fakeCapture struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	starts   int
	stops    int
	sink     Sink
	opts     CaptureOptions
}

func (f *fakeCapture) StartCapture(_ context.Context, opts CaptureOptions, sink Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.sink, f.opts = sink, opts
	return nil
}

func (f *fakeCapture) StopCapture(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeCapture) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type answerFunc func(ctx context.Context, q string, recent []types.TranscriptItem, h answer.Handler)

func (f answerFunc) Answer(ctx context.Context, q string, recent []types.TranscriptItem, h answer.Handler) {
	f(ctx, q, recent, h)
}

// stepClock advances ten seconds per reading so the continuation rule never fires.
func stepClock() func() time.Time {
	var n atomic.Int64
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * 10 * time.Second)
	}
}

func seqIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func newAssembler(t *testing.T, capture Capture, opts ...Option) *Assembler {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	base := []Option{WithClock(stepClock()), WithIDGenerator(seqIDs()), WithMetrics(m)}
	a, err := New(capture, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func mustStart(t *testing.T, a *Assembler) {
	t.Helper()
	if err := a.Start(context.Background(), CaptureOptions{Microphone: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestOnResult_EmptyInterimCreatesNothing(t *testing.T) {
	t.Parallel()
	a := newAssembler(t, &fakeCapture{})
	mustStart(t, a)

	a.OnResult("", false)
	a.OnResult("", false)

	s := a.State()
	if len(s.Items) != 0 || s.PendingPreview != "" {
		t.Errorf("state = %+v, want no items and no preview", s)
	}
}

func TestOnResult_PreviewThenFinal(t *testing.T) {
	t.Parallel()
	var previews []string
	a := newAssembler(t, &fakeCapture{}, WithObserver(Observer{
		OnPreview: func(p string) { previews = append(previews, p) },
	}))
	mustStart(t, a)

	a.OnResult("the lecture", false)
	if got := a.State().PendingPreview; got != "the lecture" {
		t.Fatalf("preview = %q", got)
	}
	a.OnResult("  the lecture starts with thermodynamics  ", true)

	s := a.State()
	if s.PendingPreview != "" {
		t.Errorf("preview not cleared: %q", s.PendingPreview)
	}
	if len(s.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(s.Items))
	}
	it := s.Items[0]
	if it.Content != "the lecture starts with thermodynamics" || it.Kind != types.KindSpeech || it.ID != "id-1" {
		t.Errorf("item = %+v", it)
	}
	if it.QuestionConfidence != nil {
		t.Errorf("speech item carries question confidence %v", *it.QuestionConfidence)
	}
	raw, err := json.Marshal(it)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "questionConfidence") {
		t.Errorf("speech item serialises question confidence: %s", raw)
	}
	if len(previews) != 2 || previews[0] != "the lecture" || previews[1] != "" {
		t.Errorf("preview events = %q", previews)
	}
}

func TestOnResult_EmptyFinalClearsPreview(t *testing.T) {
	t.Parallel()
	a := newAssembler(t, &fakeCapture{})
	mustStart(t, a)

	a.OnResult("partial words", false)
	a.OnResult("   ", true)
	s := a.State()
	if s.PendingPreview != "" || len(s.Items) != 0 {
		t.Errorf("state = %+v", s)
	}
}

func TestOnResult_IgnoredUnlessRecording(t *testing.T) {
	t.Parallel()
	a := newAssembler(t, &fakeCapture{})

	a.OnResult("spoken before start", true)
	mustStart(t, a)
	if err := a.Pause(context.Background()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	a.OnResult("interim while paused", false)
	a.OnResult("final while paused", true)

	s := a.State()
	if len(s.Items) != 0 || s.PendingPreview != "" {
		t.Errorf("state = %+v, want untouched", s)
	}
}

func TestOnResult_DuplicateSuppressed(t *testing.T) {
	t.Parallel()
	var added int
	a := newAssembler(t, &fakeCapture{}, WithObserver(Observer{
		OnItem: func(types.TranscriptItem) { added++ },
	}))
	mustStart(t, a)

	a.OnResult("The mitochondria is the powerhouse of the cell", true)
	a.OnResult("the mitochondria is the powerhouse of the cell", true)
	a.OnResult("The mitochondria is the powerhouse of a cell", true)
	a.OnResult("um", true)

	if n := len(a.Items()); n != 1 || added != 1 {
		t.Errorf("items = %d, OnItem calls = %d; want 1 and 1", n, added)
	}
}

func TestOnTranscript_KeepsConfidence(t *testing.T) {
	t.Parallel()
	a := newAssembler(t, &fakeCapture{})
	mustStart(t, a)

	a.OnTranscript(types.Transcript{Text: "heat flows from hot bodies to cold ones", IsFinal: true, Confidence: 0.93})
	items := a.Items()
	if len(items) != 1 || items[0].Confidence == nil || *items[0].Confidence != 0.93 {
		t.Errorf("items = %+v", items)
	}
}

func TestTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	capture := &fakeCapture{}
	var states []types.RecordingState
	a := newAssembler(t, capture, WithObserver(Observer{
		OnState: func(s types.RecordingState) { states = append(states, s) },
	}))

	for name, op := range map[string]func(context.Context) error{
		"pause":  a.Pause,
		"resume": a.Resume,
		"stop":   a.Stop,
	} {
		if err := op(ctx); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s from idle: err = %v", name, err)
		}
	}

	mustStart(t, a)
	if err := a.Start(ctx, CaptureOptions{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Start: err = %v", err)
	}
	if err := a.Resume(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Resume while recording: err = %v", err)
	}
	if err := a.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := a.Pause(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Pause while paused: err = %v", err)
	}
	if err := a.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := a.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop from paused: %v", err)
	}

	starts, stops := capture.counts()
	if starts != 2 || stops != 2 {
		t.Errorf("capture starts=%d stops=%d, want 2 and 2", starts, stops)
	}
	want := []types.RecordingState{
		types.StateRecording, types.StatePaused, types.StateRecording, types.StatePaused, types.StateIdle,
	}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestStart_ResetsPreviousSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newAssembler(t, &fakeCapture{})
	mustStart(t, a)
	a.OnResult("entropy always increases in closed systems", true)
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := len(a.Items()); n != 1 {
		t.Fatalf("items kept after stop = %d, want 1", n)
	}
	mustStart(t, a)
	s := a.State()
	if len(s.Items) != 0 || s.StartedAt == nil {
		t.Errorf("state after restart = %+v", s)
	}
}

func TestStart_CaptureFailure(t *testing.T) {
	t.Parallel()
	a := newAssembler(t, &fakeCapture{startErr: errors.New("permission denied")})
	err := a.Start(context.Background(), CaptureOptions{Microphone: true})
	if !errors.Is(err, ErrCapture) {
		t.Fatalf("err = %v, want ErrCapture", err)
	}
	if s := a.State().RecordingState; s != types.StateIdle {
		t.Errorf("state = %s, want idle", s)
	}
}

func TestCaptureError_KeepsItems(t *testing.T) {
	t.Parallel()
	capture := &fakeCapture{}
	var gotErr error
	a := newAssembler(t, capture, WithObserver(Observer{
		OnError: func(err error) { gotErr = err },
	}))
	mustStart(t, a)
	a.OnResult("carnot engines set the efficiency limit", true)

	capture.sink.OnCaptureError(errors.New("device unplugged"))

	s := a.State()
	if s.RecordingState != types.StateIdle {
		t.Errorf("state = %s, want idle", s.RecordingState)
	}
	if len(s.Items) != 1 {
		t.Errorf("items = %d, want 1", len(s.Items))
	}
	if !errors.Is(gotErr, ErrCapture) {
		t.Errorf("observer error = %v", gotErr)
	}
}

func TestResume_CaptureFailureGoesIdle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	capture := &fakeCapture{}
	a := newAssembler(t, capture)
	mustStart(t, a)
	if err := a.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	capture.mu.Lock()
	capture.startErr = errors.New("no microphone")
	capture.mu.Unlock()

	if err := a.Resume(ctx); !errors.Is(err, ErrCapture) {
		t.Fatalf("Resume err = %v", err)
	}
	if s := a.State().RecordingState; s != types.StateIdle {
		t.Errorf("state = %s, want idle", s)
	}
}

func TestQuestion_AnswerAppendedAfterQuestion(t *testing.T) {
	t.Parallel()
	var (
		mu        sync.Mutex
		gotRecent []types.TranscriptItem
		chunks    []string
	)
	ans := answerFunc(func(_ context.Context, q string, recent []types.TranscriptItem, h answer.Handler) {
		mu.Lock()
		gotRecent = recent
		mu.Unlock()
		h.OnChunk("Paris")
		h.OnChunk(".")
		h.OnComplete(answer.Answer{Text: "Paris.", Confidence: 0.8, Model: "gpt-4o"})
	})
	a := newAssembler(t, &fakeCapture{}, WithAnswerer(ans), WithObserver(Observer{
		OnAnswerChunk: func(_, text string) { chunks = append(chunks, text) },
	}))
	mustStart(t, a)

	a.OnResult("we measure temperature in kelvin here", true)
	a.OnResult("What is the capital of France?", true)
	a.Wait()

	items := a.Items()
	if len(items) != 3 {
		t.Fatalf("items = %+v", items)
	}
	q, ansItem := items[1], items[2]
	if q.Kind != types.KindQuestion || *q.QuestionConfidence < 0.8 {
		t.Errorf("question = %+v", q)
	}
	if ansItem.Kind != types.KindAnswer || ansItem.ReplyTo != q.ID || ansItem.Content != "Paris." || ansItem.Speaker != "gpt-4o" {
		t.Errorf("answer = %+v", ansItem)
	}
	if ansItem.Confidence == nil || *ansItem.Confidence != 0.8 {
		t.Errorf("answer confidence = %v", ansItem.Confidence)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(gotRecent) != 1 || gotRecent[0].ID != items[0].ID {
		t.Errorf("answer context = %+v, want the item before the question", gotRecent)
	}
	if len(chunks) != 2 {
		t.Errorf("chunks = %q", chunks)
	}
}

func TestQuestion_AnsweringDisabled(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	ans := answerFunc(func(context.Context, string, []types.TranscriptItem, answer.Handler) { calls.Add(1) })
	a := newAssembler(t, &fakeCapture{}, WithAnswerer(ans))
	mustStart(t, a)
	a.SetQuestionAnswerEnabled(false)

	a.OnResult("Why does ice float on water?", true)
	a.Wait()

	if calls.Load() != 0 {
		t.Error("answerer called with answering disabled")
	}
	if items := a.Items(); len(items) != 1 || items[0].Kind != types.KindQuestion {
		t.Errorf("items = %+v", items)
	}
}

func TestQuestion_LateAnswerDiscardedAfterStop(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	ans := answerFunc(func(_ context.Context, _ string, _ []types.TranscriptItem, h answer.Handler) {
		<-release
		h.OnComplete(answer.Answer{Text: "too late", Model: "m"})
	})
	a := newAssembler(t, &fakeCapture{}, WithAnswerer(ans))
	mustStart(t, a)

	a.OnResult("How do heat pumps work?", true)
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(release)
	a.Wait()

	items := a.Items()
	if len(items) != 1 || items[0].Kind != types.KindQuestion {
		t.Errorf("items = %+v, want only the question", items)
	}
}

func TestQuestion_AnswerErrorReported(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		errQ  string
		gotEr error
	)
	ans := answerFunc(func(_ context.Context, _ string, _ []types.TranscriptItem, h answer.Handler) {
		h.OnError(answer.ErrAnswerGeneration)
	})
	a := newAssembler(t, &fakeCapture{}, WithAnswerer(ans), WithObserver(Observer{
		OnAnswerError: func(qID string, err error) {
			mu.Lock()
			errQ, gotEr = qID, err
			mu.Unlock()
		},
	}))
	mustStart(t, a)
	a.OnResult("What is absolute zero?", true)
	a.Wait()

	mu.Lock()
	defer mu.Unlock()
	if errQ != a.Items()[0].ID || !errors.Is(gotEr, answer.ErrAnswerGeneration) {
		t.Errorf("answer error = %q, %v", errQ, gotEr)
	}
	if n := len(a.Items()); n != 1 {
		t.Errorf("items = %d, want 1", n)
	}
}

func TestQuestion_ConcurrencyBound(t *testing.T) {
	t.Parallel()
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	ans := answerFunc(func(_ context.Context, q string, _ []types.TranscriptItem, h answer.Handler) {
		started <- struct{}{}
		<-release
		h.OnComplete(answer.Answer{Text: "answer to " + q, Model: "m"})
	})
	a := newAssembler(t, &fakeCapture{}, WithAnswerer(ans), WithMaxConcurrentAnswers(1))
	mustStart(t, a)

	a.OnResult("What is entropy?", true)
	a.OnResult("Who was Sadi Carnot?", true)

	<-started
	select {
	case <-started:
		t.Fatal("second answer started while the first held the only slot")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	a.Wait()

	var answers int
	for _, it := range a.Items() {
		if it.Kind == types.KindAnswer {
			answers++
		}
	}
	if answers != 2 {
		t.Errorf("answers = %d, want 2", answers)
	}
}

func TestOnResult_ConcurrentFinalsSerialised(t *testing.T) {
	t.Parallel()
	sentences := []string{
		"the lecture starts with thermodynamics",
		"entropy always increases in closed systems",
		"carnot engines set the efficiency limit",
		"heat flows from hot bodies to cold ones",
		"we measure temperature in kelvin here",
		"the first law conserves energy overall",
		"pressure times volume stays constant",
		"boltzmann linked entropy to microstates",
	}
	a := newAssembler(t, &fakeCapture{})
	mustStart(t, a)

	var wg sync.WaitGroup
	for _, s := range sentences {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.OnResult(s[:5], false)
			a.OnResult(s, true)
		}()
	}
	wg.Wait()

	items := a.Items()
	if len(items) != len(sentences) {
		t.Fatalf("items = %d, want %d", len(items), len(sentences))
	}
	for i := 1; i < len(items); i++ {
		if items[i].CreatedAt.Before(items[i-1].CreatedAt) {
			t.Errorf("item %d created before item %d", i, i-1)
		}
	}
}

func TestState_ReturnsCopy(t *testing.T) {
	t.Parallel()
	a := newAssembler(t, &fakeCapture{})
	mustStart(t, a)
	a.OnResult("pressure times volume stays constant", true)

	s := a.State()
	s.Items[0].Content = "mutated"
	*s.StartedAt = time.Time{}
	again := a.State()
	if again.Items[0].Content == "mutated" || again.StartedAt.IsZero() {
		t.Error("State exposed internal storage")
	}
}

func TestVocabularyCorrection(t *testing.T) {
	t.Parallel()
	a := newAssembler(t, &fakeCapture{}, WithVocabulary(vocabulary.New([]string{"Kubernetes"})))
	mustStart(t, a)

	a.OnResult("we deploy on kubernetis today", true)
	if got := a.Items()[0].Content; got != "we deploy on Kubernetes today" {
		t.Errorf("content = %q", got)
	}

	a.SetVocabulary(nil)
	a.OnResult("kubernetis is spelled wrong again", true)
	if got := a.Items()[1].Content; got != "kubernetis is spelled wrong again" {
		t.Errorf("content = %q, want uncorrected", got)
	}
}

func TestNew_NilCapture(t *testing.T) {
	t.Parallel()
	if _, err := New(nil); err == nil {
		t.Error("expected error")
	}
}
