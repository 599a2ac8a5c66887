package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/scribeline/internal/observe"
	"github.com/MrWong99/scribeline/pkg/provider/llm"
	llmmock "github.com/MrWong99/scribeline/pkg/provider/llm/mock"
	"github.com/MrWong99/scribeline/pkg/types"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newOrchestrator(t *testing.T, p llm.Provider, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(p, append([]Option{WithMetrics(testMetrics(t))}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

// recorder captures handler callbacks.
type recorder struct {
	mu        sync.Mutex
	chunks    []string
	completes []Answer
	errs      []error
}

func (r *recorder) handler() Handler {
	return Handler{
		OnChunk: func(s string) {
			r.mu.Lock()
			r.chunks = append(r.chunks, s)
			r.mu.Unlock()
		},
		OnComplete: func(a Answer) {
			r.mu.Lock()
			r.completes = append(r.completes, a)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func transcript(n int) []types.TranscriptItem {
	items := make([]types.TranscriptItem, n)
	for i := range items {
		items[i] = types.TranscriptItem{
			Kind:    types.KindSpeech,
			Content: "line " + string(rune('A'+i)),
		}
	}
	return items
}

func TestAnswer_StreamsChunksThenCompletes(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Paris "},
		{Text: ""},
		{Text: "is the capital."},
		{FinishReason: "stop"},
	}}
	o := newOrchestrator(t, p, WithModelName("gpt-4o"))

	var r recorder
	o.Answer(context.Background(), "What is the capital of France?", nil, r.handler())

	if strings.Join(r.chunks, "|") != "Paris |is the capital." {
		t.Errorf("chunks = %q", r.chunks)
	}
	if len(r.errs) != 0 || len(r.completes) != 1 {
		t.Fatalf("want exactly one completion, got completes=%d errs=%v", len(r.completes), r.errs)
	}
	got := r.completes[0]
	if got.Text != "Paris is the capital." || got.Model != "gpt-4o" || got.Confidence != 0.8 {
		t.Errorf("answer = %+v", got)
	}
}

func TestAnswer_ErrorPaths(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		provider *llmmock.Provider
		question string
	}{
		{"start failure", &llmmock.Provider{StreamErr: errors.New("401 unauthorised")}, "why?"},
		{"mid-stream failure", &llmmock.Provider{StreamChunks: []llm.Chunk{
			{Text: "partial "},
			{FinishReason: llm.FinishError, Text: "connection reset"},
			{Text: "ignored"},
		}}, "why?"},
		{"empty answer", &llmmock.Provider{StreamChunks: []llm.Chunk{{FinishReason: "stop"}}}, "why?"},
		{"empty question", &llmmock.Provider{}, "   "},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			o := newOrchestrator(t, tc.provider)
			var r recorder
			o.Answer(context.Background(), tc.question, nil, r.handler())
			if len(r.completes) != 0 {
				t.Errorf("unexpected completion %+v", r.completes)
			}
			if len(r.errs) != 1 {
				t.Fatalf("want exactly one error, got %v", r.errs)
			}
			if !errors.Is(r.errs[0], ErrAnswerGeneration) {
				t.Errorf("error %v does not wrap ErrAnswerGeneration", r.errs[0])
			}
		})
	}
}

func TestAnswer_CancelledContext(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "a"}, {Text: "b"}}}
	o := newOrchestrator(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var r recorder
	o.Answer(ctx, "what now?", nil, r.handler())
	if len(r.errs) != 1 || !errors.Is(r.errs[0], context.Canceled) {
		t.Errorf("errs = %v, want one context.Canceled", r.errs)
	}
	if len(r.completes) != 0 {
		t.Error("cancelled answer must not complete")
	}
}

func TestAnswer_PromptUsesContextWindow(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ok"}}}
	o := newOrchestrator(t, p)

	items := transcript(8)
	items[7].Speaker = "Prof"
	o.Answer(context.Background(), "What did she say?", items, Handler{})

	if len(p.StreamCalls) != 1 {
		t.Fatalf("stream calls = %d", len(p.StreamCalls))
	}
	req := p.StreamCalls[0].Req
	if req.SystemPrompt != DefaultSystemPrompt {
		t.Error("system prompt not set")
	}
	prompt := req.Messages[0].Content
	want := "Recent transcript:\nspeech: line D\nspeech: line E\nspeech: line F\nspeech: line G\nProf: line H\n\nQuestion: What did she say?"
	if prompt != want {
		t.Errorf("prompt =\n%s\nwant\n%s", prompt, want)
	}
}

// charCounter counts one token per byte so the budget is predictable.
type charCounter struct{ *llmmock.Provider }

func (c charCounter) CountTokens(msgs []types.Message) (int, error) {
	n := 0
	for _, m := range msgs {
		n += len(m.Content)
	}
	return n, nil
}

func TestAnswer_PromptBudgetDropsOldestLines(t *testing.T) {
	t.Parallel()
	mp := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ok"}}}
	s := DefaultSettings()
	s.SystemPrompt = "sys"
	s.MaxPromptTokens = len("sys") + len(BuildPrompt("q?", []string{"speech: line D", "speech: line E"}))
	o := newOrchestrator(t, charCounter{mp}, WithSettings(s))

	o.Answer(context.Background(), "q?", transcript(5), Handler{})

	prompt := mp.StreamCalls[0].Req.Messages[0].Content
	if strings.Contains(prompt, "line C") || !strings.Contains(prompt, "line D") || !strings.Contains(prompt, "line E") {
		t.Errorf("expected only the two newest lines, got:\n%s", prompt)
	}
}

func TestAnswer_PromptBudgetNeverDropsQuestion(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ok"}}, TokensPerMessage: 1000}
	s := DefaultSettings()
	s.MaxPromptTokens = 10
	o := newOrchestrator(t, p, WithSettings(s))

	o.Answer(context.Background(), "Why is the sky blue?", transcript(3), Handler{})

	prompt := p.StreamCalls[0].Req.Messages[0].Content
	if strings.Contains(prompt, "line A") || !strings.Contains(prompt, "Why is the sky blue?") {
		t.Errorf("prompt = %q", prompt)
	}
	if len(p.CountTokensCalls) != 3 {
		t.Errorf("CountTokens calls = %d, want one per dropped line", len(p.CountTokensCalls))
	}
}

func TestAnswer_ConcurrentAnswersStayApart(t *testing.T) {
	t.Parallel()
	hold := make(chan struct{})
	p := &llmmock.Provider{
		Hold: hold,
		Respond: func(req llm.CompletionRequest) []llm.Chunk {
			if strings.Contains(req.Messages[0].Content, "France") {
				return []llm.Chunk{{Text: "Paris"}}
			}
			return []llm.Chunk{{Text: "Berlin"}}
		},
	}
	o := newOrchestrator(t, p)

	questions := []string{"Capital of France?", "Capital of Germany?"}
	results := make([]string, len(questions))
	var wg sync.WaitGroup
	for i, q := range questions {
		wg.Go(func() {
			ans, err := o.Ask(context.Background(), q, nil)
			if err != nil {
				t.Errorf("Ask(%q): %v", q, err)
			}
			results[i] = ans.Text
		})
	}
	for p.StreamCallCount() < len(questions) {
		time.Sleep(time.Millisecond)
	}
	close(hold)
	wg.Wait()

	if results[0] != "Paris" || results[1] != "Berlin" {
		t.Errorf("answers = %q", results)
	}
}

func TestAsk_And_Clarify(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "It means a fast path."}}}
	o := newOrchestrator(t, p)

	ans, err := o.Ask(context.Background(), "What is a hot path?", nil)
	if err != nil || ans.Text != "It means a fast path." {
		t.Fatalf("Ask = %+v, %v", ans, err)
	}

	item := types.TranscriptItem{Kind: types.KindSpeech, Content: "we optimise the hot path"}
	if _, err := o.Clarify(context.Background(), item, []types.TranscriptItem{item}); err != nil {
		t.Fatalf("Clarify: %v", err)
	}
	prompt := p.StreamCalls[1].Req.Messages[0].Content
	if !strings.Contains(prompt, `"we optimise the hot path"`) {
		t.Errorf("clarify prompt missing remark: %s", prompt)
	}

	failing := newOrchestrator(t, &llmmock.Provider{StreamErr: errors.New("down")})
	if _, err := failing.Ask(context.Background(), "anyone?", nil); !errors.Is(err, ErrAnswerGeneration) {
		t.Errorf("Ask error = %v", err)
	}
}

func TestSetSettings(t *testing.T) {
	t.Parallel()
	o := newOrchestrator(t, &llmmock.Provider{})
	s := o.Settings()
	s.ContextWindow = 2
	o.SetSettings(s)
	if o.Settings().ContextWindow != 2 {
		t.Error("settings not replaced")
	}
}

func TestNew_NilProvider(t *testing.T) {
	t.Parallel()
	if _, err := New(nil); err == nil {
		t.Error("expected error")
	}
}
