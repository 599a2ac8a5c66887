// Package answer turns a detected question plus recent transcript context into
// a streamed answer from an LLM provider.
//
// The [Orchestrator] builds a bounded prompt, streams the completion and reports
// progress through a [Handler]: every non-empty chunk goes to OnChunk in arrival
// order, then exactly one of OnComplete or OnError fires. Calls are independent
// and share no mutable state, so the live pipeline and ad hoc quick questions
// may run concurrently.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/scribeline/internal/observe"
	"github.com/MrWong99/scribeline/pkg/provider/llm"
	"github.com/MrWong99/scribeline/pkg/types"
)

// ErrAnswerGeneration wraps every failure reported through Handler.OnError.
var ErrAnswerGeneration = errors.New("answer: generation failed")

// DefaultSystemPrompt instructs the model to answer from the transcript.
const DefaultSystemPrompt = `You are a concise assistant listening to a live conversation or lecture.
Answer the question using the recent transcript for context when it is relevant.
Reply in two to four sentences in the language of the question. If the transcript
does not contain enough information, answer from general knowledge and say so.`

// Answer is a completed answer.
type Answer struct {
	Text string
	// Confidence is informational only. Providers do not report one, so it is
	// the orchestrator's configured default.
	Confidence float64
	// Model labels the answer's speaker.
	Model string
}

// Handler receives the progress of one answer. Nil callbacks are skipped.
type Handler struct {
	OnChunk    func(text string)
	OnComplete func(a Answer)
	OnError    func(err error)
}

// Settings holds the tunable parameters of an Orchestrator.
type Settings struct {
	SystemPrompt string
	// ContextWindow is how many trailing transcript items go into the prompt.
	ContextWindow int
	// MaxPromptTokens caps the prompt size; oldest context lines are dropped
	// first. Zero disables the cap.
	MaxPromptTokens int
	// MaxTokens caps the answer length. Zero uses the provider default.
	MaxTokens   int
	Temperature float64
	// DefaultConfidence is attached to every answer.
	DefaultConfidence float64
}

// DefaultSettings returns the settings used when no option overrides them.
func DefaultSettings() Settings {
	return Settings{
		SystemPrompt:      DefaultSystemPrompt,
		ContextWindow:     5,
		MaxPromptTokens:   3000,
		MaxTokens:         400,
		Temperature:       0.3,
		DefaultConfidence: 0.8,
	}
}

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithSettings replaces the default settings.
func WithSettings(s Settings) Option {
	return func(o *Orchestrator) { o.settings = s }
}

// WithModelName sets the speaker label attached to answers.
func WithModelName(name string) Option {
	return func(o *Orchestrator) { o.model = name }
}

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) Option {
	return func(o *Orchestrator) { o.providerName = name }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// Orchestrator generates answers. It is safe for concurrent use.
type Orchestrator struct {
	provider     llm.Provider
	model        string
	providerName string
	metrics      *observe.Metrics
	log          *slog.Logger

	mu       sync.RWMutex
	settings Settings
}

// New creates an Orchestrator backed by provider.
func New(provider llm.Provider, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, errors.New("answer: provider must not be nil")
	}
	o := &Orchestrator{
		provider:     provider,
		model:        "assistant",
		providerName: "llm",
		settings:     DefaultSettings(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o, nil
}

// Settings returns the current settings.
func (o *Orchestrator) Settings() Settings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settings
}

// SetSettings replaces the settings for subsequent calls. In-flight answers keep
// the settings they started with.
func (o *Orchestrator) SetSettings(s Settings) {
	o.mu.Lock()
	o.settings = s
	o.mu.Unlock()
}

// Answer streams an answer to question, using the tail of recent as context.
// It blocks until the stream ends; run it in its own goroutine to keep the
// caller responsive.
func (o *Orchestrator) Answer(ctx context.Context, question string, recent []types.TranscriptItem, h Handler) {
	s := o.Settings()
	ctx, span := observe.StartSpan(ctx, "answer.generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model), attribute.Int("answer.context_items", min(len(recent), s.ContextWindow)))

	fail := func(err error) {
		err = fmt.Errorf("%w: %w", ErrAnswerGeneration, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RecordProviderRequest(ctx, o.providerName, "llm", "error")
		if h.OnError != nil {
			h.OnError(err)
		}
	}

	question = strings.TrimSpace(question)
	if question == "" {
		fail(errors.New("empty question"))
		return
	}

	req := o.buildRequest(question, recent, s)
	ch, err := o.provider.StreamCompletion(ctx, req)
	if err != nil {
		fail(err)
		return
	}

	var sb strings.Builder
	for c := range ch {
		if c.FinishReason == llm.FinishError {
			for range ch {
			}
			fail(errors.New(c.Text))
			return
		}
		if c.Text == "" {
			continue
		}
		sb.WriteString(c.Text)
		if h.OnChunk != nil {
			h.OnChunk(c.Text)
		}
	}
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		fail(errors.New("provider returned an empty answer"))
		return
	}

	o.metrics.RecordProviderRequest(ctx, o.providerName, "llm", "ok")
	if h.OnComplete != nil {
		h.OnComplete(Answer{Text: text, Confidence: s.DefaultConfidence, Model: o.model})
	}
}

// Ask answers an ad hoc question and blocks until the answer is complete.
func (o *Orchestrator) Ask(ctx context.Context, question string, recent []types.TranscriptItem) (Answer, error) {
	var (
		ans Answer
		err error
	)
	o.Answer(ctx, question, recent, Handler{
		OnComplete: func(a Answer) { ans = a },
		OnError:    func(e error) { err = e },
	})
	return ans, err
}

// Clarify asks the model to explain what was meant by item, given the
// surrounding transcript.
func (o *Orchestrator) Clarify(ctx context.Context, item types.TranscriptItem, recent []types.TranscriptItem) (Answer, error) {
	q := fmt.Sprintf("Clarify what the speaker meant by this remark and explain any terms a listener may not know: %q", item.Content)
	return o.Ask(ctx, q, recent)
}

func (o *Orchestrator) buildRequest(question string, recent []types.TranscriptItem, s Settings) llm.CompletionRequest {
	lines := ContextLines(recent, s.ContextWindow)
	req := llm.CompletionRequest{
		SystemPrompt: s.SystemPrompt,
		MaxTokens:    s.MaxTokens,
		Temperature:  s.Temperature,
	}
	for {
		req.Messages = []types.Message{{Role: "user", Content: BuildPrompt(question, lines)}}
		if s.MaxPromptTokens <= 0 || len(lines) == 0 {
			return req
		}
		n, err := o.provider.CountTokens(append([]types.Message{{Role: "system", Content: s.SystemPrompt}}, req.Messages...))
		if err != nil || n <= s.MaxPromptTokens {
			return req
		}
		o.log.Debug("answer: prompt over budget, dropping oldest context line", "tokens", n, "budget", s.MaxPromptTokens)
		lines = lines[1:]
	}
}

// ContextLines renders the last window items as "speaker: content" lines,
// oldest first. Items without a speaker use their kind as the label.
func ContextLines(items []types.TranscriptItem, window int) []string {
	if window <= 0 {
		return nil
	}
	if len(items) > window {
		items = items[len(items)-window:]
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		speaker := it.Speaker
		if speaker == "" {
			speaker = string(it.Kind)
		}
		lines = append(lines, speaker+": "+it.Content)
	}
	return lines
}

// BuildPrompt assembles the user prompt from context lines and the question.
func BuildPrompt(question string, lines []string) string {
	var sb strings.Builder
	if len(lines) > 0 {
		sb.WriteString("Recent transcript:\n")
		for _, l := range lines {
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)
	return sb.String()
}
