// Package transcript drives a live transcription session.
//
// The [Assembler] consumes interim and final recognition results, keeps the
// in-progress preview, runs each final result through the utterance classifier
// and appends accepted utterances to the ordered transcript. Questions may
// trigger an asynchronous answer whose text is appended as an answer item.
//
// Recording follows a small state machine:
//
//	idle --Start--> recording --Pause--> paused --Resume--> recording
//	recording|paused --Stop--> idle
//
// Any other transition returns [ErrInvalidTransition]. A failure reported by the
// capture collaborator moves the session to idle and keeps accepted items.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/scribeline/internal/answer"
	"github.com/MrWong99/scribeline/internal/observe"
	"github.com/MrWong99/scribeline/internal/transcript/classify"
	"github.com/MrWong99/scribeline/internal/transcript/vocabulary"
	"github.com/MrWong99/scribeline/pkg/types"
)

var (
	// ErrInvalidTransition is returned when a lifecycle call does not match the
	// current recording state.
	ErrInvalidTransition = errors.New("transcript: invalid state transition")

	// ErrCapture wraps failures of the speech-capture collaborator.
	ErrCapture = errors.New("transcript: capture failed")
)

const (
	defaultMaxConcurrentAnswers = 4
	defaultAnswerTimeout        = 60 * time.Second
	defaultAnswerContextItems   = 20
)

// CaptureOptions selects the audio sources of a capture.
type CaptureOptions struct {
	Microphone  bool
	SystemAudio bool
	Language    string
	Encoding    string
	SampleRate  int
}

// Sink receives recognition events from a capture.
type Sink interface {
	OnTranscript(t types.Transcript)
	OnCaptureError(err error)
}

// Capture is the speech-capture collaborator. StartCapture begins delivering
// events to sink; StopCapture releases the underlying resources and returns
// once no further events will be delivered.
type Capture interface {
	StartCapture(ctx context.Context, opts CaptureOptions, sink Sink) error
	StopCapture(ctx context.Context) error
}

// Answerer produces answers for detected questions. [answer.Orchestrator]
// implements it.
type Answerer interface {
	Answer(ctx context.Context, question string, recent []types.TranscriptItem, h answer.Handler)
}

// Observer receives state changes. Callbacks run while the assembler holds its
// lock, in event order; they must not call back into the Assembler and should
// return quickly. Nil callbacks are skipped.
type Observer struct {
	OnPreview     func(text string)
	OnItem        func(item types.TranscriptItem)
	OnState       func(state types.RecordingState)
	OnError       func(err error)
	OnAnswerChunk func(questionID, text string)
	OnAnswerError func(questionID string, err error)
}

// Option configures an [Assembler].
type Option func(*Assembler)

// WithAnswerer enables answer generation for detected questions.
func WithAnswerer(ans Answerer) Option {
	return func(a *Assembler) { a.answerer = ans }
}

// WithClassifier replaces the default classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(a *Assembler) { a.classifier.Store(c) }
}

// WithVocabulary corrects glossary terms in final results before classification.
func WithVocabulary(v *vocabulary.Corrector) Option {
	return func(a *Assembler) { a.vocab.Store(v) }
}

// WithObserver registers change callbacks.
func WithObserver(o Observer) Option {
	return func(a *Assembler) { a.obs = o }
}

// WithClock overrides the time source used for item timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// WithIDGenerator overrides the item ID generator. Default: random UUIDs.
func WithIDGenerator(gen func() string) Option {
	return func(a *Assembler) { a.newID = gen }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.log = l }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assembler) { a.metrics = m }
}

// WithMaxConcurrentAnswers bounds how many answers stream at once. Default: 4.
func WithMaxConcurrentAnswers(n int) Option {
	return func(a *Assembler) { a.maxAnswers = n }
}

// WithAnswerTimeout bounds each answer. Default: 60s.
func WithAnswerTimeout(d time.Duration) Option {
	return func(a *Assembler) { a.answerTimeout = d }
}

// WithQuestionAnswerEnabled sets the initial question-answering toggle.
// Default: true.
func WithQuestionAnswerEnabled(on bool) Option {
	return func(a *Assembler) { a.state.QuestionAnswerEnabled = on }
}

// Assembler is the live session state machine. All methods are safe for
// concurrent use.
type Assembler struct {
	capture       Capture
	answerer      Answerer
	classifier    atomic.Pointer[classify.Classifier]
	vocab         atomic.Pointer[vocabulary.Corrector]
	obs           Observer
	now           func() time.Time
	newID         func() string
	log           *slog.Logger
	metrics       *observe.Metrics
	maxAnswers    int
	answerTimeout time.Duration

	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
	lifeMu  sync.Mutex // serialises Start, Pause, Resume and Stop
	mu      sync.Mutex // guards the fields below
	state   types.LiveSessionState
	gen     uint64
	capOpts CaptureOptions
}

// New creates an idle Assembler that records through capture.
func New(capture Capture, opts ...Option) (*Assembler, error) {
	if capture == nil {
		return nil, errors.New("transcript: capture must not be nil")
	}
	a := &Assembler{
		capture:       capture,
		now:           time.Now,
		newID:         uuid.NewString,
		maxAnswers:    defaultMaxConcurrentAnswers,
		answerTimeout: defaultAnswerTimeout,
		state: types.LiveSessionState{
			Items:                 []types.TranscriptItem{},
			RecordingState:        types.StateIdle,
			QuestionAnswerEnabled: true,
		},
	}
	for _, o := range opts {
		o(a)
	}
	if a.classifier.Load() == nil {
		c, err := classify.New()
		if err != nil {
			return nil, err
		}
		a.classifier.Store(c)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.maxAnswers <= 0 {
		a.maxAnswers = defaultMaxConcurrentAnswers
	}
	a.sem = semaphore.NewWeighted(int64(a.maxAnswers))
	a.ctx, a.cancel = context.WithCancel(context.Background())
	return a, nil
}

// SetClassifier swaps the classifier for subsequent results.
func (a *Assembler) SetClassifier(c *classify.Classifier) {
	if c != nil {
		a.classifier.Store(c)
	}
}

// SetVocabulary swaps the glossary corrector. Nil disables correction.
func (a *Assembler) SetVocabulary(v *vocabulary.Corrector) {
	a.vocab.Store(v)
}

// Start begins a new session from idle. Items and preview are reset.
func (a *Assembler) Start(ctx context.Context, opts CaptureOptions) error {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()

	a.mu.Lock()
	if a.state.RecordingState != types.StateIdle {
		cur := a.state.RecordingState
		a.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, cur)
	}
	now := a.now()
	a.gen++
	gen := a.gen
	a.capOpts = opts
	a.state.Items = []types.TranscriptItem{}
	a.state.PendingPreview = ""
	a.state.StartedAt = &now
	a.setStateLocked(types.StateRecording)
	a.mu.Unlock()

	if err := a.capture.StartCapture(ctx, opts, a); err != nil {
		a.mu.Lock()
		if a.gen == gen {
			a.setStateLocked(types.StateIdle)
		}
		a.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrCapture, err)
	}
	a.log.Info("transcription started", "microphone", opts.Microphone, "system_audio", opts.SystemAudio, "language", opts.Language)
	return nil
}

// Pause stops capturing and keeps the session. It returns once the capture
// has been released.
func (a *Assembler) Pause(ctx context.Context) error {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()

	a.mu.Lock()
	if a.state.RecordingState != types.StateRecording {
		cur := a.state.RecordingState
		a.mu.Unlock()
		return fmt.Errorf("%w: pause while %s", ErrInvalidTransition, cur)
	}
	a.setStateLocked(types.StatePaused)
	a.mu.Unlock()

	if err := a.capture.StopCapture(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrCapture, err)
	}
	a.log.Info("transcription paused")
	return nil
}

// Resume re-acquires the capture of a paused session.
func (a *Assembler) Resume(ctx context.Context) error {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()

	a.mu.Lock()
	if a.state.RecordingState != types.StatePaused {
		cur := a.state.RecordingState
		a.mu.Unlock()
		return fmt.Errorf("%w: resume while %s", ErrInvalidTransition, cur)
	}
	a.setStateLocked(types.StateRecording)
	gen, opts := a.gen, a.capOpts
	a.mu.Unlock()

	if err := a.capture.StartCapture(ctx, opts, a); err != nil {
		err = fmt.Errorf("%w: %w", ErrCapture, err)
		a.mu.Lock()
		if a.gen == gen {
			a.gen++
			a.setStateLocked(types.StateIdle)
			a.emitErrorLocked(err)
		}
		a.mu.Unlock()
		return err
	}
	a.log.Info("transcription resumed")
	return nil
}

// Stop ends the session. Items stay available for saving until the next Start.
// Answers still streaming for this session are discarded when they finish.
func (a *Assembler) Stop(ctx context.Context) error {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()

	a.mu.Lock()
	cur := a.state.RecordingState
	if cur == types.StateIdle {
		a.mu.Unlock()
		return fmt.Errorf("%w: stop while idle", ErrInvalidTransition)
	}
	a.gen++
	a.setStateLocked(types.StateIdle)
	n := len(a.state.Items)
	a.mu.Unlock()

	if cur == types.StateRecording {
		if err := a.capture.StopCapture(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrCapture, err)
		}
	}
	a.log.Info("transcription stopped", "items", n)
	return nil
}

// OnCaptureError implements [Sink]. The session moves to idle; accepted items
// are kept.
func (a *Assembler) OnCaptureError(err error) {
	if err == nil {
		return
	}
	err = fmt.Errorf("%w: %w", ErrCapture, err)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log.Warn("capture failed", "err", err, "items", len(a.state.Items))
	if a.state.RecordingState == types.StateIdle {
		return
	}
	a.gen++
	a.setStateLocked(types.StateIdle)
	a.emitErrorLocked(err)
}

// OnTranscript implements [Sink]. The recogniser's confidence is kept on the item.
func (a *Assembler) OnTranscript(t types.Transcript) {
	var conf *float64
	if t.IsFinal && t.Confidence > 0 {
		c := t.Confidence
		conf = &c
	}
	a.handle(t.Text, t.IsFinal, conf)
}

// OnResult feeds one recognition result. Results are ignored unless recording.
func (a *Assembler) OnResult(text string, isFinal bool) {
	a.handle(text, isFinal, nil)
}

func (a *Assembler) handle(text string, isFinal bool, conf *float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.RecordingState != types.StateRecording {
		return
	}
	if !isFinal {
		a.setPreviewLocked(text)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		a.setPreviewLocked("")
		return
	}
	if v := a.vocab.Load(); v != nil {
		if corrected, fixes := v.Correct(text); len(fixes) > 0 {
			a.log.Debug("vocabulary corrected", "from", text, "to", corrected, "corrections", len(fixes))
			text = corrected
		}
	}

	now := a.now()
	res := a.classifier.Load().Classify(text, a.state.Items, now)
	if res.Action.Rejected() {
		a.setPreviewLocked("")
		a.log.Debug("utterance rejected", "reason", res.Action.String(), "detail", res.Detail, "text", text)
		a.metrics.RecordUtterance(a.ctx, false, false, res.Action.String())
		return
	}

	item := types.TranscriptItem{
		ID:         a.newID(),
		Kind:       types.KindSpeech,
		Content:    text,
		CreatedAt:  now,
		Confidence: conf,
	}
	if res.IsQuestion {
		qc := res.QuestionConfidence
		item.Kind = types.KindQuestion
		item.QuestionConfidence = &qc
	}
	recent := slices.Clone(a.state.Items[max(0, len(a.state.Items)-defaultAnswerContextItems):])
	a.state.Items = append(a.state.Items, item)
	a.metrics.RecordUtterance(a.ctx, true, res.IsQuestion, "")
	if a.obs.OnItem != nil {
		a.obs.OnItem(item)
	}
	a.setPreviewLocked("")

	if res.IsQuestion && a.state.QuestionAnswerEnabled && a.answerer != nil {
		a.launchAnswerLocked(item, recent)
	}
}

// launchAnswerLocked starts an answer for q. The caller holds a.mu.
func (a *Assembler) launchAnswerLocked(q types.TranscriptItem, recent []types.TranscriptItem) {
	if a.closed.Load() {
		return
	}
	gen := a.gen
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		start := time.Now()
		ctx, cancel := context.WithTimeout(a.ctx, a.answerTimeout)
		defer cancel()

		if err := a.sem.Acquire(ctx, 1); err != nil {
			a.answerFailed(ctx, q.ID, gen, err, start)
			return
		}
		defer a.sem.Release(1)

		a.answerer.Answer(ctx, q.Content, recent, answer.Handler{
			OnChunk: func(text string) {
				a.mu.Lock()
				defer a.mu.Unlock()
				if a.gen == gen && a.obs.OnAnswerChunk != nil {
					a.obs.OnAnswerChunk(q.ID, text)
				}
			},
			OnComplete: func(ans answer.Answer) {
				a.answerDone(ctx, q.ID, gen, ans, start)
			},
			OnError: func(err error) {
				a.answerFailed(ctx, q.ID, gen, err, start)
			},
		})
	}()
}

func (a *Assembler) answerDone(ctx context.Context, qID string, gen uint64, ans answer.Answer, start time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen != gen {
		a.log.Info("answer discarded: session ended", "question_id", qID)
		a.metrics.RecordAnswer(ctx, "discarded", time.Since(start))
		return
	}
	conf := ans.Confidence
	item := types.TranscriptItem{
		ID:         a.newID(),
		Kind:       types.KindAnswer,
		Speaker:    ans.Model,
		Content:    ans.Text,
		CreatedAt:  a.now(),
		Confidence: &conf,
		ReplyTo:    qID,
	}
	a.state.Items = append(a.state.Items, item)
	a.metrics.RecordAnswer(ctx, "ok", time.Since(start))
	if a.obs.OnItem != nil {
		a.obs.OnItem(item)
	}
}

func (a *Assembler) answerFailed(ctx context.Context, qID string, gen uint64, err error, start time.Time) {
	a.metrics.RecordAnswer(ctx, "error", time.Since(start))
	a.log.Warn("answer failed", "question_id", qID, "err", err)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen == gen && a.obs.OnAnswerError != nil {
		a.obs.OnAnswerError(qID, err)
	}
}

// SetQuestionAnswerEnabled toggles answering of detected questions. Answers
// already in flight are unaffected.
func (a *Assembler) SetQuestionAnswerEnabled(on bool) {
	a.mu.Lock()
	a.state.QuestionAnswerEnabled = on
	a.mu.Unlock()
}

// State returns a copy of the live session state.
func (a *Assembler) State() types.LiveSessionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

// View calls fn with a copy of the state while no observer callback can run,
// so a subscriber registered inside fn sees every change after that state and
// none before it. fn must not call back into the Assembler.
func (a *Assembler) View(fn func(types.LiveSessionState)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.stateLocked())
}

func (a *Assembler) stateLocked() types.LiveSessionState {
	s := a.state
	s.Items = slices.Clone(a.state.Items)
	if a.state.StartedAt != nil {
		t := *a.state.StartedAt
		s.StartedAt = &t
	}
	return s
}

// Items returns a copy of the accepted items in append order.
func (a *Assembler) Items() []types.TranscriptItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.state.Items)
}

// Wait blocks until all in-flight answers have finished.
func (a *Assembler) Wait() {
	a.wg.Wait()
}

// Close cancels in-flight answers and waits for them. A recording session is
// stopped first. The Assembler must not be used afterwards.
func (a *Assembler) Close(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if a.State().RecordingState != types.StateIdle {
		err = a.Stop(ctx)
	}
	a.cancel()
	a.wg.Wait()
	return err
}

// setStateLocked updates the recording state and the active-session gauge.
func (a *Assembler) setStateLocked(s types.RecordingState) {
	prev := a.state.RecordingState
	if prev == s {
		return
	}
	a.state.RecordingState = s
	switch {
	case prev == types.StateIdle:
		a.metrics.ActiveSessions.Add(a.ctx, 1)
	case s == types.StateIdle:
		a.metrics.ActiveSessions.Add(a.ctx, -1)
	}
	if s != types.StateRecording {
		a.setPreviewLocked("")
	}
	if a.obs.OnState != nil {
		a.obs.OnState(s)
	}
}

func (a *Assembler) setPreviewLocked(text string) {
	if a.state.PendingPreview == text {
		return
	}
	a.state.PendingPreview = text
	if a.obs.OnPreview != nil {
		a.obs.OnPreview(text)
	}
}

func (a *Assembler) emitErrorLocked(err error) {
	if a.obs.OnError != nil {
		a.obs.OnError(err)
	}
}
