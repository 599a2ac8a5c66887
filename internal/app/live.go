package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/scribeline/internal/answer"
	"github.com/MrWong99/scribeline/internal/config"
	"github.com/MrWong99/scribeline/internal/observe"
	"github.com/MrWong99/scribeline/internal/recorder"
	"github.com/MrWong99/scribeline/internal/server"
	"github.com/MrWong99/scribeline/internal/transcript"
	"github.com/MrWong99/scribeline/internal/transcript/classify"
	"github.com/MrWong99/scribeline/internal/transcript/vocabulary"
	"github.com/MrWong99/scribeline/pkg/provider/stt"
	"github.com/MrWong99/scribeline/pkg/types"
)

// subscriberBuffer is the per-subscriber event backlog. Events beyond it are
// dropped for that subscriber.
const subscriberBuffer = 256

// LiveManagerConfig holds the dependencies of a [LiveManager]. STT and
// Answerer may be nil; recording or answering then reports
// [server.ErrUnavailable].
type LiveManagerConfig struct {
	STT      stt.Provider
	Answerer *answer.Orchestrator
	Recorder *recorder.Recorder

	Classifier *classify.Classifier
	Vocabulary *vocabulary.Corrector
	Keywords   []types.KeywordBoost

	AnswersEnabled       bool
	MaxConcurrentAnswers int
	AnswerTimeout        time.Duration

	Logger  *slog.Logger
	Metrics *observe.Metrics
	Now     func() time.Time
}

// LiveManager owns the single live session: the assembler, its speech capture
// and the fan-out of live events to subscribers. All exported methods are safe
// for concurrent use.
type LiveManager struct {
	assembler *transcript.Assembler
	capture   *transcript.STTCapture
	answerer  *answer.Orchestrator
	recorder  *recorder.Recorder
	hub       *eventHub
	log       *slog.Logger
	closeOnce sync.Once
}

var _ server.Live = (*LiveManager)(nil)

// NewLiveManager creates an idle LiveManager.
func NewLiveManager(cfg LiveManagerConfig) (*LiveManager, error) {
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("live manager: recorder must not be nil")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	lm := &LiveManager{
		answerer: cfg.Answerer,
		recorder: cfg.Recorder,
		hub:      newEventHub(subscriberBuffer, log),
		log:      log,
	}

	var capture transcript.Capture = unavailableCapture{}
	if cfg.STT != nil {
		lm.capture = transcript.NewSTTCapture(cfg.STT,
			transcript.WithKeywords(cfg.Keywords),
			transcript.WithCaptureLogger(log),
		)
		capture = lm.capture
	}

	opts := []transcript.Option{
		transcript.WithObserver(lm.hub.observer()),
		transcript.WithLogger(log),
		transcript.WithQuestionAnswerEnabled(cfg.AnswersEnabled),
	}
	if cfg.Answerer != nil {
		opts = append(opts, transcript.WithAnswerer(cfg.Answerer))
	}
	if cfg.Classifier != nil {
		opts = append(opts, transcript.WithClassifier(cfg.Classifier))
	}
	if cfg.Vocabulary != nil {
		opts = append(opts, transcript.WithVocabulary(cfg.Vocabulary))
	}
	if cfg.Metrics != nil {
		opts = append(opts, transcript.WithMetrics(cfg.Metrics))
	}
	if cfg.Now != nil {
		opts = append(opts, transcript.WithClock(cfg.Now))
	}
	if cfg.MaxConcurrentAnswers > 0 {
		opts = append(opts, transcript.WithMaxConcurrentAnswers(cfg.MaxConcurrentAnswers))
	}
	if cfg.AnswerTimeout > 0 {
		opts = append(opts, transcript.WithAnswerTimeout(cfg.AnswerTimeout))
	}

	asm, err := transcript.New(capture, opts...)
	if err != nil {
		return nil, fmt.Errorf("live manager: %w", err)
	}
	lm.assembler = asm
	return lm, nil
}

// State returns a copy of the live session state.
func (lm *LiveManager) State() types.LiveSessionState { return lm.assembler.State() }

// Start begins recording.
func (lm *LiveManager) Start(ctx context.Context, opts transcript.CaptureOptions) error {
	if err := lm.assembler.Start(ctx, opts); err != nil {
		return err
	}
	lm.log.Info("live session started",
		"microphone", opts.Microphone,
		"system_audio", opts.SystemAudio,
		"language", opts.Language,
	)
	return nil
}

// Pause suspends recording.
func (lm *LiveManager) Pause(ctx context.Context) error { return lm.assembler.Pause(ctx) }

// Resume continues a paused recording.
func (lm *LiveManager) Resume(ctx context.Context) error { return lm.assembler.Resume(ctx) }

// Stop ends the recording. The transcript stays available for saving.
func (lm *LiveManager) Stop(ctx context.Context) error {
	if err := lm.assembler.Stop(ctx); err != nil {
		return err
	}
	lm.log.Info("live session stopped", "items", len(lm.assembler.Items()))
	return nil
}

// SetQuestionAnswerEnabled toggles automatic answering.
func (lm *LiveManager) SetQuestionAnswerEnabled(on bool) {
	lm.assembler.SetQuestionAnswerEnabled(on)
}

// Save persists the current transcript.
func (lm *LiveManager) Save(ctx context.Context, opts recorder.SnapshotOptions) (*types.Session, error) {
	return lm.recorder.Save(ctx, lm.assembler.State(), opts)
}

// Ask answers an ad hoc question over the live transcript. The answer is not
// added to the transcript.
func (lm *LiveManager) Ask(ctx context.Context, question string) (answer.Answer, error) {
	if lm.answerer == nil {
		return answer.Answer{}, fmt.Errorf("%w: no language model configured", server.ErrUnavailable)
	}
	return lm.answerer.Ask(ctx, question, lm.assembler.Items())
}

// Clarify explains the transcript item with itemID in the context of the
// items around it.
func (lm *LiveManager) Clarify(ctx context.Context, itemID string) (answer.Answer, error) {
	if lm.answerer == nil {
		return answer.Answer{}, fmt.Errorf("%w: no language model configured", server.ErrUnavailable)
	}
	items := lm.assembler.Items()
	i := slices.IndexFunc(items, func(it types.TranscriptItem) bool { return it.ID == itemID })
	if i < 0 {
		return answer.Answer{}, fmt.Errorf("%w: %s", server.ErrItemNotFound, itemID)
	}
	return lm.answerer.Clarify(ctx, items[i], items[:i])
}

// SendAudio forwards an audio frame to the open capture.
func (lm *LiveManager) SendAudio(frame []byte) error {
	if lm.capture == nil {
		return transcript.ErrNotCapturing
	}
	return lm.capture.SendAudio(frame)
}

// Subscribe registers a live event subscriber. The first event is a snapshot
// of the state at registration; later events continue from exactly that point.
func (lm *LiveManager) Subscribe() (events <-chan types.LiveEvent, cancel func()) {
	lm.assembler.View(func(s types.LiveSessionState) {
		events, cancel = lm.hub.subscribe(types.LiveEvent{Type: types.EventSnapshot, Session: &s})
	})
	return events, cancel
}

// ApplyConfig applies the hot-reloadable parts of a configuration change.
func (lm *LiveManager) ApplyConfig(diff config.ConfigDiff) error {
	if diff.ClassifierChanged {
		c, err := classify.New(classify.WithConfig(diff.NewClassifier.Resolve()))
		if err != nil {
			return fmt.Errorf("apply classifier: %w", err)
		}
		lm.assembler.SetClassifier(c)
		lm.log.Info("classifier reloaded")
	}
	if diff.VocabularyChanged {
		lm.assembler.SetVocabulary(newVocabulary(diff.NewVocabulary))
		lm.log.Info("vocabulary reloaded", "terms", len(diff.NewVocabulary.Terms))
	}
	if diff.AnswerEnabledChanged {
		lm.assembler.SetQuestionAnswerEnabled(diff.NewAnswer.IsEnabled())
	}
	if diff.AnswerChanged && lm.answerer != nil {
		lm.answerer.SetSettings(diff.NewAnswer.Settings())
		lm.log.Info("answer settings reloaded")
	}
	return nil
}

// Close stops a running recording, waits for in-flight answers and closes all
// subscriber streams. Items remain readable through State.
func (lm *LiveManager) Close(ctx context.Context) error {
	var err error
	lm.closeOnce.Do(func() {
		err = lm.assembler.Close(ctx)
		lm.hub.close()
	})
	return err
}

// newVocabulary returns nil when no terms are configured.
func newVocabulary(cfg config.VocabularyConfig) *vocabulary.Corrector {
	if len(cfg.Terms) == 0 {
		return nil
	}
	var opts []vocabulary.Option
	if cfg.PhoneticThreshold > 0 {
		opts = append(opts, vocabulary.WithPhoneticThreshold(cfg.PhoneticThreshold))
	}
	if cfg.FuzzyThreshold > 0 {
		opts = append(opts, vocabulary.WithFuzzyThreshold(cfg.FuzzyThreshold))
	}
	return vocabulary.New(cfg.Terms, opts...)
}

// unavailableCapture stands in when no speech provider is configured.
type unavailableCapture struct{}

func (unavailableCapture) StartCapture(context.Context, transcript.CaptureOptions, transcript.Sink) error {
	return fmt.Errorf("%w: no speech provider configured", server.ErrUnavailable)
}

func (unavailableCapture) StopCapture(context.Context) error { return nil }

// ─── Event hub ───────────────────────────────────────────────────────────────

// eventHub fans live events out to subscribers. Publishing never blocks: the
// assembler calls it while holding its lock.
type eventHub struct {
	buffer int
	log    *slog.Logger

	mu     sync.Mutex
	subs   map[chan types.LiveEvent]struct{}
	closed bool
}

func newEventHub(buffer int, log *slog.Logger) *eventHub {
	return &eventHub{buffer: buffer, log: log, subs: make(map[chan types.LiveEvent]struct{})}
}

// subscribe registers a new channel. first is queued ahead of any published
// event.
func (h *eventHub) subscribe(first ...types.LiveEvent) (<-chan types.LiveEvent, func()) {
	ch := make(chan types.LiveEvent, max(h.buffer, len(first)))
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	for _, ev := range first {
		ch <- ev
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *eventHub) publish(ev types.LiveEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.log.Debug("live event dropped for slow subscriber", "type", ev.Type)
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *eventHub) observer() transcript.Observer {
	return transcript.Observer{
		OnPreview: func(text string) {
			h.publish(types.LiveEvent{Type: types.EventPreview, Text: text})
		},
		OnItem: func(item types.TranscriptItem) {
			h.publish(types.LiveEvent{Type: types.EventItem, Item: &item})
		},
		OnState: func(s types.RecordingState) {
			h.publish(types.LiveEvent{Type: types.EventState, State: s})
		},
		OnError: func(err error) {
			h.publish(types.LiveEvent{Type: types.EventError, Error: err.Error()})
		},
		OnAnswerChunk: func(questionID, text string) {
			h.publish(types.LiveEvent{Type: types.EventAnswerChunk, QuestionID: questionID, Text: text})
		},
		OnAnswerError: func(questionID string, err error) {
			h.publish(types.LiveEvent{Type: types.EventAnswerError, QuestionID: questionID, Error: err.Error()})
		},
	}
}
