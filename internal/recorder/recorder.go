// Package recorder turns a live session into a persisted [types.Session].
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/scribeline/internal/answer"
	"github.com/MrWong99/scribeline/internal/observe"
	"github.com/MrWong99/scribeline/pkg/store"
	"github.com/MrWong99/scribeline/pkg/types"
)

var (
	// ErrEmptySession is returned when there is nothing to save.
	ErrEmptySession = errors.New("recorder: nothing has been transcribed yet")

	// ErrPersistence wraps store failures. The live transcript is untouched, so
	// saving can be retried.
	ErrPersistence = errors.New("recorder: session could not be saved")
)

// SnapshotOptions are the user choices made at save time.
type SnapshotOptions struct {
	// Title defaults to "Saved Transcript <date> <time>".
	Title string

	// Kind defaults to [types.SessionOther].
	Kind types.SessionKind

	// Summarise asks the configured summariser for a summary.
	Summarise bool
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithSummariser enables summaries on save.
func WithSummariser(s answer.Summariser) Option {
	return func(r *Recorder) { r.summariser = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// Recorder snapshots and saves sessions.
type Recorder struct {
	store      store.Store
	summariser answer.Summariser
	now        func() time.Time
	log        *slog.Logger
	metrics    *observe.Metrics
}

// New creates a Recorder that saves into st.
func New(st store.Store, opts ...Option) *Recorder {
	r := &Recorder{store: st, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Snapshot builds the session for state without persisting it.
func (r *Recorder) Snapshot(state types.LiveSessionState, opts SnapshotOptions) (*types.Session, error) {
	if len(state.Items) == 0 {
		return nil, ErrEmptySession
	}
	kind := opts.Kind
	if kind == "" {
		kind = types.SessionOther
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("recorder: unknown session type %q", kind)
	}

	now := r.now()
	items := slices.Clone(state.Items)
	first, last := items[0].CreatedAt, items[len(items)-1].CreatedAt

	start := first
	elapsed := last.Sub(first)
	if state.StartedAt != nil {
		start = *state.StartedAt
		elapsed = now.Sub(start)
	}

	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = "Saved Transcript " + now.Format("2006-01-02 15:04")
	}

	return &types.Session{
		Title:          title,
		Date:           start.Format("2006-01-02"),
		StartTime:      start,
		EndTime:        &now,
		DurationLabel:  DurationLabel(elapsed),
		Kind:           kind,
		Transcript:     items,
		QuestionsCount: QuestionCount(items),
		WordsCount:     WordCount(items),
	}, nil
}

// Save snapshots state, optionally summarises it and creates the session in
// the store.
func (r *Recorder) Save(ctx context.Context, state types.LiveSessionState, opts SnapshotOptions) (*types.Session, error) {
	sess, err := r.Snapshot(state, opts)
	if err != nil {
		r.metrics.RecordSessionSaved(ctx, "rejected")
		return nil, err
	}

	if opts.Summarise && r.summariser != nil {
		summary, err := r.summariser.Summarise(ctx, sess.Transcript)
		if err != nil {
			r.log.Warn("summary failed, saving without it", "err", err)
		} else {
			sess.Summary = summary
		}
	}

	saved, err := r.store.Create(ctx, sess)
	if err != nil {
		r.metrics.RecordSessionSaved(ctx, "error")
		r.log.Error("save session failed", "err", err, "items", len(sess.Transcript))
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	r.metrics.RecordSessionSaved(ctx, "ok")
	r.log.Info("session saved", "id", saved.ID, "title", saved.Title,
		"words", saved.WordsCount, "questions", saved.QuestionsCount)
	return saved, nil
}

// WordCount sums the whitespace-separated tokens of all items.
func WordCount(items []types.TranscriptItem) int {
	n := 0
	for _, it := range items {
		n += len(strings.Fields(it.Content))
	}
	return n
}

// QuestionCount counts question items.
func QuestionCount(items []types.TranscriptItem) int {
	n := 0
	for _, it := range items {
		if it.Kind == types.KindQuestion {
			n++
		}
	}
	return n
}

// DurationLabel formats d as "1h 5m", "5m" or "45s".
func DurationLabel(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
