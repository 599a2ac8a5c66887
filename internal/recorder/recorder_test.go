package recorder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/scribeline/internal/observe"
	storemock "github.com/MrWong99/scribeline/pkg/store/mock"
	"github.com/MrWong99/scribeline/pkg/types"
)

var now = time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)

type fakeSummariser struct {
	summary string
	err     error
	calls   int
}

func (f *fakeSummariser) Summarise(context.Context, []types.TranscriptItem) (string, error) {
	f.calls++
	return f.summary, f.err
}

func newRecorder(t *testing.T, st *storemock.Store, opts ...Option) *Recorder {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	base := []Option{WithClock(func() time.Time { return now }), WithMetrics(m)}
	return New(st, append(base, opts...)...)
}

// lecture returns 10 five-word speech items and 2 questions.
func lecture() types.LiveSessionState {
	started := now.Add(-65 * time.Minute)
	var items []types.TranscriptItem
	for i := range 10 {
		items = append(items, types.TranscriptItem{
			ID: "s", Kind: types.KindSpeech, Content: "one two three four five",
			CreatedAt: started.Add(time.Duration(i) * time.Minute),
		})
	}
	items = append(items,
		types.TranscriptItem{ID: "q1", Kind: types.KindQuestion, Content: "What is entropy?", CreatedAt: started.Add(20 * time.Minute)},
		types.TranscriptItem{ID: "q2", Kind: types.KindQuestion, Content: "Why?", CreatedAt: started.Add(30 * time.Minute)},
	)
	return types.LiveSessionState{Items: items, StartedAt: &started, RecordingState: types.StateIdle}
}

func TestSnapshot_Counts(t *testing.T) {
	t.Parallel()
	r := newRecorder(t, &storemock.Store{})
	sess, err := r.Snapshot(lecture(), SnapshotOptions{})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if sess.WordsCount != 50+3+1 {
		t.Errorf("words = %d, want 54", sess.WordsCount)
	}
	if sess.QuestionsCount != 2 {
		t.Errorf("questions = %d, want 2", sess.QuestionsCount)
	}
	if sess.DurationLabel != "1h 5m" {
		t.Errorf("duration = %q", sess.DurationLabel)
	}
	if sess.Title != "Saved Transcript 2026-03-02 10:05" {
		t.Errorf("title = %q", sess.Title)
	}
	if sess.Kind != types.SessionOther || sess.Date != "2026-03-02" {
		t.Errorf("kind/date = %s %s", sess.Kind, sess.Date)
	}
	if sess.EndTime == nil || !sess.EndTime.Equal(now) || !sess.StartTime.Equal(now.Add(-65*time.Minute)) {
		t.Errorf("times = %v..%v", sess.StartTime, sess.EndTime)
	}
}

func TestSnapshot_DurationFromItemsWithoutStart(t *testing.T) {
	t.Parallel()
	r := newRecorder(t, &storemock.Store{})
	st := lecture()
	st.StartedAt = nil
	sess, err := r.Snapshot(st, SnapshotOptions{Title: "  Thermo  ", Kind: types.SessionLecture})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if sess.DurationLabel != "30m" || sess.Title != "Thermo" || sess.Kind != types.SessionLecture {
		t.Errorf("session = %+v", sess)
	}
}

func TestSnapshot_InvalidKind(t *testing.T) {
	t.Parallel()
	r := newRecorder(t, &storemock.Store{})
	if _, err := r.Snapshot(lecture(), SnapshotOptions{Kind: "podcast"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestSave_EmptySession(t *testing.T) {
	t.Parallel()
	st := &storemock.Store{}
	r := newRecorder(t, st)
	_, err := r.Save(context.Background(), types.LiveSessionState{}, SnapshotOptions{})
	if !errors.Is(err, ErrEmptySession) {
		t.Fatalf("err = %v, want ErrEmptySession", err)
	}
	if st.CreateCallCount() != 0 {
		t.Error("store must not be called for an empty session")
	}
}

func TestSave_Persists(t *testing.T) {
	t.Parallel()
	st := &storemock.Store{}
	sum := &fakeSummariser{summary: "Entropy was discussed."}
	r := newRecorder(t, st, WithSummariser(sum))

	saved, err := r.Save(context.Background(), lecture(), SnapshotOptions{Summarise: true})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.ID == "" || saved.Summary != "Entropy was discussed." {
		t.Errorf("saved = %+v", saved)
	}
	if st.CreateCallCount() != 1 || sum.calls != 1 {
		t.Errorf("create calls = %d, summarise calls = %d", st.CreateCallCount(), sum.calls)
	}
}

func TestSave_SummaryFailureStillSaves(t *testing.T) {
	t.Parallel()
	st := &storemock.Store{}
	r := newRecorder(t, st, WithSummariser(&fakeSummariser{err: errors.New("quota")}))
	saved, err := r.Save(context.Background(), lecture(), SnapshotOptions{Summarise: true})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Summary != "" {
		t.Errorf("summary = %q", saved.Summary)
	}
}

func TestSave_PersistenceError(t *testing.T) {
	t.Parallel()
	st := &storemock.Store{CreateErr: errors.New("disk full")}
	r := newRecorder(t, st)
	state := lecture()
	_, err := r.Save(context.Background(), state, SnapshotOptions{})
	if !errors.Is(err, ErrPersistence) || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v", err)
	}
	if len(state.Items) != 12 {
		t.Error("live state modified")
	}

	st.CreateErr = nil
	if _, err := r.Save(context.Background(), state, SnapshotOptions{}); err != nil {
		t.Errorf("retry failed: %v", err)
	}
}

func TestDurationLabel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{5*time.Minute + 59*time.Second, "5m"},
		{time.Hour + 5*time.Minute, "1h 5m"},
		{2 * time.Hour, "2h 0m"},
		{-time.Second, "0s"},
	}
	for _, tc := range tests {
		if got := DurationLabel(tc.d); got != tc.want {
			t.Errorf("DurationLabel(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
