// Package storetest is a conformance suite shared by the [store.Store]
// implementations.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/scribeline/pkg/store"
	"github.com/MrWong99/scribeline/pkg/types"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// Session builds a session starting offset after a fixed base time.
func Session(title string, kind types.SessionKind, offset time.Duration, words, questions int) *types.Session {
	start := base.Add(offset)
	end := start.Add(10 * time.Minute)
	conf := 0.91
	return &types.Session{
		Title:          title,
		Date:           start.Format("2006-01-02"),
		StartTime:      start,
		EndTime:        &end,
		DurationLabel:  "10m",
		Kind:           kind,
		QuestionsCount: questions,
		WordsCount:     words,
		Transcript: []types.TranscriptItem{
			{ID: "i1", Kind: types.KindSpeech, Content: "welcome everyone", CreatedAt: start, Confidence: &conf},
			{ID: "i2", Kind: types.KindQuestion, Content: "any questions?", CreatedAt: start.Add(time.Minute), QuestionConfidence: ptr(0.6)},
			{ID: "i3", Kind: types.KindAnswer, Speaker: "gpt-4o", Content: "none so far", CreatedAt: start.Add(2 * time.Minute), ReplyTo: "i2"},
		},
	}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	open := func(t *testing.T) store.Store {
		t.Helper()
		s := newStore(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		in := Session("Physics 101", types.SessionLecture, 0, 120, 1)

		created, err := s.Create(ctx, in)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if created.ID == "" || created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
			t.Errorf("Create did not fill ID and timestamps: %+v", created)
		}
		if in.ID != "" {
			t.Error("Create mutated its argument")
		}

		got, err := s.Get(ctx, created.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Title != "Physics 101" || got.Kind != types.SessionLecture || got.WordsCount != 120 || got.QuestionsCount != 1 {
			t.Errorf("Get = %+v", got)
		}
		if !got.StartTime.Equal(in.StartTime) || got.EndTime == nil || !got.EndTime.Equal(*in.EndTime) {
			t.Errorf("times = %v..%v", got.StartTime, got.EndTime)
		}
		if len(got.Transcript) != 3 {
			t.Fatalf("transcript = %+v", got.Transcript)
		}
		ans := got.Transcript[2]
		if ans.Kind != types.KindAnswer || ans.ReplyTo != "i2" || ans.Speaker != "gpt-4o" {
			t.Errorf("answer item = %+v", ans)
		}
		if c := got.Transcript[0].Confidence; c == nil || *c != 0.91 {
			t.Errorf("confidence = %v", c)
		}
		if got.Transcript[1].QuestionConfidence == nil || got.Transcript[0].QuestionConfidence != nil {
			t.Error("question confidence not round-tripped")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := open(t)
		if _, err := s.Get(context.Background(), "does-not-exist"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get err = %v, want ErrNotFound", err)
		}
	})

	t.Run("CreateKeepsGivenID", func(t *testing.T) {
		s := open(t)
		in := Session("Standup", types.SessionMeeting, 0, 10, 0)
		in.ID = "fixed-id"
		created, err := s.Create(context.Background(), in)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if created.ID != "fixed-id" {
			t.Errorf("ID = %q", created.ID)
		}
	})

	t.Run("ListOrderAndFilters", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for _, in := range []*types.Session{
			Session("Physics 101", types.SessionLecture, 0, 10, 0),
			Session("Team sync", types.SessionMeeting, time.Hour, 10, 0),
			Session("Physics 102", types.SessionLecture, 2*time.Hour, 10, 0),
		} {
			if _, err := s.Create(ctx, in); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		all, err := s.List(ctx, store.ListOptions{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if titles(all) != "Physics 102,Team sync,Physics 101" {
			t.Errorf("order = %s", titles(all))
		}

		lectures, _ := s.List(ctx, store.ListOptions{Kind: types.SessionLecture})
		if titles(lectures) != "Physics 102,Physics 101" {
			t.Errorf("kind filter = %s", titles(lectures))
		}
		found, _ := s.List(ctx, store.ListOptions{Query: "SYNC"})
		if titles(found) != "Team sync" {
			t.Errorf("query filter = %s", titles(found))
		}
		page, _ := s.List(ctx, store.ListOptions{Limit: 1, Offset: 1})
		if titles(page) != "Team sync" {
			t.Errorf("page = %s", titles(page))
		}
		empty, err := s.List(ctx, store.ListOptions{Offset: 10})
		if err != nil || len(empty) != 0 {
			t.Errorf("offset past end = %v, %v", empty, err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		created, err := s.Create(ctx, Session("Untitled", types.SessionOther, 0, 10, 0))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		kind := types.SessionInterview
		updated, err := s.Update(ctx, created.ID, types.SessionPatch{Title: ptr("Candidate A"), Kind: &kind})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if updated.Title != "Candidate A" || updated.Kind != types.SessionInterview || updated.Summary != "" {
			t.Errorf("Update = %+v", updated)
		}
		if updated.UpdatedAt.Before(created.UpdatedAt) {
			t.Error("UpdatedAt went backwards")
		}
		got, _ := s.Get(ctx, created.ID)
		if got.Title != "Candidate A" || len(got.Transcript) != 3 {
			t.Errorf("persisted = %+v", got)
		}

		same, err := s.Update(ctx, created.ID, types.SessionPatch{})
		if err != nil || same.Title != "Candidate A" {
			t.Errorf("empty patch = %+v, %v", same, err)
		}
		if _, err := s.Update(ctx, "missing", types.SessionPatch{Title: ptr("x")}); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Update missing err = %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		created, err := s.Create(ctx, Session("Doomed", types.SessionOther, 0, 10, 0))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ok, err := s.Delete(ctx, created.ID)
		if err != nil || !ok {
			t.Fatalf("Delete = %v, %v", ok, err)
		}
		ok, err = s.Delete(ctx, created.ID)
		if err != nil || ok {
			t.Errorf("second Delete = %v, %v; want false, nil", ok, err)
		}
		if _, err := s.Get(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get after delete err = %v", err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		empty, err := s.Stats(ctx)
		if err != nil || empty != (types.SessionStats{}) {
			t.Fatalf("empty Stats = %+v, %v", empty, err)
		}
		_, _ = s.Create(ctx, Session("A", types.SessionLecture, 0, 100, 2))
		_, _ = s.Create(ctx, Session("B", types.SessionMeeting, time.Hour, 50, 1))

		st, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		want := types.SessionStats{TotalSessions: 2, TotalWords: 150, TotalQuestions: 3, TotalDuration: 20 * time.Minute}
		if st != want {
			t.Errorf("Stats = %+v, want %+v", st, want)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := open(t).Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

func titles(ss []types.Session) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s.Title
	}
	return out
}
