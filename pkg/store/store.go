// Package store defines persistence for saved transcript sessions.
//
// A [Store] keeps [types.Session] records created at save time. Sessions are
// immutable except for the fields of a [types.SessionPatch]. Implementations:
//
//   - memstore: in-process map, used for tests and ephemeral deployments.
//   - sqlite: a local database file (modernc.org/sqlite, no cgo).
//   - postgres: a shared PostgreSQL database (pgx connection pool).
//
// Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/scribeline/pkg/types"
)

var (
	// ErrNotFound is returned when no session has the requested ID.
	ErrNotFound = errors.New("store: session not found")

	// ErrUnavailable wraps failures of the storage backend itself.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// ListOptions filters and pages [Store.List]. Zero fields apply no constraint.
type ListOptions struct {
	// Kind restricts results to one session kind.
	Kind types.SessionKind

	// Query matches a case-insensitive substring of the title.
	Query string

	// Limit caps the number of results. Zero returns all.
	Limit int

	// Offset skips that many results after sorting.
	Offset int
}

// Store persists sessions.
type Store interface {
	// Create stores s and returns the stored copy. An empty ID is replaced by a
	// new UUID; zero CreatedAt and UpdatedAt are set to the current time.
	Create(ctx context.Context, s *types.Session) (*types.Session, error)

	// Get returns the session with id or ErrNotFound.
	Get(ctx context.Context, id string) (*types.Session, error)

	// List returns sessions newest first by StartTime.
	List(ctx context.Context, opts ListOptions) ([]types.Session, error)

	// Update applies patch and returns the updated session or ErrNotFound.
	Update(ctx context.Context, id string, patch types.SessionPatch) (*types.Session, error)

	// Delete removes the session and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	// Stats aggregates over all sessions.
	Stats(ctx context.Context) (types.SessionStats, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Prepare fills the ID and timestamps of a session about to be created and
// returns a copy whose transcript does not alias s.
func Prepare(s *types.Session, now time.Time) *types.Session {
	cp := *s
	cp.Transcript = slices.Clone(s.Transcript)
	if cp.Transcript == nil {
		cp.Transcript = []types.TranscriptItem{}
	}
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Kind == "" {
		cp.Kind = types.SessionOther
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	return &cp
}

// Matches reports whether s passes the filters of opts. Paging is not applied.
func (o ListOptions) Matches(s *types.Session) bool {
	if o.Kind != "" && s.Kind != o.Kind {
		return false
	}
	if o.Query != "" && !strings.Contains(strings.ToLower(s.Title), strings.ToLower(o.Query)) {
		return false
	}
	return true
}

// Page applies Offset and Limit to an already sorted slice.
func (o ListOptions) Page(sessions []types.Session) []types.Session {
	if o.Offset > 0 {
		if o.Offset >= len(sessions) {
			return []types.Session{}
		}
		sessions = sessions[o.Offset:]
	}
	if o.Limit > 0 && len(sessions) > o.Limit {
		sessions = sessions[:o.Limit]
	}
	return sessions
}

// Duration is the recorded length of s, zero when it has no end time.
func Duration(s *types.Session) time.Duration {
	if s.EndTime == nil || s.EndTime.Before(s.StartTime) {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// Accumulate adds s to stats.
func Accumulate(stats *types.SessionStats, s *types.Session) {
	stats.TotalSessions++
	stats.TotalWords += s.WordsCount
	stats.TotalQuestions += s.QuestionsCount
	stats.TotalDuration += Duration(s)
}
