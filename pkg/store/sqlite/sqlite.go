// Package sqlite is a [store.Store] backed by a local SQLite database file.
// It uses the pure-Go modernc.org/sqlite driver, so no cgo toolchain is needed.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/scribeline/pkg/store"
	"github.com/MrWong99/scribeline/pkg/types"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT    PRIMARY KEY,
    title           TEXT    NOT NULL,
    date            TEXT    NOT NULL DEFAULT '',
    start_time      TEXT    NOT NULL,
    end_time        TEXT,
    duration_label  TEXT    NOT NULL DEFAULT '',
    duration_ns     INTEGER NOT NULL DEFAULT 0,
    kind            TEXT    NOT NULL,
    transcript      TEXT    NOT NULL,
    questions_count INTEGER NOT NULL DEFAULT 0,
    words_count     INTEGER NOT NULL DEFAULT 0,
    summary         TEXT    NOT NULL DEFAULT '',
    created_at      TEXT    NOT NULL,
    updated_at      TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_start_time ON sessions (start_time);
CREATE INDEX IF NOT EXISTS idx_sessions_kind ON sessions (kind);`

const columns = `id, title, date, start_time, end_time, duration_label, kind,
       transcript, questions_count, words_count, summary, created_at, updated_at`

var _ store.Store = (*Store)(nil)

// Store is safe for concurrent use. Writes are serialised through a single
// connection.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and applies the schema. The
// special path ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite store: create directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: sqlite %s: %w", store.ErrUnavailable, op, err)
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

// Create implements [store.Store].
func (s *Store) Create(ctx context.Context, sess *types.Session) (*types.Session, error) {
	p := store.Prepare(sess, s.now().UTC())
	transcript, err := json.Marshal(p.Transcript)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: encode transcript: %w", err)
	}
	var end sql.NullString
	if p.EndTime != nil {
		end = sql.NullString{String: formatTime(*p.EndTime), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions
		    (id, title, date, start_time, end_time, duration_label, duration_ns, kind,
		     transcript, questions_count, words_count, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Date, formatTime(p.StartTime), end, p.DurationLabel,
		int64(store.Duration(p)), string(p.Kind), string(transcript),
		p.QuestionsCount, p.WordsCount, p.Summary,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return nil, unavailable("create", err)
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*types.Session, error) {
	var (
		sess                    types.Session
		start, created, updated string
		end                     sql.NullString
		kind, transcript        string
	)
	if err := row.Scan(&sess.ID, &sess.Title, &sess.Date, &start, &end, &sess.DurationLabel,
		&kind, &transcript, &sess.QuestionsCount, &sess.WordsCount, &sess.Summary,
		&created, &updated); err != nil {
		return nil, err
	}
	sess.Kind = types.SessionKind(kind)

	var err error
	if sess.StartTime, err = time.Parse(timeLayout, start); err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	if end.Valid {
		t, err := time.Parse(timeLayout, end.String)
		if err != nil {
			return nil, fmt.Errorf("parse end_time: %w", err)
		}
		sess.EndTime = &t
	}
	if sess.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if sess.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if err := json.Unmarshal([]byte(transcript), &sess.Transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return &sess, nil
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, id string) (*types.Session, error) {
	return s.get(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) get(ctx context.Context, q querier, id string) (*types.Session, error) {
	sess, err := scanSession(q.QueryRowContext(ctx, `SELECT `+columns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return sess, nil
}

// List implements [store.Store].
func (s *Store) List(ctx context.Context, opts store.ListOptions) ([]types.Session, error) {
	var (
		conds []string
		args  []any
	)
	if opts.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(opts.Kind))
	}
	if opts.Query != "" {
		conds = append(conds, "instr(lower(title), lower(?)) > 0")
		args = append(args, opts.Query)
	}
	q := `SELECT ` + columns + ` FROM sessions`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY start_time DESC, id ASC"
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := -1
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, max(opts.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	out := []types.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, unavailable("list", err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return out, nil
}

// Update implements [store.Store].
func (s *Store) Update(ctx context.Context, id string, patch types.SessionPatch) (*types.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("update", err)
	}
	defer tx.Rollback()

	sess, err := s.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return sess, nil
	}
	patch.Apply(sess)
	sess.UpdatedAt = s.now().UTC()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET title = ?, kind = ?, summary = ?, updated_at = ? WHERE id = ?`,
		sess.Title, string(sess.Kind), sess.Summary, formatTime(sess.UpdatedAt), id,
	); err != nil {
		return nil, unavailable("update", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("update", err)
	}
	return sess, nil
}

// Delete implements [store.Store].
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, unavailable("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("delete", err)
	}
	return n > 0, nil
}

// Stats implements [store.Store].
func (s *Store) Stats(ctx context.Context) (types.SessionStats, error) {
	var (
		st  types.SessionStats
		dur int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(words_count), 0),
		       COALESCE(SUM(questions_count), 0),
		       COALESCE(SUM(duration_ns), 0)
		FROM sessions`).Scan(&st.TotalSessions, &st.TotalWords, &st.TotalQuestions, &dur)
	if err != nil {
		return types.SessionStats{}, unavailable("stats", err)
	}
	st.TotalDuration = time.Duration(dur)
	return st, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close implements [store.Store].
func (s *Store) Close() error {
	return s.db.Close()
}
