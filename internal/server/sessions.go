package server

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/scribeline/internal/export"
	"github.com/MrWong99/scribeline/pkg/store"
	"github.com/MrWong99/scribeline/pkg/types"
)

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest(name + " must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOptions{
		Kind:  types.SessionKind(r.URL.Query().Get("type")),
		Query: strings.TrimSpace(r.URL.Query().Get("q")),
	}
	if opts.Kind != "" && !opts.Kind.Valid() {
		s.writeError(w, r, badRequest("unknown session type "+strconv.Quote(string(opts.Kind))))
		return
	}
	var err error
	if opts.Limit, err = queryInt(r, "limit"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if opts.Offset, err = queryInt(r, "offset"); err != nil {
		s.writeError(w, r, err)
		return
	}

	sessions, err := s.store.List(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []types.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func validatePatch(p types.SessionPatch) error {
	if p.Empty() {
		return badRequest("nothing to update")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return badRequest("title must not be empty")
	}
	if p.Kind != nil && !p.Kind.Valid() {
		return badRequest("unknown session type " + strconv.Quote(string(*p.Kind)))
	}
	return nil
}

func (s *Server) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	var patch types.SessionPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validatePatch(patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		patch.Title = &t
	}

	sess, err := s.store.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	found, err := s.store.Delete(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeError(w, r, store.ErrNotFound)
		return
	}
	s.log.InfoContext(r.Context(), "session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportSession(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, badRequest(err.Error()))
		return
	}
	sess, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeExport(w, r, format, export.FromSession(sess))
}

// writeExport renders into memory first so a rendering failure still yields a
// JSON error instead of a truncated download.
func (s *Server) writeExport(w http.ResponseWriter, r *http.Request, f export.Format, d export.Data) {
	var buf bytes.Buffer
	if err := export.Render(f, d, &buf); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(d, f)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
