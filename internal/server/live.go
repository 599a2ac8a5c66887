package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/scribeline/internal/export"
	"github.com/MrWong99/scribeline/internal/recorder"
	"github.com/MrWong99/scribeline/internal/transcript"
	"github.com/MrWong99/scribeline/pkg/types"
)

func (s *Server) handleLiveState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.live.State())
}

type startRequest struct {
	Microphone  *bool  `json:"microphone"`
	SystemAudio bool   `json:"system_audio"`
	Language    string `json:"language"`
	Encoding    string `json:"encoding"`
	SampleRate  int    `json:"sample_rate"`
}

// captureOptions applies the request defaults: the microphone is on unless
// explicitly disabled.
func (req startRequest) captureOptions() (transcript.CaptureOptions, error) {
	opts := transcript.CaptureOptions{
		Microphone:  req.Microphone == nil || *req.Microphone,
		SystemAudio: req.SystemAudio,
		Language:    strings.TrimSpace(req.Language),
		Encoding:    req.Encoding,
		SampleRate:  req.SampleRate,
	}
	if !opts.Microphone && !opts.SystemAudio {
		return opts, badRequest("at least one audio source must be enabled")
	}
	if opts.SampleRate < 0 {
		return opts, badRequest("sample_rate must not be negative")
	}
	return opts, nil
}

func (s *Server) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	opts, err := req.captureOptions()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.live.Start(r.Context(), opts); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.live.State())
}

// lifecycle adapts a state transition to a handler that answers with the new
// state.
func (s *Server) lifecycle(transition func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := transition(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.live.State())
	}
}

type saveRequest struct {
	Title     string            `json:"title"`
	Kind      types.SessionKind `json:"type"`
	Summarise *bool             `json:"summarise"`
}

func (s *Server) handleLiveSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	opts := recorder.SnapshotOptions{
		Title:     strings.TrimSpace(req.Title),
		Kind:      req.Kind,
		Summarise: s.summarise,
	}
	if opts.Kind == "" {
		opts.Kind = s.defaultKind
	}
	if !opts.Kind.Valid() {
		s.writeError(w, r, badRequest("unknown session type "+strconv.Quote(string(opts.Kind))))
		return
	}
	if req.Summarise != nil {
		opts.Summarise = *req.Summarise
	}

	sess, err := s.live.Save(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type answersRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleLiveAnswers(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Enabled == nil {
		s.writeError(w, r, badRequest("enabled is required"))
		return
	}
	s.live.SetQuestionAnswerEnabled(*req.Enabled)
	writeJSON(w, http.StatusOK, s.live.State())
}

func (s *Server) handleExportLive(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, badRequest(err.Error()))
		return
	}
	state := s.live.State()
	if len(state.Items) == 0 {
		s.writeError(w, r, recorder.ErrEmptySession)
		return
	}
	s.writeExport(w, r, format, export.FromLive(state, time.Now()))
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer     string  `json:"answer"`
	Model      string  `json:"model"`
	Confidence float64 `json:"confidence"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	q := strings.TrimSpace(req.Question)
	if q == "" {
		s.writeError(w, r, badRequest("question must not be empty"))
		return
	}
	ans, err := s.live.Ask(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Answer: ans.Text, Model: ans.Model, Confidence: ans.Confidence})
}

func (s *Server) handleClarify(w http.ResponseWriter, r *http.Request) {
	ans, err := s.live.Clarify(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Answer: ans.Text, Model: ans.Model, Confidence: ans.Confidence})
}
