// Package types defines the shared types used across all scribeline packages.
//
// These types form the lingua franca between providers, the live transcript
// assembler, the recorder and the session stores. Each package defines its own
// domain types, but cross-cutting data structures live here to avoid circular
// imports.
package types

import "time"

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the provider
	// does not report confidence.
	Confidence float64

	// Words contains per-word detail when available.
	// May be nil for providers that don't support word-level output.
	Words []WordDetail

	// Channel is the zero-based audio channel the result was recognised on when the
	// provider transcribes channels independently (microphone = 0, system audio = 1).
	Channel int

	// Timestamp marks when the utterance started, relative to stream start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost represents a keyword to boost in STT recognition, for example
// course names or jargon that the base model tends to mishear.
type KeywordBoost struct {
	// Keyword is the text to boost.
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}

// ItemKind classifies a transcript entry.
type ItemKind string

const (
	// KindSpeech is an accepted utterance that is not a question.
	KindSpeech ItemKind = "speech"

	// KindQuestion is an accepted utterance the classifier flagged as a question.
	KindQuestion ItemKind = "question"

	// KindAnswer is a generated answer to an earlier question.
	KindAnswer ItemKind = "answer"
)

// Valid reports whether k is one of the known kinds.
func (k ItemKind) Valid() bool {
	switch k {
	case KindSpeech, KindQuestion, KindAnswer:
		return true
	}
	return false
}

// TranscriptItem is one accepted entry of a transcript. Content is always the
// trimmed text of a final recognition result (or a completed answer); interim
// results never become items.
type TranscriptItem struct {
	ID                 string    `json:"id"`
	Kind               ItemKind  `json:"type"`
	Speaker            string    `json:"speaker,omitempty"`
	Content            string    `json:"content"`
	CreatedAt          time.Time `json:"timestamp"`
	Confidence         *float64  `json:"confidence,omitempty"`
	QuestionConfidence *float64  `json:"questionConfidence,omitempty"`

	// ReplyTo is the ID of the question an answer item responds to.
	ReplyTo string `json:"replyTo,omitempty"`
}

// RecordingState is the capture state of a live session.
type RecordingState string

const (
	StateIdle      RecordingState = "idle"
	StateRecording RecordingState = "recording"
	StatePaused    RecordingState = "paused"
)

// LiveSessionState is a point-in-time copy of the in-progress transcript.
type LiveSessionState struct {
	Items                 []TranscriptItem `json:"items"`
	PendingPreview        string           `json:"pendingPreview"`
	StartedAt             *time.Time       `json:"startedAt,omitempty"`
	RecordingState        RecordingState   `json:"recordingState"`
	QuestionAnswerEnabled bool             `json:"questionAnswerEnabled"`
}

// SessionKind is the user-facing category of a saved session.
type SessionKind string

const (
	SessionLecture   SessionKind = "lecture"
	SessionMeeting   SessionKind = "meeting"
	SessionInterview SessionKind = "interview"
	SessionOther     SessionKind = "other"
)

// Valid reports whether k is one of the known session kinds.
func (k SessionKind) Valid() bool {
	switch k {
	case SessionLecture, SessionMeeting, SessionInterview, SessionOther:
		return true
	}
	return false
}

// Session is a persisted transcript with its metadata. It is created once at
// save time and afterwards only changes through an explicit SessionPatch.
type Session struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	Date           string           `json:"date"`
	StartTime      time.Time        `json:"startTime"`
	EndTime        *time.Time       `json:"endTime,omitempty"`
	DurationLabel  string           `json:"duration"`
	Kind           SessionKind      `json:"type"`
	Transcript     []TranscriptItem `json:"transcript"`
	QuestionsCount int              `json:"questionsCount"`
	WordsCount     int              `json:"wordsCount"`
	Summary        string           `json:"summary,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// SessionPatch holds the user-editable fields of a Session. Nil fields are left
// unchanged.
type SessionPatch struct {
	Title   *string      `json:"title,omitempty"`
	Kind    *SessionKind `json:"type,omitempty"`
	Summary *string      `json:"summary,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p SessionPatch) Empty() bool {
	return p.Title == nil && p.Kind == nil && p.Summary == nil
}

// Apply copies the non-nil patch fields onto s.
func (p SessionPatch) Apply(s *Session) {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Kind != nil {
		s.Kind = *p.Kind
	}
	if p.Summary != nil {
		s.Summary = *p.Summary
	}
}

// SessionStats aggregates all stored sessions.
type SessionStats struct {
	TotalSessions  int           `json:"totalSessions"`
	TotalWords     int           `json:"totalWords"`
	TotalQuestions int           `json:"totalQuestions"`
	TotalDuration  time.Duration `json:"totalDuration"`
}

// LiveEventType names a change pushed to live-session subscribers.
type LiveEventType string

const (
	EventSnapshot    LiveEventType = "snapshot"
	EventPreview     LiveEventType = "preview"
	EventItem        LiveEventType = "item"
	EventState       LiveEventType = "state"
	EventError       LiveEventType = "error"
	EventAnswerChunk LiveEventType = "answer_chunk"
	EventAnswerError LiveEventType = "answer_error"
)

// LiveEvent is one change of the live session as sent to WebSocket clients.
// Only the fields relevant to Type are set.
type LiveEvent struct {
	Type       LiveEventType     `json:"type"`
	Text       string            `json:"text,omitempty"`
	Item       *TranscriptItem   `json:"item,omitempty"`
	State      RecordingState    `json:"state,omitempty"`
	QuestionID string            `json:"questionId,omitempty"`
	Error      string            `json:"error,omitempty"`
	Session    *LiveSessionState `json:"session,omitempty"`
}
