// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram) and
// exposes a uniform streaming interface. The central abstraction is SessionHandle:
// once opened, a session accepts audio chunks and emits a single ordered stream
// of Transcript values. Interim results (IsFinal false) drive the live preview;
// final results may become transcript items.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/scribeline/pkg/types"
)

// ErrNotSupported is returned by optional SessionHandle methods a provider does
// not implement.
var ErrNotSupported = errors.New("stt: operation not supported")

// StreamConfig describes the audio format and recognition hints for a new STT
// session. All fields must be compatible with what the underlying provider supports;
// see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz for raw PCM input. Ignored when
	// Encoding names a self-describing container.
	SampleRate int

	// Channels is the number of audio channels. A browser client that mixes
	// microphone and system audio into separate channels sends 2.
	Channels int

	// Encoding is the audio encoding of the chunks passed to SendAudio, e.g.
	// "linear16". Empty means a container format (webm/ogg) the provider sniffs.
	Encoding string

	// Language is the BCP-47 language tag for recognition (e.g., "en-US", "de-DE").
	// An empty string lets the provider pick its default.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition probability
	// for uncommon words.
	Keywords []types.KeywordBoost
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. Failing to do so
// may leak goroutines and network connections inside the provider implementation.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of audio bytes to the provider for transcription.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Results returns a read-only channel carrying interim and final Transcript
	// values in the order the provider produced them. Consumers rely on that
	// order: an interim that precedes a final must be delivered before it.
	// The channel is closed when the session ends.
	Results() <-chan types.Transcript

	// Errors returns a read-only channel that reports at most one fatal stream
	// error (for example an unexpected disconnect). A session that ends through
	// Close reports nothing. The channel is closed when the session ends.
	Errors() <-chan error

	// Close terminates the session, flushes any pending audio, and releases all
	// associated resources. After Close returns, the Results and Errors channels
	// will be closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session with the given audio
	// format and recognition configuration. The returned SessionHandle is ready to
	// accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already cancelled).
	// The caller owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
