package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/scribeline/pkg/provider/stt"
	"github.com/MrWong99/scribeline/pkg/types"
)

var (
	// ErrNotCapturing is returned by SendAudio when no stream is open.
	ErrNotCapturing = errors.New("transcript: not capturing")

	errStreamEnded = errors.New("speech stream ended unexpectedly")
)

const defaultSampleRate = 16000

// Pump delivers the results of an STT session to sink, in the order the
// provider produced them, until the result channel closes or ctx is done. A
// stream error is passed to sink.OnCaptureError and returned.
func Pump(ctx context.Context, h stt.SessionHandle, sink Sink) error {
	results, errs := h.Results(), h.Errors()
	for results != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			sink.OnTranscript(t)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				sink.OnCaptureError(err)
				return err
			}
		}
	}
	select {
	case err, ok := <-errs:
		if ok && err != nil {
			sink.OnCaptureError(err)
			return err
		}
	default:
	}
	return nil
}

// CaptureOption configures an [STTCapture].
type CaptureOption func(*STTCapture)

// WithKeywords boosts glossary terms in the recogniser.
func WithKeywords(kw []types.KeywordBoost) CaptureOption {
	return func(c *STTCapture) { c.keywords = kw }
}

// WithCaptureLogger sets the logger. Default: slog.Default().
func WithCaptureLogger(l *slog.Logger) CaptureOption {
	return func(c *STTCapture) { c.log = l }
}

// STTCapture implements [Capture] on top of a streaming STT provider. Audio is
// pushed by the transport through SendAudio while a stream is open.
type STTCapture struct {
	provider stt.Provider
	keywords []types.KeywordBoost
	log      *slog.Logger

	mu     sync.Mutex
	handle stt.SessionHandle
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Capture = (*STTCapture)(nil)

// NewSTTCapture creates a capture backed by provider.
func NewSTTCapture(provider stt.Provider, opts ...CaptureOption) *STTCapture {
	c := &STTCapture{provider: provider, log: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StartCapture opens an STT stream and pumps its results into sink.
func (c *STTCapture) StartCapture(ctx context.Context, opts CaptureOptions, sink Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		return errors.New("capture already running")
	}

	cfg := stt.StreamConfig{
		SampleRate: opts.SampleRate,
		Channels:   1,
		Encoding:   opts.Encoding,
		Language:   opts.Language,
		Keywords:   c.keywords,
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if opts.Microphone && opts.SystemAudio {
		cfg.Channels = 2
	}

	h, err := c.provider.StartStream(ctx, cfg)
	if err != nil {
		return fmt.Errorf("start stt stream: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.handle, c.cancel, c.done = h, cancel, done

	go func() {
		defer close(done)
		err := Pump(pumpCtx, h, sink)

		c.mu.Lock()
		owned := c.handle == h
		if owned {
			c.handle, c.cancel, c.done = nil, nil, nil
		}
		c.mu.Unlock()
		if !owned {
			return
		}
		// The stream ended without StopCapture.
		cancel()
		if cerr := h.Close(); cerr != nil {
			c.log.Debug("stt close after stream end", "err", cerr)
		}
		if err == nil {
			sink.OnCaptureError(errStreamEnded)
		}
	}()
	return nil
}

// StopCapture closes the stream and waits for the pump to drain.
func (c *STTCapture) StopCapture(ctx context.Context) error {
	c.mu.Lock()
	h, cancel, done := c.handle, c.cancel, c.done
	c.handle, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()
	if h == nil {
		return nil
	}

	err := h.Close()
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("close stt stream: %w", err)
	}
	return nil
}

// SendAudio forwards an audio frame to the open stream.
func (c *STTCapture) SendAudio(frame []byte) error {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	if h == nil {
		return ErrNotCapturing
	}
	return h.SendAudio(frame)
}

// Capturing reports whether a stream is open.
func (c *STTCapture) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}
