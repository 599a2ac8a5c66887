package resilience

import (
	"context"

	"github.com/MrWong99/scribeline/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that opens the live stream on the first
// recogniser that accepts it. A stream that dies later is reported through the
// session's Errors channel; the next StartStream goes through failover again.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an STTFallback preferring primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends provider to the try order.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Group exposes the underlying group.
func (f *STTFallback) Group() *FallbackGroup[stt.Provider] { return f.group }

func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
