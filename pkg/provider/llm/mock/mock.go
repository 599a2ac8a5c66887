// Package mock provides a recording test double for [llm.Provider].
//
// Set the response fields before use. Streams are served from StreamChunks,
// or from Respond when it is set, so a test can answer each question
// differently. A non-nil Hold channel delays every stream until it is closed
// or receives a value, which lets tests keep answers in flight.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/scribeline/pkg/provider/llm"
	"github.com/MrWong99/scribeline/pkg/types"
)

// StreamCall records one StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CompleteCall records one Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CountTokensCall records one CountTokens invocation.
type CountTokensCall struct {
	Messages []types.Message
}

// Provider is a mock [llm.Provider].
type Provider struct {
	mu sync.Mutex

	// StreamChunks are emitted in order by every stream.
	StreamChunks []llm.Chunk

	// Respond, when set, replaces StreamChunks and picks the chunks per request.
	Respond func(req llm.CompletionRequest) []llm.Chunk

	// Hold blocks each stream before its first chunk.
	Hold chan struct{}

	// StreamErr is returned by StreamCompletion instead of a channel.
	StreamErr error

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// TokenCount is returned by CountTokens. When TokensPerMessage is set the
	// result is TokensPerMessage × len(messages) instead.
	TokenCount       int
	TokensPerMessage int
	CountTokensErr   error

	ModelCapabilities types.ModelCapabilities

	StreamCalls           []StreamCall
	CompleteCalls         []CompleteCall
	CountTokensCalls      []CountTokensCall
	CapabilitiesCallCount int
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion records the call and streams the configured chunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if err := p.StreamErr; err != nil {
		p.mu.Unlock()
		return nil, err
	}
	chunks := slices.Clone(p.StreamChunks)
	respond, hold := p.Respond, p.Hold
	p.mu.Unlock()

	if respond != nil {
		chunks = respond(req)
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				return
			}
		}
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns CompleteResponse and CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens records a copy of messages and returns the configured count.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CountTokensCalls = append(p.CountTokensCalls, CountTokensCall{Messages: slices.Clone(messages)})
	if p.CountTokensErr != nil {
		return 0, p.CountTokensErr
	}
	if p.TokensPerMessage > 0 {
		return p.TokensPerMessage * len(messages), nil
	}
	return p.TokenCount, nil
}

// Capabilities records the call and returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ModelCapabilities
}

// StreamCallCount returns the number of StreamCompletion calls so far.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
	p.CountTokensCalls = nil
	p.CapabilitiesCallCount = 0
}
