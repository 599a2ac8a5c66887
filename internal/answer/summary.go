package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/scribeline/pkg/provider/llm"
	"github.com/MrWong99/scribeline/pkg/types"
)

// summaryPrompt is the system prompt sent when summarising a saved transcript.
const summaryPrompt = `Summarise the following transcript of a lecture, meeting or interview.
List the main topics in order, the decisions or conclusions reached and any open
questions. Use short paragraphs or bullet points and stay under 200 words.`

// maxSummaryChars bounds how much transcript text is sent for summarisation.
const maxSummaryChars = 48_000

// Summariser produces a short summary of a transcript.
type Summariser interface {
	Summarise(ctx context.Context, items []types.TranscriptItem) (string, error)
}

// LLMSummariser uses an LLM provider to summarise transcripts.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise formats items as "[speaker]: content" lines and asks the model for
// a summary. Very long transcripts keep their most recent part.
func (s *LLMSummariser) Summarise(ctx context.Context, items []types.TranscriptItem) (string, error) {
	if len(items) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, it := range items {
		speaker := it.Speaker
		if speaker == "" {
			speaker = string(it.Kind)
		}
		fmt.Fprintf(&sb, "[%s]: %s\n", speaker, it.Content)
	}
	text := sb.String()
	if len(text) > maxSummaryChars {
		text = text[len(text)-maxSummaryChars:]
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		}
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summaryPrompt,
		Messages:     []types.Message{{Role: "user", Content: text}},
		Temperature:  0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Content), nil
}
