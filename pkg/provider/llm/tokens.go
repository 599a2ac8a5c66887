package llm

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/scribeline/pkg/types"
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE vocabulary used for estimates. cl100k_base is close
// enough for GPT-4-class and most hosted models that do not publish a tokenizer.
const DefaultEncoding = "cl100k_base"

// perMessageOverhead approximates the role and framing tokens each chat message
// adds on top of its content.
const perMessageOverhead = 4

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken

	modelMu  sync.Mutex
	modelEnc = map[string]*tiktoken.Tiktoken{}
)

func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding(DefaultEncoding)
		if err != nil {
			slog.Warn("llm: tokenizer unavailable, falling back to character estimate", "err", err)
			return
		}
		enc = e
	})
	return enc
}

// encodingFor returns the vocabulary tiktoken knows for model, or the default
// one for models it does not recognise.
func encodingFor(model string) *tiktoken.Tiktoken {
	modelMu.Lock()
	defer modelMu.Unlock()
	if e, ok := modelEnc[model]; ok {
		return e
	}
	e, err := tiktoken.EncodingForModel(model)
	if err != nil {
		e = encoding()
	}
	modelEnc[model] = e
	return e
}

// EstimateTokens counts the tokens messages would occupy in a chat prompt. It
// uses the cl100k_base vocabulary when it can be loaded and a chars/4 estimate
// otherwise.
func EstimateTokens(messages []types.Message) int {
	return countWith(encoding(), messages)
}

// CountModelTokens is EstimateTokens with the vocabulary of a specific model,
// e.g. o200k_base for gpt-4o.
func CountModelTokens(model string, messages []types.Message) int {
	return countWith(encodingFor(model), messages)
}

func countWith(e *tiktoken.Tiktoken, messages []types.Message) int {
	total := 0
	for _, m := range messages {
		if e != nil {
			total += len(e.Encode(m.Content, nil, nil))
		} else {
			total += (len(m.Content) + 3) / 4
		}
		total += perMessageOverhead
	}
	return total
}
