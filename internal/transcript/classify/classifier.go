// Package classify decides whether a finalised recognition result belongs in the
// transcript and whether it is a question.
//
// Streaming recognisers re-emit the same phrase, split one sentence into
// overlapping finals and pick up filler noises. The [Classifier] applies a fixed,
// ordered set of rejection rules against the most recent transcript items; the
// first rule that matches wins. Accepted utterances are then scored by a cheap
// question heuristic.
//
// A Classifier is immutable after construction and safe for concurrent use.
package classify

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/scribeline/internal/transcript/similarity"
	"github.com/MrWong99/scribeline/pkg/types"
)

// Action is the outcome of classifying one candidate.
type Action int

const (
	// Accept means the candidate becomes a transcript item.
	Accept Action = iota
	// RejectExactDuplicate: case-insensitively equal to a recent item.
	RejectExactDuplicate
	// RejectSimilarDuplicate: edit-distance ratio to a recent item above the threshold.
	RejectSimilarDuplicate
	// RejectRepetitivePattern: the candidate repeats a few tokens over and over.
	RejectRepetitivePattern
	// RejectFillerWord: a single filler token such as "um".
	RejectFillerWord
	// RejectContinuation: heavy overlap with the item finalised just before it.
	RejectContinuation
)

// String returns the reason code used in logs and metrics.
func (a Action) String() string {
	switch a {
	case Accept:
		return "accept"
	case RejectExactDuplicate:
		return "exact_duplicate"
	case RejectSimilarDuplicate:
		return "similar_duplicate"
	case RejectRepetitivePattern:
		return "repetitive_pattern"
	case RejectFillerWord:
		return "filler_word"
	case RejectContinuation:
		return "continuation"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Rejected reports whether a is one of the reject actions.
func (a Action) Rejected() bool { return a != Accept }

// Result is the verdict for one candidate.
type Result struct {
	Action Action

	// IsQuestion and QuestionConfidence are only meaningful when Action == Accept.
	IsQuestion         bool
	QuestionConfidence float64

	// Detail names what triggered a rejection (the matched item ID or the overlap).
	Detail string
}

// Config holds the tunable thresholds. The zero value is not useful; start from
// DefaultConfig.
type Config struct {
	// Window is how many trailing transcript items the duplicate rules look at.
	Window int
	// SimilarityThreshold rejects when the ratio is strictly greater.
	SimilarityThreshold float64
	// RepetitionRatio is the tokens/unique-tokens ratio above which a candidate is
	// considered repetitive.
	RepetitionRatio float64
	// RepetitionMinTokens is the token count a candidate must exceed before the
	// repetition rule applies.
	RepetitionMinTokens int
	// ContinuationWindow is how recent the last item must be for the
	// continuation rule to apply.
	ContinuationWindow time.Duration
	// ContinuationOverlap is the share of the shorter string the common substring
	// must exceed.
	ContinuationOverlap float64
	// QuestionThreshold is the confidence above which an utterance is a question.
	QuestionThreshold float64
	// Fillers is the set of single words rejected on their own.
	Fillers []string
}

// DefaultFillers is the built-in filler vocabulary.
var DefaultFillers = []string{"um", "uh", "oh", "ah", "hmm", "okay", "ok", "yes", "no", "yeah"}

// DefaultConfig returns the thresholds the classifier was tuned with.
func DefaultConfig() Config {
	return Config{
		Window:              5,
		SimilarityThreshold: 0.85,
		RepetitionRatio:     2.5,
		RepetitionMinTokens: 3,
		ContinuationWindow:  2 * time.Second,
		ContinuationOverlap: 0.6,
		QuestionThreshold:   0.3,
		Fillers:             DefaultFillers,
	}
}

// Validate checks that every threshold is in range.
func (c Config) Validate() error {
	var errs []error
	if c.Window < 1 {
		errs = append(errs, fmt.Errorf("window must be at least 1, got %d", c.Window))
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("similarity_threshold must be in (0,1], got %g", c.SimilarityThreshold))
	}
	if c.RepetitionRatio < 1 {
		errs = append(errs, fmt.Errorf("repetition_ratio must be at least 1, got %g", c.RepetitionRatio))
	}
	if c.RepetitionMinTokens < 0 {
		errs = append(errs, fmt.Errorf("repetition_min_tokens must not be negative, got %d", c.RepetitionMinTokens))
	}
	if c.ContinuationWindow < 0 {
		errs = append(errs, fmt.Errorf("continuation_window must not be negative, got %s", c.ContinuationWindow))
	}
	if c.ContinuationOverlap <= 0 || c.ContinuationOverlap > 1 {
		errs = append(errs, fmt.Errorf("continuation_overlap must be in (0,1], got %g", c.ContinuationOverlap))
	}
	if c.QuestionThreshold < 0 || c.QuestionThreshold >= 1 {
		errs = append(errs, fmt.Errorf("question_threshold must be in [0,1), got %g", c.QuestionThreshold))
	}
	return errors.Join(errs...)
}

// Option is a functional option for configuring a [Classifier].
type Option func(*Config)

// WithConfig replaces all thresholds at once.
func WithConfig(c Config) Option {
	return func(dst *Config) { *dst = c }
}

// WithSimilarityThreshold sets the similar-duplicate threshold. Default: 0.85.
func WithSimilarityThreshold(v float64) Option {
	return func(c *Config) { c.SimilarityThreshold = v }
}

// WithContinuationWindow sets the continuation window. Default: 2s.
func WithContinuationWindow(d time.Duration) Option {
	return func(c *Config) { c.ContinuationWindow = d }
}

// WithWindow sets how many recent items are compared. Default: 5.
func WithWindow(n int) Option {
	return func(c *Config) { c.Window = n }
}

// WithFillers replaces the filler vocabulary.
func WithFillers(words ...string) Option {
	return func(c *Config) { c.Fillers = words }
}

// Classifier applies the rejection rules and question heuristic.
type Classifier struct {
	cfg     Config
	fillers map[string]struct{}
}

// New returns a Classifier using DefaultConfig adjusted by opts.
func New(opts ...Option) (*Classifier, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	fillers := make(map[string]struct{}, len(cfg.Fillers))
	for _, w := range cfg.Fillers {
		fillers[strings.ToLower(w)] = struct{}{}
	}
	return &Classifier{cfg: cfg, fillers: fillers}, nil
}

// Config returns the thresholds in use.
func (c *Classifier) Config() Config { return c.cfg }

// Classify decides what to do with candidate, a trimmed non-empty final result,
// given the transcript so far. Only the last Window items of recent are used.
func (c *Classifier) Classify(candidate string, recent []types.TranscriptItem, now time.Time) Result {
	candidate = strings.ToValidUTF8(candidate, "")
	lower := strings.ToLower(candidate)

	if len(recent) > c.cfg.Window {
		recent = recent[len(recent)-c.cfg.Window:]
	}

	for _, it := range recent {
		if strings.EqualFold(it.Content, candidate) {
			return Result{Action: RejectExactDuplicate, Detail: it.ID}
		}
	}

	for _, it := range recent {
		if similarity.Ratio(lower, strings.ToLower(it.Content)) > c.cfg.SimilarityThreshold {
			return Result{Action: RejectSimilarDuplicate, Detail: it.ID}
		}
	}

	tokens := strings.Fields(lower)
	unique := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		unique[tok] = struct{}{}
	}
	if len(tokens) > c.cfg.RepetitionMinTokens &&
		float64(len(tokens))/float64(len(unique)) > c.cfg.RepetitionRatio {
		return Result{Action: RejectRepetitivePattern}
	}

	if len(tokens) == 1 {
		if _, ok := c.fillers[tokens[0]]; ok {
			return Result{Action: RejectFillerWord, Detail: tokens[0]}
		}
	}

	if n := len(recent); n > 0 {
		last := recent[n-1]
		if now.Sub(last.CreatedAt) < c.cfg.ContinuationWindow {
			lastLower := strings.ToLower(last.Content)
			overlap := similarity.LongestCommonSubstring(lastLower, lower)
			shorter := min(utf8.RuneCountInString(lastLower), utf8.RuneCountInString(lower))
			if float64(utf8.RuneCountInString(overlap)) > c.cfg.ContinuationOverlap*float64(shorter) {
				return Result{Action: RejectContinuation, Detail: overlap}
			}
		}
	}

	conf := QuestionConfidence(candidate)
	return Result{
		Action:             Accept,
		IsQuestion:         conf > c.cfg.QuestionThreshold,
		QuestionConfidence: conf,
	}
}
