// Package vocabulary corrects misheard glossary terms in final transcripts.
//
// Speech recognisers routinely mangle domain vocabulary: course codes, people's
// names, product names and jargon. A [Corrector] holds a list of terms and
// rewrites spans of a transcript that sound like, or are spelled almost like,
// one of them.
//
// Matching happens in two passes per span:
//
//  1. Phonetic: Double Metaphone codes of the span and the term must share at
//     least one code, and the Jaro-Winkler similarity must reach the phonetic
//     threshold (default 0.70).
//  2. Fuzzy: without a phonetic overlap, the Jaro-Winkler similarity alone must
//     reach the fuzzy threshold (default 0.85).
//
// A span of n words is only compared with terms of n words, so a neighbouring
// word is never swallowed into a replacement.
package vocabulary

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Correction records one substitution.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the Jaro-Winkler floor for phonetic candidates.
func WithPhoneticThreshold(v float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = v }
}

// WithFuzzyThreshold sets the Jaro-Winkler floor when no phonetic code overlaps.
func WithFuzzyThreshold(v float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = v }
}

type term struct {
	text   string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// Corrector is immutable after construction and safe for concurrent use.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64

	// byWords groups terms by their word count.
	byWords  map[int][]term
	maxWords int
}

// New prepares a Corrector for terms. Blank and duplicate terms are ignored.
func New(terms []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		byWords:           make(map[int][]term),
	}
	for _, o := range opts {
		o(c)
	}
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		lower := strings.ToLower(t)
		if lower == "" {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		tokens := strings.Fields(lower)
		c.byWords[len(tokens)] = append(c.byWords[len(tokens)], term{
			text:   t,
			lower:  lower,
			tokens: tokens,
			codes:  codesForTokens(tokens),
		})
		c.maxWords = max(c.maxWords, len(tokens))
	}
	return c
}

// Len returns the number of distinct terms.
func (c *Corrector) Len() int {
	n := 0
	for _, ts := range c.byWords {
		n += len(ts)
	}
	return n
}

// Match returns the term that phrase most likely stands for. When matched is
// false, corrected equals phrase and confidence is 0.
func (c *Corrector) Match(phrase string) (corrected string, confidence float64, matched bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	tokens := strings.Fields(lower)
	if len(tokens) == 0 {
		return phrase, 0, false
	}
	candidates := c.byWords[len(tokens)]
	if len(candidates) == 0 {
		return phrase, 0, false
	}
	codes := codesForTokens(tokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range candidates {
		score := similarity(tokens, t.tokens, lower, t.lower)
		if codesOverlap(codes, t.codes) {
			if score >= c.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t.text, score, true
			}
			continue
		}
		if !bestPhonetic && score >= c.fuzzyThreshold && score > bestScore {
			best, bestScore = t.text, score
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// Correct rewrites every span of text that matches a term. Longer spans are
// tried first. Punctuation around a span is preserved.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if c == nil || c.maxWords == 0 {
		return text, nil
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return text, nil
	}

	out := make([]string, 0, len(words))
	var corrections []Correction
	for i := 0; i < len(words); {
		n := min(c.maxWords, len(words)-i)
		for ; n >= 1; n-- {
			if len(c.byWords[n]) == 0 {
				continue
			}
			lead, _, _ := splitPunct(words[i])
			_, _, trail := splitPunct(words[i+n-1])
			span := strings.TrimFunc(strings.Join(words[i:i+n], " "), isPunct)
			if span == "" {
				continue
			}
			corrected, conf, ok := c.Match(span)
			if !ok {
				continue
			}
			if corrected != span {
				corrections = append(corrections, Correction{Original: span, Corrected: corrected, Confidence: conf})
			}
			out = append(out, lead+corrected+trail)
			i += n
			break
		}
		if n == 0 {
			out = append(out, words[i])
			i++
		}
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

func isPunct(r rune) bool { return unicode.IsPunct(r) && r != '\'' }

// splitPunct splits a word into leading punctuation, core and trailing punctuation.
func splitPunct(w string) (lead, core, trail string) {
	core = strings.TrimLeftFunc(w, isPunct)
	lead = w[:len(w)-len(core)]
	trimmed := strings.TrimRightFunc(core, isPunct)
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the full phrase, the phrase
// with spaces removed and each aligned word pair averaged.
func similarity(in, tm []string, inFull, tmFull string) float64 {
	score := matchr.JaroWinkler(inFull, tmFull, false)
	if len(in) > 1 {
		if s := matchr.JaroWinkler(strings.Join(in, ""), strings.Join(tm, ""), false); s > score {
			score = s
		}
		var sum float64
		for i := range in {
			sum += matchr.JaroWinkler(in[i], tm[i], false)
		}
		if s := sum / float64(len(in)); s > score {
			score = s
		}
	}
	return score
}
