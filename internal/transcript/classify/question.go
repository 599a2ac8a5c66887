package classify

import (
	"strings"
	"unicode"
)

// Heuristic weights. A trailing question mark alone is enough to flag a
// question, as is a leading interrogative or an imperative request.
const (
	weightQuestionMark  = 0.6
	weightInterrogative = 0.4
	weightImperative    = 0.4
	weightAlternative   = 0.1
)

var interrogatives = map[string]struct{}{
	"what": {}, "who": {}, "when": {}, "where": {}, "why": {}, "how": {},
	"is": {}, "are": {}, "do": {}, "does": {}, "did": {},
	"can": {}, "could": {}, "will": {}, "would": {}, "should": {}, "which": {},
}

var imperatives = []string{
	"tell me about", "explain", "describe", "define", "show me", "help me",
}

// QuestionConfidence scores how likely text is a question, in [0,1].
func QuestionConfidence(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	lower := strings.ToLower(text)

	var score float64
	if strings.HasSuffix(lower, "?") {
		score += weightQuestionMark
	}
	if _, ok := interrogatives[leadingWord(lower)]; ok {
		score += weightInterrogative
	}
	for _, phrase := range imperatives {
		if strings.Contains(lower, phrase) {
			score += weightImperative
			break
		}
	}
	if strings.Contains(lower, " or ") {
		score += weightAlternative
	}
	return min(score, 1.0)
}

// leadingWord returns the first word of s with surrounding punctuation and any
// contraction suffix ("what's" -> "what") removed.
func leadingWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	w := strings.TrimFunc(fields[0], func(r rune) bool { return !unicode.IsLetter(r) })
	if i := strings.IndexAny(w, "'’"); i > 0 {
		w = w[:i]
	}
	return w
}
