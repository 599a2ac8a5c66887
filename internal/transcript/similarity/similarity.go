// Package similarity provides the string measures the utterance classifier uses
// to spot duplicated and overlapping recognition results.
//
// All functions are pure and measure length in runes. Callers normalise case
// before comparing; the functions themselves are case-sensitive.
package similarity

import (
	"errors"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// ErrInvalidInput is returned by Validate for text that is not valid UTF-8.
var ErrInvalidInput = errors.New("similarity: invalid input")

// Validate reports ErrInvalidInput when s is not valid UTF-8. The measures below
// accept any string, but rune counts of malformed input are not meaningful.
func Validate(s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidInput
	}
	return nil
}

// EditDistance returns the Levenshtein distance between a and b, with
// insertions, deletions and substitutions each costing 1.
func EditDistance(a, b string) int {
	if a == "" {
		return utf8.RuneCountInString(b)
	}
	if b == "" {
		return utf8.RuneCountInString(a)
	}
	return matchr.Levenshtein(a, b)
}

// Ratio returns (max-d)/max where max is the longer rune length and d the edit
// distance. Two empty strings are identical and score 1.
func Ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1.0
	}
	return float64(longest-EditDistance(a, b)) / float64(longest)
}

// LongestCommonSubstring returns the longest contiguous run shared by a and b,
// or "" when they share nothing. Among equally long runs the one ending earliest
// in a wins.
func LongestCommonSubstring(a, b string) string {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return ""
	}

	// prev[j] is the length of the common suffix of ra[:i] and rb[:j].
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	bestLen, bestEnd := 0, 0
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] != rb[j-1] {
				cur[j] = 0
				continue
			}
			cur[j] = prev[j-1] + 1
			if cur[j] > bestLen {
				bestLen, bestEnd = cur[j], i
			}
		}
		prev, cur = cur, prev
	}
	return string(ra[bestEnd-bestLen : bestEnd])
}
