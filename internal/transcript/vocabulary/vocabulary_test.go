package vocabulary_test

import (
	"testing"

	"github.com/MrWong99/scribeline/internal/transcript/vocabulary"
)

var glossary = []string{"Kubernetes", "Dijkstra's algorithm", "Tower of Whispers"}

func TestMatch(t *testing.T) {
	t.Parallel()
	c := vocabulary.New(glossary)

	tests := []struct {
		phrase  string
		want    string
		matched bool
	}{
		{"kubernetis", "Kubernetes", true},
		{"KUBERNETES", "Kubernetes", true},
		{"dijkstras algorithm", "Dijkstra's algorithm", true},
		{"tower of wispers", "Tower of Whispers", true},
		{"hello", "hello", false},
		{"  ", "  ", false},
		// Two words are never compared with a one-word term.
		{"on kubernetis", "on kubernetis", false},
	}
	for _, tc := range tests {
		t.Run(tc.phrase, func(t *testing.T) {
			t.Parallel()
			got, conf, ok := c.Match(tc.phrase)
			if ok != tc.matched || got != tc.want {
				t.Fatalf("Match(%q) = %q, %v; want %q, %v", tc.phrase, got, ok, tc.want, tc.matched)
			}
			if ok && conf < 0.7 {
				t.Errorf("confidence = %f, want >= 0.7", conf)
			}
			if !ok && conf != 0 {
				t.Errorf("confidence = %f for a miss, want 0", conf)
			}
		})
	}
}

func TestCorrect(t *testing.T) {
	t.Parallel()
	c := vocabulary.New(glossary)

	got, corrections := c.Correct("we deploy on kubernetis, today")
	if got != "we deploy on Kubernetes, today" {
		t.Errorf("Correct = %q", got)
	}
	if len(corrections) != 1 || corrections[0].Original != "kubernetis" || corrections[0].Corrected != "Kubernetes" {
		t.Errorf("corrections = %+v", corrections)
	}

	got, corrections = c.Correct("Then run dijkstras algorithm.")
	if got != "Then run Dijkstra's algorithm." {
		t.Errorf("Correct = %q", got)
	}
	if len(corrections) != 1 {
		t.Errorf("corrections = %+v", corrections)
	}
}

func TestCorrect_NoChange(t *testing.T) {
	t.Parallel()
	c := vocabulary.New(glossary)
	const text = "nothing   here matches"
	got, corrections := c.Correct(text)
	if got != text || corrections != nil {
		t.Errorf("Correct = %q, %+v; want input unchanged", got, corrections)
	}

	var nilCorrector *vocabulary.Corrector
	if got, _ := nilCorrector.Correct(text); got != text {
		t.Error("nil corrector must return text unchanged")
	}
}

func TestNew_DeduplicatesTerms(t *testing.T) {
	t.Parallel()
	c := vocabulary.New([]string{"Kubernetes", "kubernetes", "", "  "})
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestThresholdOptions(t *testing.T) {
	t.Parallel()
	strict := vocabulary.New([]string{"Kubernetes"},
		vocabulary.WithPhoneticThreshold(0.99),
		vocabulary.WithFuzzyThreshold(0.99),
	)
	if _, _, ok := strict.Match("kubernetis"); ok {
		t.Error("strict thresholds should reject a near miss")
	}
}
