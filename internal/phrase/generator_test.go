package phrase

import (
	"regexp"
	"strings"
	"testing"
)

var phraseRe = regexp.MustCompile(`^([a-z]+-)+[0-9a-f]{3}$`)

func TestGenerateFormat(t *testing.T) {
	for _, wordCount := range []int{1, 2, 3, 5} {
		p := Generate(wordCount)
		if !phraseRe.MatchString(p) {
			t.Errorf("Generate(%d) = %q, malformed", wordCount, p)
		}
		if got := strings.Count(p, "-"); got != wordCount {
			t.Errorf("Generate(%d) = %q has %d separators", wordCount, p, got)
		}
	}
}

func TestGenerateUsesDictionaryWords(t *testing.T) {
	known := make(map[string]bool, len(dictionary))
	for _, w := range dictionary {
		known[w] = true
	}

	p := Generate(4)
	parts := strings.Split(p, "-")
	for _, word := range parts[:len(parts)-1] {
		if !known[word] {
			t.Errorf("word %q not in the dictionary", word)
		}
	}
}

func TestGenerateVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		seen[Generate(3)] = true
	}
	// 46^3 * 4096 combinations; 50 draws colliding into one value would
	// mean the generator is broken.
	if len(seen) < 2 {
		t.Fatalf("50 phrases produced %d distinct values", len(seen))
	}
}
