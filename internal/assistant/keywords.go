package assistant

import (
	"fmt"
	"sort"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

// KeywordSet answers "which of these words occur in the text" with a single
// Aho-Corasick pass. It is immutable after construction and safe for
// concurrent use.
type KeywordSet struct {
	matcher *goahocorasick.Machine
	words   []string
}

// NewKeywordSet builds the automaton over words. Duplicates and empty strings
// are dropped.
func NewKeywordSet(words ...string) (*KeywordSet, error) {
	uniq := lo.Uniq(lo.Compact(words))
	if len(uniq) == 0 {
		return nil, fmt.Errorf("assistant: keyword set needs at least one word")
	}
	// The double-array trie underneath requires lexically ordered keys.
	sort.Strings(uniq)

	patterns := make([][]rune, len(uniq))
	for i, w := range uniq {
		patterns[i] = []rune(w)
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, fmt.Errorf("assistant: build keyword set: %w", err)
	}
	return &KeywordSet{matcher: m, words: uniq}, nil
}

// MustKeywordSet is NewKeywordSet for package-level tables; it panics on error.
func MustKeywordSet(words ...string) *KeywordSet {
	k, err := NewKeywordSet(words...)
	if err != nil {
		panic(err)
	}
	return k
}

// Hits returns the distinct keywords found in text.
func (k *KeywordSet) Hits(text string) map[string]bool {
	hits := make(map[string]bool)
	runes := []rune(text)
	if len(runes) == 0 {
		return hits
	}
	for _, term := range k.matcher.MultiPatternSearch(runes, false) {
		hits[string(term.Word)] = true
	}
	return hits
}

// Any reports whether at least one keyword occurs in text.
func (k *KeywordSet) Any(text string) bool {
	runes := []rune(text)
	if len(runes) == 0 {
		return false
	}
	return len(k.matcher.MultiPatternSearch(runes, true)) > 0
}

// Words returns the set's keywords in sorted order.
func (k *KeywordSet) Words() []string {
	out := make([]string, len(k.words))
	copy(out, k.words)
	return out
}
