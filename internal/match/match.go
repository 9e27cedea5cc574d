// Package match correlates service banners with locally cached
// vulnerability entries.
//
// The correlation is a keyword overlap heuristic: a banner and a CVE
// description are tokenized the same way and scored by the number of
// distinct shared tokens. It is explicitly not a version-exact match.
// False positives (coincidental keyword overlap) and false negatives
// (banner omits the version string) are expected outcomes, not bugs.
package match

import (
	"cmp"
	"slices"
	"strings"
	"time"
	"unicode"
)

// Entry is one vulnerability record from the local feed cache. Immutable
// once the index referencing it is built.
type Entry struct {
	ID          string
	Description string
	Score       float64 // CVSS base score, 0 when the feed had none
}

// Index maps keywords to the entries whose description contains them.
// An Index is never mutated after New, readers share it freely. A feed
// refresh builds a new Index and swaps the reference.
type Index struct {
	stamp    time.Time
	keywords map[string][]*Entry
	entries  int
}

// NewIndex tokenizes every entry description and builds the keyword index.
// stamp is the source feed timestamp the index is versioned by.
func NewIndex(stamp time.Time, entries []Entry) *Index {
	ix := &Index{
		stamp:    stamp,
		keywords: make(map[string][]*Entry),
		entries:  len(entries),
	}
	for i := range entries {
		e := &entries[i]
		for _, tok := range Tokenize(e.Description) {
			ix.keywords[tok] = append(ix.keywords[tok], e)
		}
	}
	return ix
}

// Stamp returns the feed timestamp the index was built from.
func (ix *Index) Stamp() time.Time {
	if ix == nil {
		return time.Time{}
	}
	return ix.stamp
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return ix.entries
}

// Tokenize splits s on non-alphanumeric boundaries, lowercased and
// deduplicated. Dots between digits are kept so version strings like
// "7.4" or "2.4.49" survive as single tokens. Single character tokens
// are dropped, they match almost everything.
func Tokenize(s string) []string {
	s = strings.ToLower(s)
	isSep := func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
	}

	seen := make(map[string]struct{})
	var tokens []string
	for _, field := range strings.FieldsFunc(s, isSep) {
		tok := strings.Trim(field, ".")
		if len(tok) < 2 {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Candidate is one ranked correlation hit.
type Candidate struct {
	ID    string
	Score int // count of distinct banner tokens found in the description
}

// Matcher is the pluggable banner correlation strategy. Implementations
// must be deterministic: the same banner against the same index snapshot
// yields the same candidate sequence.
type Matcher interface {
	Match(banner string) []Candidate
}

// KeywordMatcher scores entries by distinct token overlap against one
// Index snapshot.
type KeywordMatcher struct {
	idx       *Index
	minTokens int
}

// NewKeywordMatcher builds a matcher over idx. minTokens below 1 is
// raised to 1. A nil index matches nothing.
func NewKeywordMatcher(idx *Index, minTokens int) KeywordMatcher {
	if minTokens < 1 {
		minTokens = 1
	}
	return KeywordMatcher{idx: idx, minTokens: minTokens}
}

// Match implements Matcher. Candidates are ordered by score descending,
// then ID ascending for a stable tie break.
func (m KeywordMatcher) Match(banner string) []Candidate {
	if m.idx == nil || m.idx.entries == 0 || banner == "" {
		return nil
	}

	scores := make(map[*Entry]int)
	for _, tok := range Tokenize(banner) {
		for _, e := range m.idx.keywords[tok] {
			scores[e]++
		}
	}

	candidates := make([]Candidate, 0, len(scores))
	for e, score := range scores {
		if score < m.minTokens {
			continue
		}
		candidates = append(candidates, Candidate{ID: e.ID, Score: score})
	}
	slices.SortFunc(candidates, func(a, b Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(candidates) == 0 {
		return nil
	}
	return candidates
}

// IDs strips candidates down to their identifiers, keeping the ranking.
func IDs(candidates []Candidate) []string {
	if len(candidates) == 0 {
		return nil
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	return ids
}
