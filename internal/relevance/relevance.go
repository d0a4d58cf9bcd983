// Package relevance decides whether a fetched result belongs to the seed it
// was fetched for.
package relevance

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Filter decides inclusion of a single result string.
type Filter interface {
	Relevant(candidate string) bool
}

// PassAll accepts every non-empty result.
type PassAll struct{}

// Relevant implements Filter.
func (PassAll) Relevant(candidate string) bool {
	return strings.TrimSpace(candidate) != ""
}

// SeedFilter implements the seed policy:
//   - multi-word seed: the candidate must contain any seed word, ignoring case;
//   - single-word seed: the candidate must contain the seed exactly.
type SeedFilter struct {
	seed  string
	words []string
	tag   language.Tag
}

// Option configures a SeedFilter.
type Option func(*SeedFilter)

// WithLanguage sets the language used for case-insensitive comparison.
// The default is language.Und, which applies Unicode default case folding.
func WithLanguage(tag language.Tag) Option {
	return func(f *SeedFilter) {
		f.tag = tag
	}
}

// NewSeedFilter creates a SeedFilter for seed.
func NewSeedFilter(seed string, opts ...Option) *SeedFilter {
	f := &SeedFilter{
		seed: strings.TrimSpace(seed),
		tag:  language.Und,
	}
	for _, opt := range opts {
		opt(f)
	}

	words := strings.Fields(f.seed)
	if len(words) > 1 {
		for _, w := range words {
			f.words = append(f.words, f.fold(w))
		}
	}
	return f
}

// Relevant implements Filter.
func (f *SeedFilter) Relevant(candidate string) bool {
	if strings.TrimSpace(candidate) == "" {
		return false
	}
	if f.seed == "" {
		return true
	}
	if len(f.words) == 0 {
		return strings.Contains(candidate, f.seed)
	}

	folded := f.fold(candidate)
	for _, w := range f.words {
		if strings.Contains(folded, w) {
			return true
		}
	}
	return false
}

// MultiWord reports whether the seed has more than one word.
func (f *SeedFilter) MultiWord() bool {
	return len(f.words) > 0
}

func (f *SeedFilter) fold(s string) string {
	if f.tag == language.Und {
		return cases.Fold().String(s)
	}
	return cases.Lower(f.tag).String(s)
}

// Keep returns the candidates accepted by filter, preserving order.
func Keep(filter Filter, candidates []string) (kept []string, dropped int) {
	for _, c := range candidates {
		if filter.Relevant(c) {
			kept = append(kept, c)
			continue
		}
		dropped++
	}
	return kept, dropped
}
