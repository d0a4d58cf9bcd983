// Package dedup computes content-based dedup keys for result records.
//
// A dedup key identifies a result by what it says, not by which work item
// produced it, so "Cat  Apple" fetched for "cat a" and "cat apple" fetched for
// "cat ap" collapse to one stored record.
package dedup

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical form a key is computed from:
// NFKC normalized, case folded, with runs of whitespace collapsed to one space.
// NFKC maps the full-width letters, digits and spaces that CJK input methods
// produce onto their ASCII forms, so "ｉｐｈｏｎｅ　１５" and "iphone 15" share a key.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	// A Caser keeps state between calls, so one is built per call.
	return cases.Fold().String(s)
}

// Key returns the hex encoded SHA3-256 digest of Normalize(s).
func Key(s string) string {
	sum := sha3.Sum256([]byte(Normalize(s)))
	return hex.EncodeToString(sum[:])
}

// Set is an in-memory set of dedup keys. It is not safe for concurrent use.
type Set struct {
	keys map[string]struct{}
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{keys: make(map[string]struct{})}
}

// Add inserts key and reports whether it was absent.
func (s *Set) Add(key string) bool {
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Has reports whether key is present.
func (s *Set) Has(key string) bool {
	_, ok := s.keys[key]
	return ok
}

// Len returns the number of keys.
func (s *Set) Len() int {
	return len(s.keys)
}
