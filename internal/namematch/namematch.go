// Package namematch resolves a loosely typed NPC name against the names of
// known NPCs.
//
// Resolution runs in three passes:
//
//  1. An exact, case-insensitive match wins outright with confidence 1.
//  2. Names whose Double Metaphone codes overlap with the query's are ranked
//     by Jaro-Winkler similarity and accepted above the phonetic threshold.
//  3. Without a phonetic candidate, pure Jaro-Winkler similarity is tested
//     against every name using the stricter fuzzy threshold.
//
// Multi-word names ("Captain Vex") are compared token by token as well as as
// whole strings, so "vex" still finds its NPC.
package namematch

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically similar name. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no name is
// phonetically similar. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] with the supplied options applied.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the entry of names that best matches query. ok is false when
// nothing clears the thresholds; name is then empty.
func (m *Matcher) Match(query string, names []string) (name string, confidence float64, ok bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || len(names) == 0 {
		return "", 0, false
	}
	for _, n := range names {
		if strings.ToLower(strings.TrimSpace(n)) == q {
			return n, 1, true
		}
	}

	qTokens := strings.Fields(q)
	qCodes := codes(qTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, n := range names {
		lower := strings.ToLower(strings.TrimSpace(n))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		score := similarity(qTokens, tokens, q, lower)

		if overlaps(qCodes, codes(tokens)) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = n, score, true
			}
			continue
		}
		if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = n, score
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestScore, true
}

// codes returns the non-empty Double Metaphone codes of tokens.
func codes(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			out[p] = struct{}{}
		}
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the full strings, the
// space-stripped strings and every token pair.
func similarity(aTokens, bTokens []string, a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}
	for _, at := range aTokens {
		for _, bt := range bTokens {
			if s := matchr.JaroWinkler(at, bt, false); s > score {
				score = s
			}
		}
	}
	return score
}
