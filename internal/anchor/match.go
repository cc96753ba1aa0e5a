package anchor

import (
	"strings"
	"unicode"
)

// Quality classifies how well a candidate string matches an anchor.
type Quality string

const (
	QualityExact           Quality = "exact"
	QualityCaseInsensitive Quality = "case-insensitive"
	QualityFuzzy           Quality = "fuzzy"
	QualityPoor            Quality = "poor"
	QualityNone            Quality = "none"
)

// Fuzzy tolerance as a fraction of the longer string's length. 0.2 admits
// single-character typos in short words while rejecting rewrites; 0.5 marks
// the grey zone reported as poor.
const (
	fuzzyThreshold = 0.2
	poorThreshold  = 0.5
)

// MatchQuality scores how closely candidate matches anchor. Pure function,
// usable independently for tuning thresholds.
func MatchQuality(anchor, candidate string) Quality {
	if anchor == "" || candidate == "" {
		return QualityNone
	}
	if anchor == candidate {
		return QualityExact
	}
	if strings.EqualFold(anchor, candidate) {
		return QualityCaseInsensitive
	}

	a := []rune(anchor)
	b := []rune(candidate)
	if len(a) < minAnchorLen || len(b) < minAnchorLen {
		return QualityNone
	}

	longest := max(len(a), len(b))
	distance := levenshtein(a, b)
	normalized := float64(distance) / float64(longest)

	switch {
	case normalized <= fuzzyThreshold:
		return QualityFuzzy
	case normalized <= poorThreshold:
		return QualityPoor
	default:
		return QualityNone
	}
}

// levenshtein computes edit distance over runes, case-folded so a fuzzy match
// is not penalized twice for capitalization.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if unicode.ToLower(a[i-1]) == unicode.ToLower(b[j-1]) {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
