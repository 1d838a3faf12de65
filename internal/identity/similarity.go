// Package identity resolves cross-platform agent identities: it computes
// pairwise link evidence, collapses the link graph into unified profiles,
// and flags sock-puppet clusters.
package identity

import (
	"strings"
)

// Levenshtein returns the edit distance between a and b.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Similarity returns the Levenshtein similarity of a and b, normalized by
// the longer string: identical strings score 1.0, an empty string against
// anything non-empty scores 0.0.
func Similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0.0
		}
		return 1.0
	}
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0.0
	}
	longer := la
	if lb > longer {
		longer = lb
	}
	return float64(longer-Levenshtein(a, b)) / float64(longer)
}

// bioStopwords are words too common to carry identity signal.
var bioStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "have": true, "are": true, "was": true,
	"not": true, "but": true, "you": true, "all": true, "can": true,
	"about": true, "into": true, "more": true, "than": true, "its": true,
}

// Keywords extracts the normalized keyword set from free-form bio text:
// lowercase words longer than 3 characters, stopwords removed.
func Keywords(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	set := make(map[string]bool)
	for _, w := range words {
		if len(w) > 3 && !bioStopwords[w] {
			set[w] = true
		}
	}
	return set
}

// Jaccard returns the Jaccard similarity of two keyword sets. Two empty
// sets score 0.0 rather than 1.0: no evidence is not a match.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
