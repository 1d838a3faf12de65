package identity

import (
	"math"
	"testing"
)

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"kitten", "sitting", 3},
		{"", "abc", 3},
		{"abc", "", 3},
		{"same", "same", 0},
		{"flaw", "lawn", 2},
	}
	for _, c := range cases {
		if got := Levenshtein(c.a, c.b); got != c.want {
			t.Errorf("Levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("kitten", "sitting"); math.Abs(got-4.0/7.0) > 1e-9 {
		t.Errorf("Similarity(kitten, sitting) = %f, want %f", got, 4.0/7.0)
	}
	if got := Similarity("nova", "nova"); got != 1.0 {
		t.Errorf("identical strings = %f, want 1.0", got)
	}
	if got := Similarity("", ""); got != 0.0 {
		t.Errorf("two empty strings = %f, want 0.0", got)
	}
	if got := Similarity("", "nova"); got != 0.0 {
		t.Errorf("empty vs non-empty = %f, want 0.0", got)
	}
}

func TestKeywordsAndJaccard(t *testing.T) {
	a := Keywords("Building autonomous trading agents with rust and love")
	if a["the"] || a["and"] || a["with"] {
		t.Error("stopwords must be excluded")
	}
	if !a["autonomous"] || !a["trading"] || !a["agents"] || !a["rust"] {
		t.Errorf("missing expected keywords: %v", a)
	}

	b := Keywords("Autonomous trading agents, written in Rust")
	j := Jaccard(a, b)
	if j <= 0.5 {
		t.Errorf("near-identical bios jaccard = %f, want > 0.5", j)
	}
	if got := Jaccard(map[string]bool{}, map[string]bool{}); got != 0.0 {
		t.Errorf("empty sets jaccard = %f, want 0.0", got)
	}
}
