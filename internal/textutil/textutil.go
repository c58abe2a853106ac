// Package textutil provides text normalization and lexical similarity helpers.
package textutil

import (
	"regexp"
	"strings"
)

var wordRe = regexp.MustCompile(`[a-z0-9_]+`)

// Normalize lowercases text and collapses it to space-separated word tokens.
func Normalize(s string) string {
	return strings.Join(wordRe.FindAllString(strings.ToLower(s), -1), " ")
}

// TokenSet returns the set of word tokens in s.
func TokenSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
		out[w] = struct{}{}
	}
	return out
}

// Jaccard computes |a∩b| / |a∪b| over two token sets. Empty sets score 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Similarity is the Jaccard similarity of the token sets of two texts.
func Similarity(a, b string) float64 {
	return Jaccard(TokenSet(a), TokenSet(b))
}

// Clamp bounds v to [0, 1].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
