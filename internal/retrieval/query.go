// Package retrieval answers knowledge-base queries in vector, lexical,
// and hybrid modes.
package retrieval

import "strings"

// CanonicalizeQuery collapses whitespace and drops words shorter than
// three characters. When dropping short words would empty the query the
// original words are kept, so queries like "go" still search.
func CanonicalizeQuery(query string) string {
	words := strings.Fields(query)
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) >= 3 {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		kept = words
	}
	return strings.Join(kept, " ")
}

// queryTokens lowercases and deduplicates the terms used for lexical
// scoring and highlighting.
func queryTokens(query string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	return tokens
}

// overlapScore is the fraction of query tokens present in the text.
func overlapScore(text string, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	present := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		present[strings.Trim(w, ".,;:!?\"'()[]{}")] = true
	}
	matched := 0
	for _, t := range tokens {
		if present[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}
