package retrieval

import (
	"sort"
	"strings"
)

// fragment is a candidate highlight with its query-token hit count.
type fragment struct {
	start int
	text  string
	hits  int
}

// Highlights returns up to maxFragments pieces of text, each at most
// maxLen characters, ranked by how many distinct query tokens they
// contain. Fragments break on word boundaries and keep document order
// among equally scored pieces.
func Highlights(text string, tokens []string, maxFragments, maxLen int) []string {
	if len(tokens) == 0 || text == "" || maxFragments <= 0 || maxLen <= 0 {
		return nil
	}

	var frags []fragment
	words := strings.Fields(text)
	var b strings.Builder
	start := 0
	flush := func(pos int) {
		if b.Len() == 0 {
			return
		}
		f := fragment{start: start, text: b.String()}
		f.hits = countHits(f.text, tokens)
		if f.hits > 0 {
			frags = append(frags, f)
		}
		b.Reset()
		start = pos
	}
	for i, w := range words {
		if b.Len()+len(w)+1 > maxLen {
			flush(i)
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	flush(len(words))

	sort.SliceStable(frags, func(i, j int) bool {
		if frags[i].hits != frags[j].hits {
			return frags[i].hits > frags[j].hits
		}
		return frags[i].start < frags[j].start
	})
	if len(frags) > maxFragments {
		frags = frags[:maxFragments]
	}
	out := make([]string, len(frags))
	for i, f := range frags {
		out[i] = f.text
	}
	return out
}

func countHits(text string, tokens []string) int {
	present := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		present[strings.Trim(w, ".,;:!?\"'()[]{}")] = true
	}
	hits := 0
	for _, t := range tokens {
		if present[t] {
			hits++
		}
	}
	return hits
}
