// Package ingest turns raw documents into chunked, embedded, searchable
// knowledge.
package ingest

import (
	"strings"
	"unicode"
)

// SplitterConfig bounds chunk sizes in estimated tokens.
type SplitterConfig struct {
	// TargetTokens is the size a chunk aims for. Default 500.
	TargetTokens int

	// MaxTokens is the hard ceiling per chunk. Default 1000.
	MaxTokens int

	// OverlapTokens is carried from the end of one chunk into the next
	// so sentences spanning a boundary stay searchable. Default 50.
	OverlapTokens int
}

// DefaultSplitterConfig returns the standard chunking bounds.
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{TargetTokens: 500, MaxTokens: 1000, OverlapTokens: 50}
}

// Splitter breaks cleaned text into chunks along sentence boundaries.
type Splitter struct {
	cfg SplitterConfig
}

// NewSplitter creates a splitter, filling zero config fields with
// defaults.
func NewSplitter(cfg SplitterConfig) *Splitter {
	def := DefaultSplitterConfig()
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = def.TargetTokens
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxTokens < cfg.TargetTokens {
		cfg.MaxTokens = cfg.TargetTokens
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = def.OverlapTokens
	}
	return &Splitter{cfg: cfg}
}

// EstimateTokens approximates token count as characters divided by four,
// which tracks English text closely enough for sizing decisions.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Split returns the chunk texts for a cleaned document. Empty input
// yields no chunks.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sentences := splitSentences(text)
	var chunks []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(strings.Join(current, " ")))
		// Seed the next chunk with trailing sentences as overlap.
		var overlap []string
		overlapTokens := 0
		for i := len(current) - 1; i >= 0 && overlapTokens < s.cfg.OverlapTokens; i-- {
			overlap = append([]string{current[i]}, overlap...)
			overlapTokens += EstimateTokens(current[i])
		}
		current = overlap
		currentTokens = overlapTokens
	}

	for _, sentence := range sentences {
		tokens := EstimateTokens(sentence)

		// A single oversized sentence is split on whitespace.
		if tokens > s.cfg.MaxTokens {
			flush()
			chunks = append(chunks, splitOversized(sentence, s.cfg.MaxTokens)...)
			current = nil
			currentTokens = 0
			continue
		}

		if currentTokens+tokens > s.cfg.TargetTokens && len(current) > 0 {
			flush()
		}
		current = append(current, sentence)
		currentTokens += tokens
	}
	if len(current) > 0 {
		// Flush without overlap so the tail is not emitted twice.
		tail := strings.TrimSpace(strings.Join(current, " "))
		if len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1], tail) {
			chunks = append(chunks, tail)
		}
	}
	return chunks
}

// splitSentences breaks text on sentence-ending punctuation and
// paragraph breaks.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		terminal := r == '.' || r == '!' || r == '?' || r == '\n'
		if !terminal {
			continue
		}
		// Treat "3.14" or "v1.2" as non-boundaries.
		if r == '.' && i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// splitOversized hard-splits a run of text on whitespace into pieces at
// most maxTokens long.
func splitOversized(text string, maxTokens int) []string {
	words := strings.Fields(text)
	var out []string
	var b strings.Builder
	tokens := 0
	for _, w := range words {
		wt := EstimateTokens(w) + 1
		if tokens+wt > maxTokens && b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
			tokens = 0
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		tokens += wt
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
