package models

// SearchMode selects the retrieval strategy.
type SearchMode string

const (
	SearchVector  SearchMode = "VECTOR"
	SearchLexical SearchMode = "LEXICAL"
	SearchHybrid  SearchMode = "HYBRID"
)

// Confidence is a coarse bucket over similarity scores.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// ConfidenceFor buckets a cosine similarity: HIGH at 0.85 and above,
// MEDIUM at 0.70 and above, LOW otherwise.
func ConfidenceFor(score float64) Confidence {
	switch {
	case score >= 0.85:
		return ConfidenceHigh
	case score >= 0.70:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Hit is one retrieval result.
type Hit struct {
	ChunkID    string     `json:"chunk_id"`
	DocumentID string     `json:"document_id,omitempty"`
	Score      float64    `json:"score"`
	Confidence Confidence `json:"confidence"`

	// Text is the chunk text, populated when the caller asked for content.
	Text string `json:"text,omitempty"`

	// Highlights are short fragments around the strongest query overlap.
	Highlights []string `json:"highlights,omitempty"`
}
