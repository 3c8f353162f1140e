// Package embedding generates and encodes chunk embedding vectors.
package embedding

import (
	"context"
	"math"

	"github.com/haasonsaas/parley/internal/apperr"
)

// Provider generates embedding vectors for text.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	// The result is positionally aligned with texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the provider's model code, stored alongside vectors.
	Name() string

	// Dimension returns the vector width this provider produces.
	Dimension() int

	// MaxBatchSize returns the largest batch one request may carry.
	MaxBatchSize() int
}

// ErrEmptyInput is returned when there is no text to embed.
var ErrEmptyInput = apperr.New(apperr.KindValidation, "EMPTY_INPUT", "no text to embed")

// Normalize scales v to unit length in place and returns it. A zero
// vector is returned unchanged so cosine scoring treats it as orthogonal
// to everything.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
