// Package vectorindex stores chunk embeddings and serves cosine
// similarity search over them.
package vectorindex

import (
	"context"
	"sort"

	"github.com/haasonsaas/parley/pkg/models"
)

// Entry is one stored embedding, keyed by (chunk, model).
type Entry struct {
	ChunkID    string
	DocumentID string
	TenantID   string
	ModelCode  string

	// VectorVersion orders concurrent writes for the same key; the
	// highest version wins and lower-versioned writes are dropped.
	VectorVersion int

	// Vector must be unit length so cosine similarity reduces to a dot
	// product.
	Vector []float32
}

// SearchOptions filter and bound a similarity search.
type SearchOptions struct {
	TenantID  string
	ModelCode string

	// TopK bounds the result set. Zero or negative returns no hits.
	TopK int

	// Threshold drops hits scoring below it. Zero keeps everything.
	Threshold float64

	// DocumentIDs restricts the search to the given documents when
	// non-empty.
	DocumentIDs []string
}

// Index is a tenant-scoped embedding store.
type Index interface {
	// Upsert stores entries. For an existing (chunk, model) key the entry
	// is replaced only when its VectorVersion is not lower than the
	// stored one.
	Upsert(ctx context.Context, entries []Entry) error

	// Search returns up to TopK hits ordered by descending score. Ties
	// break toward the lexically smaller chunk ID so results are stable.
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]models.Hit, error)

	// Delete removes all entries for the given chunk IDs.
	Delete(ctx context.Context, chunkIDs []string) error

	// DeleteByDocument removes all entries for a document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// ChunkRefs lists the distinct chunk IDs currently indexed.
	ChunkRefs(ctx context.Context) ([]string, error)

	// Size returns the number of stored entries.
	Size(ctx context.Context) (int64, error)

	Close() error
}

// dot computes the inner product of two unit vectors; mismatched lengths
// score zero.
func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// rank orders hits by score descending, then chunk ID ascending, and
// truncates to topK. A non-positive topK yields no hits.
func rank(hits []models.Hit, topK int) []models.Hit {
	if topK <= 0 {
		return nil
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
