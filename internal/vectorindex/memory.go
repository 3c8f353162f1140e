package vectorindex

import (
	"context"
	"sync"

	"github.com/haasonsaas/parley/pkg/models"
)

// MemoryIndex is an in-process Index for single-node deployments and
// tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]Entry)}
}

func key(chunkID, modelCode string) string { return chunkID + "\x00" + modelCode }

func (m *MemoryIndex) Upsert(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		k := key(e.ChunkID, e.ModelCode)
		if existing, ok := m.entries[k]; ok && existing.VectorVersion > e.VectorVersion {
			continue
		}
		m.entries[k] = e
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, query []float32, opts SearchOptions) ([]models.Hit, error) {
	var docFilter map[string]bool
	if len(opts.DocumentIDs) > 0 {
		docFilter = make(map[string]bool, len(opts.DocumentIDs))
		for _, id := range opts.DocumentIDs {
			docFilter[id] = true
		}
	}

	m.mu.RLock()
	var hits []models.Hit
	for _, e := range m.entries {
		if e.TenantID != opts.TenantID || e.ModelCode != opts.ModelCode {
			continue
		}
		if docFilter != nil && !docFilter[e.DocumentID] {
			continue
		}
		score := dot(query, e.Vector)
		if score < opts.Threshold {
			continue
		}
		hits = append(hits, models.Hit{
			ChunkID:    e.ChunkID,
			DocumentID: e.DocumentID,
			Score:      score,
			Confidence: models.ConfidenceFor(score),
		})
	}
	m.mu.RUnlock()

	return rank(hits, opts.TopK), nil
}

func (m *MemoryIndex) Delete(_ context.Context, chunkIDs []string) error {
	drop := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		drop[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if drop[e.ChunkID] {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryIndex) DeleteByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.DocumentID == documentID {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryIndex) ChunkRefs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range m.entries {
		if !seen[e.ChunkID] {
			seen[e.ChunkID] = true
			out = append(out, e.ChunkID)
		}
	}
	return out, nil
}

func (m *MemoryIndex) Size(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

func (m *MemoryIndex) Close() error { return nil }
