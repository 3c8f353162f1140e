package docstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/pkg/models"
)

// MemoryStore is an in-process Store for single-node deployments and
// tests.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]*models.Document
	chunks    map[string]*models.Chunk   // by chunk ID
	byDoc     map[string][]string        // document ID -> ordered chunk IDs
	tags      map[string]map[string]bool // chunk ID -> tag set
	now       func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*models.Document),
		chunks:    make(map[string]*models.Chunk),
		byDoc:     make(map[string][]string),
		tags:      make(map[string]map[string]bool),
		now:       time.Now,
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.documents {
		if d.TenantID != doc.TenantID || d.Deleted() {
			continue
		}
		if d.ContentHash == doc.ContentHash {
			return ErrDuplicateContent
		}
		if d.Title == doc.Title {
			return ErrDuplicateTitle
		}
	}

	cp := *doc
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.documents[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, tenantID, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok || doc.TenantID != tenantID || doc.Deleted() {
		return nil, ErrDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, tenantID string, opts ListOptions) ([]*models.Document, error) {
	s.mu.RLock()
	var out []*models.Document
	for _, doc := range s.documents {
		if doc.TenantID != tenantID || doc.Deleted() {
			continue
		}
		if opts.SourceType != "" && doc.SourceType != opts.SourceType {
			continue
		}
		if opts.Status != "" && doc.ParsingStatus != opts.Status {
			continue
		}
		cp := *doc
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateParsingStatus(_ context.Context, id string, status models.ParsingStatus, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok || doc.Deleted() {
		return ErrDocumentNotFound
	}
	doc.ParsingStatus = status
	doc.ChunkCount = chunkCount
	doc.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SoftDeleteDocument(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok || doc.TenantID != tenantID || doc.Deleted() {
		return ErrDocumentNotFound
	}
	now := s.now()
	doc.DeletedAt = &now
	doc.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ReplaceChunks(_ context.Context, documentID string, chunks []*models.Chunk) error {
	for i, c := range chunks {
		if c.ChunkNumber != i {
			return apperr.Newf(apperr.KindValidation, "CHUNK_NUMBERING",
				"chunk %d has number %d; numbering must be dense from zero", i, c.ChunkNumber)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok || doc.Deleted() {
		return ErrDocumentNotFound
	}

	for _, id := range s.byDoc[documentID] {
		delete(s.chunks, id)
		delete(s.tags, id)
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		cp := *c
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = s.now()
		}
		s.chunks[cp.ID] = &cp
		ids[i] = cp.ID
	}
	s.byDoc[documentID] = ids
	doc.ChunkCount = len(chunks)
	doc.UpdatedAt = s.now()
	return nil
}

// liveChunkLocked resolves a chunk only when its document is live.
func (s *MemoryStore) liveChunkLocked(id string) *models.Chunk {
	c, ok := s.chunks[id]
	if !ok {
		return nil
	}
	doc, ok := s.documents[c.DocumentID]
	if !ok || doc.Deleted() {
		return nil
	}
	return c
}

func (s *MemoryStore) GetChunks(_ context.Context, chunkIDs []string) ([]*models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Chunk
	for _, id := range chunkIDs {
		if c := s.liveChunkLocked(id); c != nil {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListChunksByDocument(_ context.Context, documentID string) ([]*models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[documentID]
	if !ok || doc.Deleted() {
		return nil, ErrDocumentNotFound
	}
	var out []*models.Chunk
	for _, id := range s.byDoc[documentID] {
		if c, ok := s.chunks[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListChunksByTenant(_ context.Context, tenantID string) ([]*models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Chunk
	for id, c := range s.chunks {
		if c.TenantID != tenantID {
			continue
		}
		if s.liveChunkLocked(id) == nil {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].ChunkNumber < out[j].ChunkNumber
	})
	return out, nil
}

func (s *MemoryStore) TagChunks(_ context.Context, chunkIDs []string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range chunkIDs {
		if _, ok := s.chunks[id]; !ok {
			return ErrChunkNotFound
		}
		set := s.tags[id]
		if set == nil {
			set = make(map[string]bool)
			s.tags[id] = set
		}
		for _, tag := range tags {
			set[tag] = true
		}
	}
	return nil
}

func (s *MemoryStore) ChunkTags(_ context.Context, chunkIDs []string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]string, len(chunkIDs))
	for _, id := range chunkIDs {
		set := s.tags[id]
		if len(set) == 0 {
			continue
		}
		tags := make([]string, 0, len(set))
		for tag := range set {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		out[id] = tags
	}
	return out, nil
}

func (s *MemoryStore) LiveChunks(_ context.Context, chunkIDs []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		out[id] = s.liveChunkLocked(id) != nil
	}
	return out, nil
}
