package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/pkg/models"
)

func newDoc(tenant, title, content string) *models.Document {
	return &models.Document{
		ID:            uuid.NewString(),
		TenantID:      tenant,
		Title:         title,
		SourceType:    "upload",
		ContentHash:   models.HashContent(content),
		ParsingStatus: models.ParsingPending,
	}
}

func newChunk(doc *models.Document, n int, text string) *models.Chunk {
	return &models.Chunk{
		ID:          uuid.NewString(),
		DocumentID:  doc.ID,
		TenantID:    doc.TenantID,
		ChunkNumber: n,
		Text:        text,
	}
}

func TestCreateDocumentUniqueness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateDocument(ctx, newDoc("t1", "Handbook", "content A")); err != nil {
		t.Fatal(err)
	}

	// Same content, same tenant: rejected.
	err := s.CreateDocument(ctx, newDoc("t1", "Other title", "content A"))
	if !errors.Is(err, ErrDuplicateContent) {
		t.Errorf("err = %v, want duplicate content", err)
	}

	// Same title, same tenant: rejected.
	err = s.CreateDocument(ctx, newDoc("t1", "Handbook", "content B"))
	if !errors.Is(err, ErrDuplicateTitle) {
		t.Errorf("err = %v, want duplicate title", err)
	}

	// Another tenant may reuse both.
	if err := s.CreateDocument(ctx, newDoc("t2", "Handbook", "content A")); err != nil {
		t.Errorf("cross-tenant duplicate rejected: %v", err)
	}
}

func TestSoftDeleteFreesUniqueness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	doc := newDoc("t1", "Handbook", "content A")
	s.CreateDocument(ctx, doc)
	if err := s.SoftDeleteDocument(ctx, "t1", doc.ID); err != nil {
		t.Fatal(err)
	}

	// Deleted documents no longer hold the title or hash.
	if err := s.CreateDocument(ctx, newDoc("t1", "Handbook", "content A")); err != nil {
		t.Errorf("re-creating after delete: %v", err)
	}
}

func TestSoftDeleteHidesEverything(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	doc := newDoc("t1", "Handbook", "content")
	s.CreateDocument(ctx, doc)
	chunk := newChunk(doc, 0, "chunk text")
	s.ReplaceChunks(ctx, doc.ID, []*models.Chunk{chunk})

	s.SoftDeleteDocument(ctx, "t1", doc.ID)

	if _, err := s.GetDocument(ctx, "t1", doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("GetDocument after delete: %v", err)
	}
	docs, _ := s.ListDocuments(ctx, "t1", ListOptions{})
	if len(docs) != 0 {
		t.Errorf("listed %d documents after delete", len(docs))
	}
	chunks, _ := s.GetChunks(ctx, []string{chunk.ID})
	if len(chunks) != 0 {
		t.Errorf("chunks of deleted document still resolve: %d", len(chunks))
	}
	live, _ := s.LiveChunks(ctx, []string{chunk.ID})
	if live[chunk.ID] {
		t.Error("LiveChunks reports deleted chunk as live")
	}
}

func TestGetDocumentTenantScoped(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	doc := newDoc("t1", "Handbook", "content")
	s.CreateDocument(ctx, doc)

	if _, err := s.GetDocument(ctx, "t2", doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("cross-tenant read: %v", err)
	}
}

func TestReplaceChunksDenseNumbering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	doc := newDoc("t1", "Doc", "content")
	s.CreateDocument(ctx, doc)

	bad := []*models.Chunk{newChunk(doc, 0, "a"), newChunk(doc, 2, "b")}
	err := s.ReplaceChunks(ctx, doc.ID, bad)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("sparse numbering accepted: %v", err)
	}

	good := []*models.Chunk{newChunk(doc, 0, "a"), newChunk(doc, 1, "b")}
	if err := s.ReplaceChunks(ctx, doc.ID, good); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListChunksByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ChunkNumber != 0 || got[1].ChunkNumber != 1 {
		t.Errorf("chunks = %+v", got)
	}

	d, _ := s.GetDocument(ctx, "t1", doc.ID)
	if d.ChunkCount != 2 {
		t.Errorf("chunk count = %d", d.ChunkCount)
	}
}

func TestReplaceChunksDropsOldSet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	doc := newDoc("t1", "Doc", "content")
	s.CreateDocument(ctx, doc)

	old := newChunk(doc, 0, "old")
	s.ReplaceChunks(ctx, doc.ID, []*models.Chunk{old})
	s.ReplaceChunks(ctx, doc.ID, []*models.Chunk{newChunk(doc, 0, "new")})

	resolved, _ := s.GetChunks(ctx, []string{old.ID})
	if len(resolved) != 0 {
		t.Error("replaced chunk still resolves")
	}
}

func TestParsingStatusTransitions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	doc := newDoc("t1", "Doc", "content")
	s.CreateDocument(ctx, doc)

	if err := s.UpdateParsingStatus(ctx, doc.ID, models.ParsingSuccess, 7); err != nil {
		t.Fatal(err)
	}
	d, _ := s.GetDocument(ctx, "t1", doc.ID)
	if d.ParsingStatus != models.ParsingSuccess || d.ChunkCount != 7 {
		t.Errorf("doc = %+v", d)
	}

	docs, _ := s.ListDocuments(ctx, "t1", ListOptions{Status: models.ParsingSuccess})
	if len(docs) != 1 {
		t.Errorf("status filter returned %d", len(docs))
	}
}

func TestTagChunks(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	doc := newDoc("t1", "Doc", "content")
	s.CreateDocument(ctx, doc)
	c0 := newChunk(doc, 0, "a")
	c1 := newChunk(doc, 1, "b")
	s.ReplaceChunks(ctx, doc.ID, []*models.Chunk{c0, c1})

	if err := s.TagChunks(ctx, []string{c0.ID}, []string{"billing", "faq"}); err != nil {
		t.Fatal(err)
	}
	// Duplicate tagging is a no-op.
	s.TagChunks(ctx, []string{c0.ID}, []string{"faq"})

	tags, err := s.ChunkTags(ctx, []string{c0.ID, c1.ID})
	if err != nil {
		t.Fatal(err)
	}
	if got := tags[c0.ID]; len(got) != 2 || got[0] != "billing" || got[1] != "faq" {
		t.Errorf("tags = %v", got)
	}
	if _, ok := tags[c1.ID]; ok {
		t.Error("untagged chunk has tags")
	}
}

func TestListChunksByTenant(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	d1 := newDoc("t1", "One", "c1")
	d2 := newDoc("t1", "Two", "c2")
	other := newDoc("t2", "Other", "c3")
	for _, d := range []*models.Document{d1, d2, other} {
		s.CreateDocument(ctx, d)
	}
	s.ReplaceChunks(ctx, d1.ID, []*models.Chunk{newChunk(d1, 0, "a")})
	s.ReplaceChunks(ctx, d2.ID, []*models.Chunk{newChunk(d2, 0, "b")})
	s.ReplaceChunks(ctx, other.ID, []*models.Chunk{newChunk(other, 0, "c")})

	chunks, err := s.ListChunksByTenant(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Errorf("got %d chunks", len(chunks))
	}
	for _, c := range chunks {
		if c.TenantID != "t1" {
			t.Errorf("foreign chunk: %+v", c)
		}
	}
}
