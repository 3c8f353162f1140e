// Package docstore persists documents, their chunks, and chunk tags for
// the knowledge base.
package docstore

import (
	"context"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/pkg/models"
)

// Store errors.
var (
	ErrDocumentNotFound = apperr.New(apperr.KindNotFound, "DOCUMENT_NOT_FOUND", "document not found")
	ErrChunkNotFound    = apperr.New(apperr.KindNotFound, "CHUNK_NOT_FOUND", "chunk not found")
	ErrDuplicateContent = apperr.New(apperr.KindConflict, "DUPLICATE_CONTENT", "a document with identical content already exists")
	ErrDuplicateTitle   = apperr.New(apperr.KindConflict, "DUPLICATE_TITLE", "a document with this title already exists")
)

// ListOptions filter document listings.
type ListOptions struct {
	SourceType string
	Status     models.ParsingStatus
	Limit      int
	Offset     int
}

// Store is the document and chunk repository. Soft-deleted documents are
// invisible to every read; their chunks stop resolving.
type Store interface {
	// CreateDocument stores a new document. Content hash and title must
	// be unique per tenant among live documents.
	CreateDocument(ctx context.Context, doc *models.Document) error

	// GetDocument returns a live document owned by the tenant.
	GetDocument(ctx context.Context, tenantID, id string) (*models.Document, error)

	// ListDocuments returns the tenant's live documents, newest first.
	ListDocuments(ctx context.Context, tenantID string, opts ListOptions) ([]*models.Document, error)

	// UpdateParsingStatus moves a document through the ingestion states
	// and records its final chunk count.
	UpdateParsingStatus(ctx context.Context, id string, status models.ParsingStatus, chunkCount int) error

	// SoftDeleteDocument hides the document and all of its chunks.
	SoftDeleteDocument(ctx context.Context, tenantID, id string) error

	// ReplaceChunks atomically swaps a document's chunk set. Chunk
	// numbers must be dense starting at zero.
	ReplaceChunks(ctx context.Context, documentID string, chunks []*models.Chunk) error

	// GetChunks resolves chunks by ID, skipping chunks of deleted
	// documents.
	GetChunks(ctx context.Context, chunkIDs []string) ([]*models.Chunk, error)

	// ListChunksByDocument returns a live document's chunks in order.
	ListChunksByDocument(ctx context.Context, documentID string) ([]*models.Chunk, error)

	// ListChunksByTenant returns all live chunks for a tenant, for
	// lexical scanning.
	ListChunksByTenant(ctx context.Context, tenantID string) ([]*models.Chunk, error)

	// TagChunks attaches tags to chunks; duplicates are ignored.
	TagChunks(ctx context.Context, chunkIDs []string, tags []string) error

	// ChunkTags returns the tags of each given chunk.
	ChunkTags(ctx context.Context, chunkIDs []string) (map[string][]string, error)

	// LiveChunks reports which chunk IDs still belong to live documents.
	LiveChunks(ctx context.Context, chunkIDs []string) (map[string]bool, error)
}
