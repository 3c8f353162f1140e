package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ParsingStatus tracks a document's progress through the ingestion pipeline.
type ParsingStatus string

const (
	// ParsingPending means the document is uploaded but not yet chunked.
	ParsingPending ParsingStatus = "PENDING"

	// ParsingSuccess means all chunks are stored.
	ParsingSuccess ParsingStatus = "SUCCESS"

	// ParsingFailed means splitting or chunk persistence failed.
	// Terminal until the document is re-ingested.
	ParsingFailed ParsingStatus = "FAILED"
)

// Document is one uploaded source text owned by a tenant.
//
// Invariants:
//   - (TenantID, ContentHash) is unique across live documents.
//   - (TenantID, Title) is unique across live documents.
//   - ChunkCount equals the number of live chunks referencing it.
type Document struct {
	// ID is the stable document identifier.
	ID string `json:"id"`

	// TenantID is the owning tenant.
	TenantID string `json:"tenant_id"`

	// Title is the user-facing document title.
	Title string `json:"title"`

	// SourceType describes where the document came from (upload, url, api).
	SourceType string `json:"source_type"`

	// MimeType is the declared content type of the original upload.
	MimeType string `json:"mime_type"`

	// Language is the detected or declared language code.
	Language string `json:"language"`

	// ContentHash is the SHA-256 over the cleaned text, hex-encoded.
	ContentHash string `json:"content_hash"`

	// ParsingStatus is the ingestion state machine position.
	ParsingStatus ParsingStatus `json:"parsing_status"`

	// ChunkCount is the number of live chunks for this document.
	ChunkCount int `json:"chunk_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// DeletedAt is the soft-delete tombstone. A non-nil value makes the
	// document invisible on every read path.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the document has been soft-deleted.
func (d *Document) Deleted() bool {
	return d.DeletedAt != nil
}

// HashContent computes the content hash for cleaned document text.
func HashContent(cleaned string) string {
	sum := sha256.Sum256([]byte(cleaned))
	return hex.EncodeToString(sum[:])
}

// Chunk is an ordered text fragment of a document, the atomic unit of
// retrieval. Chunk numbers form a contiguous prefix [0, ChunkCount) within
// their document, and a chunk exists only while its document is live.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	TenantID   string `json:"tenant_id"`

	// ChunkNumber is the dense 0-based position within the document.
	ChunkNumber int `json:"chunk_number"`

	Text     string `json:"text"`
	Language string `json:"language"`

	// TokenSize is an estimate of the chunk's token count.
	TokenSize int `json:"token_size"`

	// VectorVersion is a monotone counter bumped on re-embedding. The
	// vector index serves only the latest version per (chunk, model).
	VectorVersion int `json:"vector_version"`

	CreatedAt time.Time `json:"created_at"`
}

// Tag is a user label shared by any chunks that reference it.
type Tag struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

// ChunkTag relates a chunk to a tag. Rows are removed when the chunk is
// deleted; tags themselves have no ownership relation.
type ChunkTag struct {
	ChunkID string `json:"chunk_id"`
	TagID   string `json:"tag_id"`
}

// Embedding is a stored vector bound to a specific chunk, model, and
// vector version. For a given (ChunkID, ModelCode) at most one row exists
// per VectorVersion; the index serves only the greatest version.
type Embedding struct {
	ChunkID       string    `json:"chunk_id"`
	ModelCode     string    `json:"model_code"`
	VectorVersion int       `json:"vector_version"`
	Vector        []float32 `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// CleanText normalizes document text before hashing and splitting:
// CRLF to LF, trimmed edges, and runs of three or more newlines collapsed.
func CleanText(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}
