package gateway

import (
	"net/http"
	"strconv"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/internal/audit"
	"github.com/haasonsaas/parley/internal/docstore"
	"github.com/haasonsaas/parley/internal/ingest"
	"github.com/haasonsaas/parley/internal/retrieval"
	"github.com/haasonsaas/parley/pkg/models"
)

type createDocumentBody struct {
	TenantID   string   `json:"tenantId,omitempty"`
	Title      string   `json:"title"`
	SourceType string   `json:"sourceType,omitempty"`
	MimeType   string   `json:"mimeType,omitempty"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags,omitempty"`

	// Lang is accepted for wire compatibility; the pipeline detects the
	// language from the content itself.
	Lang       string `json:"lang,omitempty"`
	OperatorID string `json:"operatorId,omitempty"`
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	rc := identity(r)
	var body createDocumentBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if rc.TenantID == "" {
		rc.TenantID = body.TenantID
	}
	if err := requireTenant(rc); err != nil {
		writeError(w, err)
		return
	}

	doc, err := s.pipeline.Ingest(r.Context(), ingest.Request{
		TenantID:   rc.TenantID,
		Title:      body.Title,
		SourceType: body.SourceType,
		MimeType:   body.MimeType,
		Content:    body.Content,
		Tags:       body.Tags,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.recorder.Record(r.Context(), audit.DataChange("gateway", rc.TenantID, "kb.document_created",
		map[string]any{"document_id": doc.ID, "title": doc.Title}))
	writeData(w, http.StatusCreated, doc)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	rc := identity(r)
	q := r.URL.Query()
	if rc.TenantID == "" {
		rc.TenantID = q.Get("tenantId")
	}
	if err := requireTenant(rc); err != nil {
		writeError(w, err)
		return
	}

	page, err := positiveInt(q.Get("page"), 1)
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "INVALID_PAGINATION", "page must be a positive integer"))
		return
	}
	size, err := positiveInt(q.Get("size"), 20)
	if err != nil || size > 100 {
		writeError(w, apperr.New(apperr.KindValidation, "INVALID_PAGINATION", "size must be between 1 and 100"))
		return
	}

	docs, err := s.docs.ListDocuments(r.Context(), rc.TenantID, docstore.ListOptions{
		SourceType: q.Get("sourceType"),
		Status:     models.ParsingStatus(q.Get("status")),
		Limit:      size,
		Offset:     (page - 1) * size,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"documents": docs,
		"page":      page,
		"size":      size,
	})
}

func (s *Server) reindexDocument(w http.ResponseWriter, r *http.Request) {
	rc := identity(r)
	if err := requireTenant(rc); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if err := s.pipeline.Reindex(r.Context(), rc.TenantID, id); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusAccepted, map[string]string{"document_id": id})
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	rc := identity(r)
	if err := requireTenant(rc); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if err := s.pipeline.Delete(r.Context(), rc.TenantID, id); err != nil {
		writeError(w, err)
		return
	}
	s.recorder.Record(r.Context(), audit.DataChange("gateway", rc.TenantID, "kb.document_deleted",
		map[string]any{"document_id": id}))
	writeData(w, http.StatusOK, map[string]string{"document_id": id})
}

const (
	searchVector  = models.SearchVector
	searchLexical = models.SearchLexical
	searchHybrid  = models.SearchHybrid
)

type searchBody struct {
	TenantID     string   `json:"tenantId,omitempty"`
	Query        string   `json:"query"`
	ModelCode    string   `json:"modelCode,omitempty"`
	TopK         int      `json:"topK,omitempty"`
	Threshold    float64  `json:"threshold,omitempty"`
	VectorWeight float64  `json:"vectorWeight,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	DocumentIDs  []string `json:"documentIds,omitempty"`
	IncludeText  bool     `json:"includeText,omitempty"`
}

// search fixes the retrieval mode per route so clients cannot smuggle
// one mode's parameters into another.
func (s *Server) search(mode models.SearchMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := identity(r)
		var body searchBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		if rc.TenantID == "" {
			rc.TenantID = body.TenantID
		}
		if err := requireTenant(rc); err != nil {
			writeError(w, err)
			return
		}

		hits, err := s.retriever.Retrieve(r.Context(), retrieval.Request{
			TenantID:     rc.TenantID,
			Query:        body.Query,
			Mode:         mode,
			TopK:         body.TopK,
			Threshold:    body.Threshold,
			VectorWeight: body.VectorWeight,
			Tags:         body.Tags,
			DocumentIDs:  body.DocumentIDs,
			IncludeText:  body.IncludeText,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"hits":  hits,
			"count": len(hits),
		})
	}
}

func positiveInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperr.New(apperr.KindValidation, "INVALID_PAGINATION", "expected a positive integer")
	}
	return n, nil
}
