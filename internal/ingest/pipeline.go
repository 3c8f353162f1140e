package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/internal/backoff"
	"github.com/haasonsaas/parley/internal/docstore"
	"github.com/haasonsaas/parley/internal/embedding"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/runtime"
	"github.com/haasonsaas/parley/internal/vectorindex"
	"github.com/haasonsaas/parley/pkg/models"
)

// Config bounds the ingestion pipeline.
type Config struct {
	// MaxDocumentSizeBytes caps accepted content. Default 10 MiB.
	MaxDocumentSizeBytes int

	// EmbeddingBatchSize is chunks per embedding request. Default 32.
	EmbeddingBatchSize int

	// SyncChunkLimit and SyncContentLimit decide the synchronous path:
	// documents within both limits are embedded before Ingest returns,
	// larger ones are handed to the background pool.
	SyncChunkLimit   int
	SyncContentLimit int

	// MaxEmbedAttempts is tries per failed batch. Default 3.
	MaxEmbedAttempts int

	// EmbedBatchesPerSecond paces embedding calls toward the provider.
	// Zero means unpaced.
	EmbedBatchesPerSecond float64

	Splitter SplitterConfig
}

// Request describes one document to ingest.
type Request struct {
	TenantID   string
	Title      string
	SourceType string
	MimeType   string
	Content    string
	Tags       []string
}

// Pipeline chunks, embeds, and indexes documents.
type Pipeline struct {
	cfg      Config
	store    docstore.Store
	index    vectorindex.Index
	embedder embedding.Provider
	pool     *runtime.Pool
	splitter *Splitter
	limiter  *rate.Limiter
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewPipeline wires the pipeline. pool may be nil, which forces every
// document through the synchronous path.
func NewPipeline(cfg Config, store docstore.Store, index vectorindex.Index,
	embedder embedding.Provider, pool *runtime.Pool,
	logger *observability.Logger, metrics *observability.Metrics) *Pipeline {

	if cfg.MaxDocumentSizeBytes <= 0 {
		cfg.MaxDocumentSizeBytes = 10 << 20
	}
	if cfg.EmbeddingBatchSize <= 0 {
		cfg.EmbeddingBatchSize = 32
	}
	if cfg.SyncChunkLimit <= 0 {
		cfg.SyncChunkLimit = 50
	}
	if cfg.SyncContentLimit <= 0 {
		cfg.SyncContentLimit = 50000
	}
	if cfg.MaxEmbedAttempts <= 0 {
		cfg.MaxEmbedAttempts = 3
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	limit := rate.Inf
	if cfg.EmbedBatchesPerSecond > 0 {
		limit = rate.Limit(cfg.EmbedBatchesPerSecond)
	}
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		index:    index,
		embedder: embedder,
		pool:     pool,
		splitter: NewSplitter(cfg.Splitter),
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		metrics:  metrics,
	}
}

// Ingest registers and processes a document. Small documents return with
// ParsingSuccess; large ones return immediately with ParsingPending and
// finish in the background.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*models.Document, error) {
	if req.Title == "" {
		return nil, apperr.New(apperr.KindValidation, "MISSING_TITLE", "document title is required")
	}
	if len(req.Content) > p.cfg.MaxDocumentSizeBytes {
		return nil, apperr.Newf(apperr.KindValidation, "DOCUMENT_TOO_LARGE",
			"document of %d bytes exceeds limit %d", len(req.Content), p.cfg.MaxDocumentSizeBytes)
	}

	content := models.CleanText(req.Content)
	if content == "" {
		return nil, apperr.New(apperr.KindValidation, "EMPTY_DOCUMENT", "document has no content")
	}

	doc := &models.Document{
		ID:            uuid.NewString(),
		TenantID:      req.TenantID,
		Title:         req.Title,
		SourceType:    req.SourceType,
		MimeType:      req.MimeType,
		Language:      DetectLanguage(content),
		ContentHash:   models.HashContent(content),
		ParsingStatus: models.ParsingPending,
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	texts := p.splitter.Split(content)
	sync := len(texts) <= p.cfg.SyncChunkLimit && len(content) <= p.cfg.SyncContentLimit
	if sync || p.pool == nil {
		if err := p.process(ctx, doc, texts, req.Tags); err != nil {
			return nil, err
		}
		return p.store.GetDocument(ctx, req.TenantID, doc.ID)
	}

	// Detach from the request context; the caller returns before the
	// background work finishes.
	err := p.pool.Submit(ctx, func() {
		bg, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := p.process(bg, doc, texts, req.Tags); err != nil {
			p.logger.Error(bg, "background ingestion failed",
				"document_id", doc.ID, "tenant_id", doc.TenantID, "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Reindex re-embeds an existing document's chunks, bumping their vector
// version so stale writes from a prior run lose.
func (p *Pipeline) Reindex(ctx context.Context, tenantID, documentID string) error {
	doc, err := p.store.GetDocument(ctx, tenantID, documentID)
	if err != nil {
		return err
	}
	chunks, err := p.store.ListChunksByDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	next := 0
	for _, c := range chunks {
		if c.VectorVersion > next {
			next = c.VectorVersion
		}
	}
	for _, c := range chunks {
		c.VectorVersion = next + 1
	}
	if err := p.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return err
	}
	return p.embed(ctx, doc, chunks)
}

// Delete soft-deletes a document and removes its vectors.
func (p *Pipeline) Delete(ctx context.Context, tenantID, documentID string) error {
	if err := p.store.SoftDeleteDocument(ctx, tenantID, documentID); err != nil {
		return err
	}
	return p.index.DeleteByDocument(ctx, documentID)
}

// process stores chunks, embeds them, and finalizes parsing status.
func (p *Pipeline) process(ctx context.Context, doc *models.Document, texts []string, tags []string) error {
	chunks := make([]*models.Chunk, len(texts))
	ids := make([]string, len(texts))
	for i, text := range texts {
		chunks[i] = &models.Chunk{
			ID:          uuid.NewString(),
			DocumentID:  doc.ID,
			TenantID:    doc.TenantID,
			ChunkNumber: i,
			Text:        text,
			Language:    doc.Language,
			TokenSize:   EstimateTokens(text),
		}
		ids[i] = chunks[i].ID
	}
	if err := p.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		p.fail(ctx, doc)
		return err
	}
	if len(tags) > 0 && len(ids) > 0 {
		if err := p.store.TagChunks(ctx, ids, tags); err != nil {
			p.fail(ctx, doc)
			return err
		}
	}

	if err := p.embed(ctx, doc, chunks); err != nil {
		p.fail(ctx, doc)
		return err
	}

	if err := p.store.UpdateParsingStatus(ctx, doc.ID, models.ParsingSuccess, len(chunks)); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.IngestedDocuments.WithLabelValues("success").Inc()
	}
	return nil
}

// embed runs chunk batches through the provider with retries. A batch
// that exhausts its retries is logged and skipped; the document still
// succeeds with partial coverage until the next reindex.
func (p *Pipeline) embed(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batchSize := p.cfg.EmbeddingBatchSize
	if max := p.embedder.MaxBatchSize(); batchSize > max {
		batchSize = max
	}

	failed := 0
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		var vectors [][]float32
		err := backoff.Retry(ctx, backoff.EmbeddingPolicy(), p.cfg.MaxEmbedAttempts, apperr.Retryable,
			func(int) error {
				var err error
				vectors, err = p.embedder.EmbedBatch(ctx, texts)
				return err
			})
		if err != nil {
			failed++
			p.logger.Warn(ctx, "embedding batch failed",
				"document_id", doc.ID, "batch_start", start, "error", err)
			continue
		}

		entries := make([]vectorindex.Entry, len(batch))
		for i, c := range batch {
			entries[i] = vectorindex.Entry{
				ChunkID:       c.ID,
				DocumentID:    c.DocumentID,
				TenantID:      c.TenantID,
				ModelCode:     p.embedder.Name(),
				VectorVersion: c.VectorVersion,
				Vector:        vectors[i],
			}
		}
		if err := p.index.Upsert(ctx, entries); err != nil {
			return err
		}
		if p.metrics != nil {
			p.metrics.EmbeddingBatches.WithLabelValues("success").Inc()
		}
	}

	if p.metrics != nil && failed > 0 {
		p.metrics.EmbeddingBatches.WithLabelValues("failed").Add(float64(failed))
	}
	// All batches failing means nothing is searchable; that is a failure.
	totalBatches := (len(chunks) + batchSize - 1) / batchSize
	if failed == totalBatches {
		return apperr.New(apperr.KindProviderError, "EMBEDDING_FAILED", "all embedding batches failed")
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, doc *models.Document) {
	if err := p.store.UpdateParsingStatus(ctx, doc.ID, models.ParsingFailed, 0); err != nil {
		p.logger.Error(ctx, "could not mark document failed", "document_id", doc.ID, "error", err)
	}
	if p.metrics != nil {
		p.metrics.IngestedDocuments.WithLabelValues("failed").Inc()
	}
}
