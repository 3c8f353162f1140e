package retrieval

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/internal/docstore"
	"github.com/haasonsaas/parley/internal/embedding"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/vectorindex"
	"github.com/haasonsaas/parley/pkg/models"
)

// Config bounds search requests.
type Config struct {
	// TopKMax caps the requested result count. Default 50.
	TopKMax int

	// HighlightFragments and HighlightLength bound snippet extraction.
	// Defaults 3 and 200.
	HighlightFragments int
	HighlightLength    int
}

// Request is one search. Tags filter inclusive-OR; DocumentIDs restrict
// to a strict subset. Both apply before scoring.
type Request struct {
	TenantID     string
	Query        string
	Mode         models.SearchMode
	TopK         int
	Threshold    float64
	VectorWeight float64
	Tags         []string
	DocumentIDs  []string
	IncludeText  bool
}

// Service runs retrieval against the vector index and chunk store.
type Service struct {
	cfg      Config
	store    docstore.Store
	index    vectorindex.Index
	embedder embedding.Provider
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewService wires a retrieval service, filling zero config fields with
// defaults.
func NewService(cfg Config, store docstore.Store, index vectorindex.Index,
	embedder embedding.Provider, logger *observability.Logger, metrics *observability.Metrics) *Service {

	if cfg.TopKMax <= 0 {
		cfg.TopKMax = 50
	}
	if cfg.HighlightFragments <= 0 {
		cfg.HighlightFragments = 3
	}
	if cfg.HighlightLength <= 0 {
		cfg.HighlightLength = 200
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{cfg: cfg, store: store, index: index, embedder: embedder, logger: logger, metrics: metrics}
}

// ModelCode identifies the embedding model behind vector scores. Stored
// citations carry it so scores stay comparable after a model swap.
func (s *Service) ModelCode() string {
	return s.embedder.Name()
}

// Retrieve runs the requested search mode and returns ranked hits with
// highlights. TopK of zero returns an empty result; requests over the
// cap are rejected rather than clamped.
func (s *Service) Retrieve(ctx context.Context, req Request) ([]models.Hit, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	if req.TopK == 0 {
		return []models.Hit{}, nil
	}
	started := time.Now()

	var (
		hits []models.Hit
		err  error
	)
	switch req.Mode {
	case models.SearchVector:
		hits, err = s.vectorSearch(ctx, req)
	case models.SearchLexical:
		hits, err = s.lexicalSearch(ctx, req)
	case models.SearchHybrid:
		hits, err = s.hybridSearch(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RetrievalDuration.WithLabelValues(string(req.Mode)).Observe(time.Since(started).Seconds())
	}
	return s.decorate(ctx, req, hits)
}

func (s *Service) validate(req *Request) error {
	if req.Query == "" {
		return apperr.New(apperr.KindValidation, "EMPTY_QUERY", "query must not be empty")
	}
	switch req.Mode {
	case models.SearchVector, models.SearchLexical, models.SearchHybrid:
	case "":
		req.Mode = models.SearchVector
	default:
		return apperr.Newf(apperr.KindValidation, "INVALID_MODE", "unknown search mode %q", req.Mode)
	}
	if req.TopK < 0 || req.TopK > s.cfg.TopKMax {
		return apperr.Newf(apperr.KindValidation, "INVALID_TOP_K",
			"top_k must be between 0 and %d", s.cfg.TopKMax)
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return apperr.New(apperr.KindValidation, "INVALID_THRESHOLD", "threshold must be in [0, 1]")
	}
	if req.VectorWeight < 0 || req.VectorWeight > 1 {
		return apperr.New(apperr.KindValidation, "INVALID_VECTOR_WEIGHT", "vector_weight must be in [0, 1]")
	}
	return nil
}

// vectorSearch embeds the canonicalized query and searches the index.
// When a tag filter is present the index is over-fetched and filtered
// afterwards, since tags live in the chunk store.
func (s *Service) vectorSearch(ctx context.Context, req Request) ([]models.Hit, error) {
	canonical := CanonicalizeQuery(req.Query)
	vector, err := s.embedder.Embed(ctx, canonical)
	if err != nil {
		return nil, err
	}

	topK := req.TopK
	if len(req.Tags) > 0 {
		topK *= 4
	}
	hits, err := s.index.Search(ctx, vector, vectorindex.SearchOptions{
		TenantID:    req.TenantID,
		ModelCode:   s.embedder.Name(),
		TopK:        topK,
		Threshold:   req.Threshold,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		return nil, err
	}
	if len(req.Tags) > 0 {
		hits, err = s.filterByTags(ctx, hits, req.Tags)
		if err != nil {
			return nil, err
		}
		if len(hits) > req.TopK {
			hits = hits[:req.TopK]
		}
	}
	return hits, nil
}

// lexicalSearch scores token overlap over the tenant's live chunks.
func (s *Service) lexicalSearch(ctx context.Context, req Request) ([]models.Hit, error) {
	chunks, err := s.store.ListChunksByTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	chunks, err = s.filterChunks(ctx, chunks, req)
	if err != nil {
		return nil, err
	}

	tokens := queryTokens(req.Query)
	var hits []models.Hit
	for _, c := range chunks {
		score := overlapScore(c.Text, tokens)
		if score <= 0 {
			continue
		}
		hits = append(hits, models.Hit{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Score:      score,
			Confidence: models.ConfidenceFor(score),
		})
	}
	return rankHits(hits, req.TopK), nil
}

// hybridSearch runs both modes concurrently and merges their scores.
// Lexical scores are min-max normalized into [0, 1] within the result
// set before weighting; a hit present on only one side contributes only
// its weighted half.
func (s *Service) hybridSearch(ctx context.Context, req Request) ([]models.Hit, error) {
	inner := req
	// Gather both full sides; truncation happens after the merge.
	inner.TopK = s.cfg.TopKMax

	var vec, lex []models.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vec, err = s.vectorSearch(gctx, inner)
		return err
	})
	g.Go(func() error {
		var err error
		lex, err = s.lexicalSearch(gctx, inner)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	normalizeMinMax(lex)

	w := req.VectorWeight
	merged := make(map[string]*models.Hit, len(vec)+len(lex))
	for i := range vec {
		h := vec[i]
		h.Score *= w
		merged[h.ChunkID] = &h
	}
	for i := range lex {
		contribution := (1 - w) * lex[i].Score
		if h, ok := merged[lex[i].ChunkID]; ok {
			h.Score += contribution
			continue
		}
		h := lex[i]
		h.Score = contribution
		merged[h.ChunkID] = &h
	}

	hits := make([]models.Hit, 0, len(merged))
	for _, h := range merged {
		h.Confidence = models.ConfidenceFor(h.Score)
		hits = append(hits, *h)
	}
	return rankHits(hits, req.TopK), nil
}

// filterChunks applies the document subset and tag filters.
func (s *Service) filterChunks(ctx context.Context, chunks []*models.Chunk, req Request) ([]*models.Chunk, error) {
	if len(req.DocumentIDs) > 0 {
		allowed := make(map[string]bool, len(req.DocumentIDs))
		for _, id := range req.DocumentIDs {
			allowed[id] = true
		}
		kept := chunks[:0]
		for _, c := range chunks {
			if allowed[c.DocumentID] {
				kept = append(kept, c)
			}
		}
		chunks = kept
	}
	if len(req.Tags) == 0 {
		return chunks, nil
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	tags, err := s.store.ChunkTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	kept := chunks[:0]
	for _, c := range chunks {
		if anyTagMatches(tags[c.ID], req.Tags) {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

func (s *Service) filterByTags(ctx context.Context, hits []models.Hit, want []string) ([]models.Hit, error) {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	tags, err := s.store.ChunkTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	kept := hits[:0]
	for _, h := range hits {
		if anyTagMatches(tags[h.ChunkID], want) {
			kept = append(kept, h)
		}
	}
	return kept, nil
}

// decorate resolves chunk texts for highlights and, when requested, the
// hit text itself. Chunks that stopped resolving drop out of the result.
func (s *Service) decorate(ctx context.Context, req Request, hits []models.Hit) ([]models.Hit, error) {
	if len(hits) == 0 {
		return []models.Hit{}, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	chunks, err := s.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	tokens := queryTokens(req.Query)
	out := hits[:0]
	for _, h := range hits {
		c, ok := byID[h.ChunkID]
		if !ok {
			continue
		}
		h.Highlights = Highlights(c.Text, tokens, s.cfg.HighlightFragments, s.cfg.HighlightLength)
		if req.IncludeText {
			h.Text = c.Text
		}
		out = append(out, h)
	}
	return out, nil
}

func anyTagMatches(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

// normalizeMinMax rescales scores into [0, 1] in place. A degenerate
// set where every score is equal maps to 1.
func normalizeMinMax(hits []models.Hit) {
	if len(hits) == 0 {
		return
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < lo {
			lo = h.Score
		}
		if h.Score > hi {
			hi = h.Score
		}
	}
	for i := range hits {
		if hi == lo {
			hits[i].Score = 1
			continue
		}
		hits[i].Score = (hits[i].Score - lo) / (hi - lo)
	}
}

// rankHits orders by score descending with ties broken toward the
// smaller chunk ID, then truncates.
func rankHits(hits []models.Hit, topK int) []models.Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if topK >= 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
