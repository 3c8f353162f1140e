package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/parley/internal/apperr"
)

// OpenAIProvider generates embeddings through the OpenAI embeddings API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

var _ Provider = (*OpenAIProvider)(nil)

// OpenAIConfig configures the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewOpenAIProvider creates the provider. Model defaults to
// text-embedding-3-small.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding: openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.model }

func (p *OpenAIProvider) Dimension() int {
	switch p.model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

func (p *OpenAIProvider) MaxBatchSize() int { return 2048 }

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, apperr.New(apperr.KindProviderError, "NO_EMBEDDING", "provider returned no embedding")
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if len(texts) > p.MaxBatchSize() {
		return nil, apperr.Newf(apperr.KindValidation, "BATCH_TOO_LARGE",
			"batch of %d exceeds provider limit %d", len(texts), p.MaxBatchSize())
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProviderError, "EMBEDDING_FAILED", "create embeddings", err)
	}

	out := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(out) {
			return nil, apperr.Newf(apperr.KindProviderError, "EMBEDDING_MISALIGNED",
				"provider returned index %d for batch of %d", data.Index, len(texts))
		}
		out[data.Index] = Normalize(data.Embedding)
	}
	for i, v := range out {
		if v == nil {
			return nil, apperr.Newf(apperr.KindProviderError, "EMBEDDING_MISSING",
				"provider returned no vector for input %d", i)
		}
	}
	return out, nil
}
