package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// LocalProvider produces deterministic pseudo-embeddings from token
// hashes. It needs no network and gives similar texts similar vectors,
// which is enough for development and tests.
type LocalProvider struct {
	dim int
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider creates a local provider with the given dimension.
// Zero or negative defaults to 256.
func NewLocalProvider(dim int) *LocalProvider {
	if dim <= 0 {
		dim = 256
	}
	return &LocalProvider{dim: dim}
}

func (p *LocalProvider) Name() string      { return "local-hash" }
func (p *LocalProvider) Dimension() int    { return p.dim }
func (p *LocalProvider) MaxBatchSize() int { return 1024 }

func (p *LocalProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	return p.hashEmbed(text), nil
}

func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// hashEmbed accumulates a bag-of-words signal: each token's hash picks
// dimensions to bump, so shared tokens give overlapping vectors.
func (p *LocalProvider) hashEmbed(text string) []float32 {
	v := make([]float32, p.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(tok))
		for i := 0; i+4 <= 16; i += 4 {
			idx := binary.LittleEndian.Uint32(sum[i:]) % uint32(p.dim)
			sign := float32(1)
			if sum[16+i]%2 == 1 {
				sign = -1
			}
			v[idx] += sign
		}
	}
	return Normalize(v)
}
