package completion

import (
	"context"
	"sync"

	"github.com/haasonsaas/parley/pkg/models"
)

// StubProvider is a scripted in-memory provider for tests and local
// development.
type StubProvider struct {
	mu sync.Mutex

	// ProviderName defaults to "stub".
	ProviderName string

	// Model defaults to "stub-model".
	Model string

	// Responses are returned in order; the last one repeats. Empty means
	// every call returns Err or an empty result.
	Responses []Result

	// ChunkSize splits streamed text into pieces of this many bytes.
	// Zero streams the whole text as one chunk.
	ChunkSize int

	// Err, when set, fails every call.
	Err error

	// Healthy defaults to true via the constructor.
	Healthy bool

	// Requests records everything sent to the provider.
	Requests []*Request

	next int
}

var _ Provider = (*StubProvider)(nil)

// NewStubProvider creates a healthy stub that answers every request with
// the given text.
func NewStubProvider(text string) *StubProvider {
	return &StubProvider{
		Responses: []Result{{Text: text, TokensIn: 10, TokensOut: 5, FinishReason: "stop"}},
		Healthy:   true,
	}
}

func (p *StubProvider) Name() string {
	if p.ProviderName == "" {
		return "stub"
	}
	return p.ProviderName
}

func (p *StubProvider) DefaultModel() string {
	if p.Model == "" {
		return "stub-model"
	}
	return p.Model
}

func (p *StubProvider) SupportedModels() []string { return []string{p.DefaultModel()} }

func (p *StubProvider) IsHealthy(context.Context) bool { return p.Healthy }

func (p *StubProvider) Complete(ctx context.Context, req *Request) (*Result, error) {
	return complete(ctx, p, req)
}

func (p *StubProvider) StreamComplete(ctx context.Context, req *Request, sink Sink) error {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		err := p.Err
		p.mu.Unlock()
		sink.OnError(err)
		return err
	}
	var res Result
	if len(p.Responses) > 0 {
		res = p.Responses[p.next]
		if p.next < len(p.Responses)-1 {
			p.next++
		}
	}
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		sink.OnError(err)
		return err
	}

	text := res.Text
	size := p.ChunkSize
	if size <= 0 {
		size = len(text)
	}
	for i := 0; i < len(text); i += size {
		end := i + size
		if end > len(text) {
			end = len(text)
		}
		sink.OnChunk(text[i:end])
	}

	out := res
	if out.Model == "" {
		model := req.Model
		if model == "" {
			model = p.DefaultModel()
		}
		out.Model = model
	}
	if out.FinishReason == "" {
		out.FinishReason = "stop"
	}
	out.ToolCalls = append([]models.ToolCall(nil), res.ToolCalls...)
	sink.OnComplete(&out)
	return nil
}
