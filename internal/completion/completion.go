// Package completion defines the chat completion provider contract and the
// Anthropic and OpenAI implementations behind it.
package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/parley/pkg/models"
)

// Message is one turn of conversation history sent to a provider.
type Message struct {
	Role    models.Role
	Content string

	// ToolCall is set on assistant turns that requested a tool.
	ToolCall *models.ToolCall

	// ToolCallID and IsError carry a tool result back to the model.
	ToolCallID string
	IsError    bool
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []models.ToolDefinition
	MaxTokens   int
	Temperature float64

	// KnowledgeContext carries retrieved passages in relevance order.
	KnowledgeContext []string

	// ToolResults carries executed tool outcomes in call order.
	ToolResults []models.ToolOutcome
}

// RenderSystem flattens the structured context into one system string,
// for providers whose API takes a single system prompt.
func (r *Request) RenderSystem() string {
	if len(r.KnowledgeContext) == 0 && len(r.ToolResults) == 0 {
		return r.System
	}
	var b strings.Builder
	b.WriteString(r.System)
	if len(r.KnowledgeContext) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Relevant knowledge:")
		for i, passage := range r.KnowledgeContext {
			fmt.Fprintf(&b, "\n[%d] %s", i+1, passage)
		}
	}
	if len(r.ToolResults) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Tool results:")
		for _, tr := range r.ToolResults {
			status := "ok"
			if tr.IsError {
				status = "error"
			}
			fmt.Fprintf(&b, "\n%s (%s): %s", tr.ToolCode, status, tr.Content)
		}
	}
	return b.String()
}

// Result is the final outcome of a completion.
type Result struct {
	Text         string
	ToolCalls    []models.ToolCall
	TokensIn     int
	TokensOut    int
	FinishReason string

	// Model is the model that actually served the request.
	Model string

	// LatencyMS is wall time from dispatch to the terminal event.
	LatencyMS int64

	// Cost in dollars, filled by the caller from its pricing table.
	Cost float64
}

// Sink receives streaming output. For any single call the provider invokes
// OnChunk zero or more times, then exactly one of OnComplete or OnError.
type Sink interface {
	OnChunk(text string)
	OnComplete(result *Result)
	OnError(err error)
}

// Provider generates chat completions.
type Provider interface {
	// Complete runs a request to completion and returns the full result.
	Complete(ctx context.Context, req *Request) (*Result, error)

	// StreamComplete runs a request, delivering output through sink as it
	// is generated. The returned error mirrors what sink.OnError saw.
	StreamComplete(ctx context.Context, req *Request, sink Sink) error

	// Name returns the provider identifier used for routing and metrics.
	Name() string

	// DefaultModel is used when a request does not name a model.
	DefaultModel() string

	// SupportedModels lists the model codes this provider serves.
	SupportedModels() []string

	// IsHealthy reports whether the provider is currently usable.
	IsHealthy(ctx context.Context) bool
}

// collectSink buffers a stream into a Result for the non-streaming path.
type collectSink struct {
	result *Result
	err    error
}

func (s *collectSink) OnChunk(string)            {}
func (s *collectSink) OnComplete(result *Result) { s.result = result }
func (s *collectSink) OnError(err error)         { s.err = err }

// complete implements Complete in terms of StreamComplete for providers
// whose native API is streaming.
func complete(ctx context.Context, p Provider, req *Request) (*Result, error) {
	var sink collectSink
	if err := p.StreamComplete(ctx, req, &sink); err != nil {
		return nil, err
	}
	if sink.err != nil {
		return nil, sink.err
	}
	return sink.result, nil
}
