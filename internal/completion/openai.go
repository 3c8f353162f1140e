package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/pkg/models"
)

// OpenAIProvider serves completions through the OpenAI chat API.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	models       []string
}

var _ Provider = (*OpenAIProvider)(nil)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Models       []string
}

// NewOpenAIProvider creates the provider. APIKey is required.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, apperr.New(apperr.KindValidation, "MISSING_API_KEY", "openai api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if len(cfg.Models) == 0 {
		cfg.Models = []string{cfg.DefaultModel}
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(config),
		defaultModel: cfg.DefaultModel,
		models:       cfg.Models,
	}, nil
}

func (p *OpenAIProvider) Name() string              { return "openai" }
func (p *OpenAIProvider) DefaultModel() string      { return p.defaultModel }
func (p *OpenAIProvider) SupportedModels() []string { return p.models }

func (p *OpenAIProvider) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.client.ListModels(ctx)
	return err == nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Result, error) {
	return complete(ctx, p, req)
}

func (p *OpenAIProvider) StreamComplete(ctx context.Context, req *Request, sink Sink) error {
	started := time.Now()
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req))
	if err != nil {
		wrapped := wrapOpenAIError(err)
		sink.OnError(wrapped)
		return wrapped
	}
	defer stream.Close()

	result := &Result{Model: p.model(req.Model)}
	var text strings.Builder

	// Tool call arguments arrive as deltas keyed by index.
	type partialCall struct {
		id   string
		name string
		args strings.Builder
	}
	calls := map[int]*partialCall{}
	maxIndex := -1

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			wrapped := wrapOpenAIError(err)
			sink.OnError(wrapped)
			return wrapped
		}

		if resp.Usage != nil {
			result.TokensIn = resp.Usage.PromptTokens
			result.TokensOut = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			result.FinishReason = string(choice.FinishReason)
		}
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			sink.OnChunk(choice.Delta.Content)
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc := calls[idx]
			if pc == nil {
				pc = &partialCall{}
				calls[idx] = pc
			}
			if idx > maxIndex {
				maxIndex = idx
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
		}
	}

	for i := 0; i <= maxIndex; i++ {
		pc := calls[i]
		if pc == nil {
			continue
		}
		result.ToolCalls = append(result.ToolCalls, models.ToolCall{
			ID:    pc.id,
			Name:  pc.name,
			Input: json.RawMessage(pc.args.String()),
		})
	}
	result.Text = text.String()
	result.LatencyMS = time.Since(started).Milliseconds()
	sink.OnComplete(result)
	return nil
}

func (p *OpenAIProvider) buildRequest(req *Request) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if system := req.RenderSystem(); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range req.Messages {
		m := openai.ChatCompletionMessage{Content: msg.Content}
		switch msg.Role {
		case models.RoleAssistant:
			m.Role = openai.ChatMessageRoleAssistant
			if msg.ToolCall != nil {
				m.ToolCalls = []openai.ToolCall{{
					ID:   msg.ToolCall.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      msg.ToolCall.Name,
						Arguments: string(msg.ToolCall.Input),
					},
				}}
			}
		case models.RoleTool:
			m.Role = openai.ChatMessageRoleTool
			m.ToolCallID = msg.ToolCallID
		case models.RoleSystem:
			m.Role = openai.ChatMessageRoleSystem
		default:
			m.Role = openai.ChatMessageRoleUser
		}
		messages = append(messages, m)
	}

	out := openai.ChatCompletionRequest{
		Model:         p.model(req.Model),
		Messages:      messages,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.Temperature > 0 {
		out.Temperature = float32(req.Temperature)
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Code,
				Description: tool.Description,
				Parameters:  tool.ParamSchema,
			},
		})
	}
	return out
}

func (p *OpenAIProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return apperr.Wrap(apperr.KindRateLimited, "PROVIDER_RATE_LIMITED", "openai", err)
		case apiErr.HTTPStatusCode >= 500:
			return apperr.Wrap(apperr.KindProviderUnavailable, "PROVIDER_UNAVAILABLE", "openai", err)
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return apperr.Wrap(apperr.KindProviderTimeout, "PROVIDER_TIMEOUT", "openai", err)
	case strings.Contains(msg, "connection refused"):
		return apperr.Wrap(apperr.KindProviderUnavailable, "PROVIDER_UNAVAILABLE", "openai", err)
	default:
		return apperr.Wrap(apperr.KindProviderError, "PROVIDER_ERROR", "openai", err)
	}
}
