package completion

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/pkg/models"
)

// AnthropicProvider serves completions through the Anthropic Messages API.
// Safe for concurrent use; each stream is independent.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	models       []string
}

var _ Provider = (*AnthropicProvider)(nil)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Models       []string
}

// NewAnthropicProvider creates the provider. APIKey is required.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, apperr.New(apperr.KindValidation, "MISSING_API_KEY", "anthropic api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if len(cfg.Models) == 0 {
		cfg.Models = []string{cfg.DefaultModel}
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		models:       cfg.Models,
	}, nil
}

func (p *AnthropicProvider) Name() string              { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string      { return p.defaultModel }
func (p *AnthropicProvider) SupportedModels() []string { return p.models }

func (p *AnthropicProvider) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	return err == nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Result, error) {
	return complete(ctx, p, req)
}

func (p *AnthropicProvider) StreamComplete(ctx context.Context, req *Request, sink Sink) error {
	params, err := p.buildParams(req)
	if err != nil {
		sink.OnError(err)
		return err
	}

	started := time.Now()
	stream := p.client.Messages.NewStreaming(ctx, params)

	result := &Result{Model: p.model(req.Model)}
	var text strings.Builder
	var currentTool *models.ToolCall
	var toolInput strings.Builder

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			result.TokensIn = int(start.Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				currentTool = &models.ToolCall{ID: use.ID, Name: use.Name}
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					text.WriteString(delta.Text)
					sink.OnChunk(delta.Text)
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentTool != nil {
				currentTool.Input = json.RawMessage(toolInput.String())
				result.ToolCalls = append(result.ToolCalls, *currentTool)
				currentTool = nil
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				result.TokensOut = int(delta.Usage.OutputTokens)
			}
			if delta.Delta.StopReason != "" {
				result.FinishReason = string(delta.Delta.StopReason)
			}

		case "message_stop":
			result.Text = text.String()
			result.LatencyMS = time.Since(started).Milliseconds()
			sink.OnComplete(result)
			return nil
		}
	}

	streamErr := stream.Err()
	if streamErr == nil {
		streamErr = apperr.New(apperr.KindProviderError, "STREAM_TRUNCATED",
			"anthropic stream ended without message_stop")
	}
	wrapped := wrapAnthropicError(streamErr)
	sink.OnError(wrapped)
	return wrapped
}

func (p *AnthropicProvider) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system := req.RenderSystem(); system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

func (p *AnthropicProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func convertAnthropicMessages(msgs []Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range msgs {
		// System turns ride in params.System, not the message list.
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError))
		} else if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		if msg.ToolCall != nil {
			var input map[string]any
			if err := json.Unmarshal(msg.ToolCall.Input, &input); err != nil {
				return nil, apperr.Wrap(apperr.KindValidation, "BAD_TOOL_INPUT", "tool call input", err)
			}
			content = append(content, anthropic.NewToolUseBlock(msg.ToolCall.ID, input, msg.ToolCall.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func convertAnthropicTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.ParamSchema, &schema); err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "BAD_TOOL_SCHEMA",
				"schema for "+tool.Code, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Code)
		if param.OfTool == nil {
			return nil, apperr.New(apperr.KindValidation, "BAD_TOOL_SCHEMA",
				"missing tool definition for "+tool.Code)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		out = append(out, param)
	}
	return out, nil
}

func wrapAnthropicError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate_limit"):
		return apperr.Wrap(apperr.KindRateLimited, "PROVIDER_RATE_LIMITED", "anthropic", err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return apperr.Wrap(apperr.KindProviderTimeout, "PROVIDER_TIMEOUT", "anthropic", err)
	case strings.Contains(msg, "529") || strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "connection refused"):
		return apperr.Wrap(apperr.KindProviderUnavailable, "PROVIDER_UNAVAILABLE", "anthropic", err)
	default:
		return apperr.Wrap(apperr.KindProviderError, "PROVIDER_ERROR", "anthropic", err)
	}
}
