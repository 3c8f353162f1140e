package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/pkg/models"
)

// Runner invokes one kind of tool endpoint.
type Runner interface {
	Run(ctx context.Context, def *models.ToolDefinition, params models.TypedParams) (string, error)
}

// HTTPRunner POSTs the parameter bundle as JSON to the tool endpoint
// and returns the response body.
type HTTPRunner struct {
	client *http.Client
}

// NewHTTPRunner creates a runner. A nil client gets a default with a
// 60s cap; per-call timeouts come from the request context.
func NewHTTPRunner(client *http.Client) *HTTPRunner {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPRunner{client: client}
}

const maxToolResponseBytes = 1 << 20

func (r *HTTPRunner) Run(ctx context.Context, def *models.ToolDefinition, params models.TypedParams) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, def.Endpoint, bytes.NewReader(params.JSON()))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "TOOL_REQUEST_FAILED", "could not build tool request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", context.DeadlineExceeded
		}
		return "", apperr.Wrap(apperr.KindProviderUnavailable, "TOOL_UNREACHABLE", "tool endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxToolResponseBytes))
	if err != nil {
		return "", apperr.Wrap(apperr.KindProviderError, "TOOL_RESPONSE_UNREADABLE", "could not read tool response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", apperr.Newf(apperr.KindProviderError, "TOOL_FAILED",
			"tool returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return string(body), nil
}

// ToolFunc is an in-process tool implementation.
type ToolFunc func(ctx context.Context, params models.TypedParams) (string, error)

// FuncRunner dispatches to registered in-process functions by tool
// code.
type FuncRunner struct {
	funcs map[string]ToolFunc
}

func NewFuncRunner() *FuncRunner {
	return &FuncRunner{funcs: make(map[string]ToolFunc)}
}

// Bind attaches an implementation to a tool code.
func (r *FuncRunner) Bind(code string, fn ToolFunc) {
	r.funcs[code] = fn
}

func (r *FuncRunner) Run(ctx context.Context, def *models.ToolDefinition, params models.TypedParams) (string, error) {
	fn, ok := r.funcs[def.Code]
	if !ok {
		return "", apperr.Newf(apperr.KindInternal, "TOOL_UNBOUND", "no implementation bound for tool %q", def.Code)
	}
	return fn(ctx, params)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
