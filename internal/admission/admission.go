// Package admission gates user messages before any provider call:
// size, token budget, per-user rate, and a content pattern screen, in
// that order.
package admission

import (
	"context"
	"time"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/internal/counter"
	"github.com/haasonsaas/parley/internal/observability"
)

// Config bounds admitted messages.
type Config struct {
	// MaxMessageLength caps content length in characters. Default 32000.
	MaxMessageLength int

	// MaxPromptTokens caps the estimated token count. Default 16000.
	MaxPromptTokens int

	// RateLimitMax user messages are allowed per RateLimitWindow for each
	// (tenant, user) pair. Defaults 60 per 60s.
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Controller runs the ordered admission checks.
type Controller struct {
	cfg      Config
	counters counter.Store
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewController wires the admission controller, filling zero config
// fields with defaults.
func NewController(cfg Config, counters counter.Store, logger *observability.Logger, metrics *observability.Metrics) *Controller {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 32000
	}
	if cfg.MaxPromptTokens <= 0 {
		cfg.MaxPromptTokens = 16000
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 60
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Controller{cfg: cfg, counters: counters, logger: logger, metrics: metrics}
}

// Admit checks one user message. The first failing check decides the
// error; later checks do not run. A rate-limited rejection still counts
// toward the window.
func (c *Controller) Admit(ctx context.Context, tenantID, userID, content string) error {
	if len(content) > c.cfg.MaxMessageLength {
		return c.reject(ctx, "too_large", apperr.Newf(apperr.KindValidation, "MESSAGE_TOO_LARGE",
			"message of %d characters exceeds the limit of %d", len(content), c.cfg.MaxMessageLength))
	}

	if tokens := estimateTokens(content); tokens > c.cfg.MaxPromptTokens {
		return c.reject(ctx, "too_complex", apperr.Newf(apperr.KindValidation, "PROMPT_TOO_COMPLEX",
			"estimated %d tokens exceeds the prompt budget of %d", tokens, c.cfg.MaxPromptTokens))
	}

	key := counter.Key("rate", "msg", tenantID, userID)
	n, err := c.counters.Incr(ctx, key, c.cfg.RateLimitWindow)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "RATE_CHECK_FAILED", "rate limit check failed", err)
	}
	if n > int64(c.cfg.RateLimitMax) {
		return c.reject(ctx, "rate_limited", apperr.Newf(apperr.KindRateLimited, "RATE_LIMITED",
			"more than %d messages in %s", c.cfg.RateLimitMax, c.cfg.RateLimitWindow).
			WithRetryAfter(c.cfg.RateLimitWindow))
	}

	if matched, class := screen(content); matched {
		c.logger.Warn(ctx, "message failed content screen", "class", class)
		return c.reject(ctx, "unsafe", apperr.New(apperr.KindValidation, "UNSAFE_CONTENT",
			"message rejected by the content screen").
			WithDetails(map[string]any{"class": class, "echo": sanitizeEcho(content)}))
	}
	return nil
}

// ValidateSearch bounds search parameters shared by every retrieval
// endpoint.
func (c *Controller) ValidateSearch(topK, topKMax int, threshold float64) error {
	if topK < 0 || topK > topKMax {
		return apperr.Newf(apperr.KindValidation, "INVALID_TOP_K", "top_k must be between 0 and %d", topKMax)
	}
	if threshold < 0 || threshold > 1 {
		return apperr.New(apperr.KindValidation, "INVALID_THRESHOLD", "threshold must be in [0, 1]")
	}
	return nil
}

func (c *Controller) reject(ctx context.Context, reason string, err *apperr.Error) error {
	if c.metrics != nil {
		c.metrics.AdmissionRejections.WithLabelValues(reason).Inc()
	}
	c.logger.Info(ctx, "message rejected", "reason", reason, "code", err.Code)
	return err
}

// estimateTokens approximates tokens as characters divided by four.
func estimateTokens(content string) int {
	return (len(content) + 3) / 4
}
