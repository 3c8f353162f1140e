package tools

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/internal/counter"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/runtime"
	"github.com/haasonsaas/parley/pkg/models"
)

// Config bounds tool execution.
type Config struct {
	// DefaultTimeout applies when neither the request nor the tool
	// definition sets one. Default 30s.
	DefaultTimeout time.Duration

	// MaxTimeout clamps every execution. Default 5m.
	MaxTimeout time.Duration

	// RateLimitMax executions are allowed per (tenant, tool) per
	// RateLimitWindow. Defaults 100 per 60s.
	RateLimitMax    int
	RateLimitWindow time.Duration

	// Workers mirrors the shared pool size; with TenantSharePercent it
	// bounds how many slots one tenant may hold. Defaults 10 and 25.
	Workers            int
	TenantSharePercent int
}

// Request is one tool execution.
type Request struct {
	ToolCode string
	TenantID string
	UserID   string
	ThreadID string
	Params   models.TypedParams

	// Timeout of zero uses the tool's default.
	Timeout time.Duration
}

// Outcome is the terminal result of an execution.
type Outcome struct {
	ToolCode  string
	Content   string
	Status    models.ToolCallStatus
	LatencyMS int64
}

// Executor runs the admission pipeline for tool calls: grant, schema,
// parameter screen, rate limit, quota, then the invocation itself on
// the shared pool.
type Executor struct {
	cfg      Config
	registry *Registry
	counters counter.Store
	callLog  CallLogRecorder
	runners  map[models.ToolKind]Runner
	pool     *runtime.Pool
	logger   *observability.Logger
	metrics  *observability.Metrics

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewExecutor wires an executor, filling zero config fields with
// defaults.
func NewExecutor(cfg Config, registry *Registry, counters counter.Store, callLog CallLogRecorder,
	runners map[models.ToolKind]Runner, pool *runtime.Pool,
	logger *observability.Logger, metrics *observability.Metrics) *Executor {

	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 5 * time.Minute
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.TenantSharePercent <= 0 || cfg.TenantSharePercent > 100 {
		cfg.TenantSharePercent = 25
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Executor{
		cfg:      cfg,
		registry: registry,
		counters: counters,
		callLog:  callLog,
		runners:  runners,
		pool:     pool,
		logger:   logger,
		metrics:  metrics,
		slots:    make(map[string]chan struct{}),
	}
}

// Execute runs one tool call. A call log row is written for every
// outcome, including rejections.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	started := time.Now()

	def, schema, err := e.registry.Get(req.ToolCode)
	if err != nil {
		e.record(ctx, req, models.ToolCallRejected, started, err)
		return nil, err
	}

	grant := e.registry.GrantFor(req.TenantID, req.ToolCode)
	if grant == nil {
		err = apperr.Newf(apperr.KindForbidden, "NOT_AUTHORIZED",
			"tenant is not authorized for tool %q", req.ToolCode)
		e.record(ctx, req, models.ToolCallRejected, started, err)
		return nil, err
	}

	if verr := schema.Validate(map[string]any(req.Params)); verr != nil {
		err = apperr.Wrap(apperr.KindValidation, "INVALID_PARAMETERS",
			"parameters do not match the tool schema", verr)
		e.record(ctx, req, models.ToolCallRejected, started, err)
		return nil, err
	}

	if hit := scanParams(req.Params.Strings()); hit != "" {
		err = apperr.New(apperr.KindValidation, "DANGEROUS_PARAMETER",
			"a parameter value failed the security screen")
		e.logger.Warn(ctx, "dangerous tool parameter rejected", "tool", req.ToolCode)
		e.record(ctx, req, models.ToolCallRejected, started, err)
		return nil, err
	}

	rateKey := counter.Key("rate", "tool", req.TenantID, req.ToolCode)
	n, cerr := e.counters.Incr(ctx, rateKey, e.cfg.RateLimitWindow)
	if cerr != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "RATE_CHECK_FAILED", "rate limit check failed", cerr)
	}
	if n > int64(e.cfg.RateLimitMax) {
		err = apperr.Newf(apperr.KindRateLimited, "RATE_LIMITED",
			"more than %d executions of %q in %s", e.cfg.RateLimitMax, req.ToolCode, e.cfg.RateLimitWindow).
			WithRetryAfter(e.cfg.RateLimitWindow)
		e.record(ctx, req, models.ToolCallRejected, started, err)
		return nil, err
	}

	// Increment-then-check keeps the quota race-free under concurrent
	// calls; failures roll the reservation back.
	quotaKey := counter.Key("quota", "tool", req.TenantID, req.ToolCode)
	if grant.QuotaLimit > 0 {
		used, qerr := e.counters.AddQuota(ctx, quotaKey, 1)
		if qerr != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "QUOTA_CHECK_FAILED", "quota check failed", qerr)
		}
		if grant.QuotaUsed+used > grant.QuotaLimit {
			_, _ = e.counters.AddQuota(ctx, quotaKey, -1)
			err = apperr.Newf(apperr.KindQuotaExceeded, "QUOTA_EXCEEDED",
				"quota exhausted for tool %q", req.ToolCode)
			e.record(ctx, req, models.ToolCallRejected, started, err)
			return nil, err
		}
	}

	content, err := e.invoke(ctx, def, req)
	latency := time.Since(started)

	switch {
	case err == nil:
		e.record(ctx, req, models.ToolCallSuccess, started, nil)
		e.observe(req.ToolCode, "success", latency)
		return &Outcome{
			ToolCode:  req.ToolCode,
			Content:   content,
			Status:    models.ToolCallSuccess,
			LatencyMS: latency.Milliseconds(),
		}, nil
	case errors.Is(err, context.DeadlineExceeded):
		if grant.QuotaLimit > 0 {
			_, _ = e.counters.AddQuota(ctx, quotaKey, -1)
		}
		err = apperr.Newf(apperr.KindProviderTimeout, "TOOL_TIMEOUT",
			"tool %q did not finish in time", req.ToolCode)
		e.record(ctx, req, models.ToolCallTimeout, started, err)
		e.observe(req.ToolCode, "timeout", latency)
		return nil, err
	default:
		if grant.QuotaLimit > 0 {
			_, _ = e.counters.AddQuota(ctx, quotaKey, -1)
		}
		e.record(ctx, req, models.ToolCallFailed, started, err)
		e.observe(req.ToolCode, "failed", latency)
		return nil, err
	}
}

// invoke runs the tool on the shared pool under its timeout, holding a
// per-tenant slot so one tenant cannot monopolize the workers.
func (e *Executor) invoke(ctx context.Context, def *models.ToolDefinition, req Request) (string, error) {
	runner, ok := e.runners[def.Kind]
	if !ok {
		return "", apperr.Newf(apperr.KindInternal, "NO_RUNNER", "no runner for tool kind %q", def.Kind)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = def.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	if timeout > e.cfg.MaxTimeout {
		timeout = e.cfg.MaxTimeout
	}

	slot := e.tenantSlot(req.TenantID)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-slot }()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		content string
		err     error
	}
	resultCh := make(chan result, 1)
	submit := func() {
		content, err := runner.Run(runCtx, def, req.Params)
		resultCh <- result{content, err}
	}
	if e.pool != nil {
		if err := e.pool.Submit(runCtx, submit); err != nil {
			return "", err
		}
	} else {
		go submit()
	}

	select {
	case res := <-resultCh:
		if res.err != nil && runCtx.Err() != nil {
			return "", context.DeadlineExceeded
		}
		return res.content, res.err
	case <-runCtx.Done():
		return "", runCtx.Err()
	}
}

// tenantSlot returns the tenant's semaphore, sized to its fair share of
// the pool.
func (e *Executor) tenantSlot(tenantID string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	slot, ok := e.slots[tenantID]
	if !ok {
		share := e.cfg.Workers * e.cfg.TenantSharePercent / 100
		if share < 1 {
			share = 1
		}
		slot = make(chan struct{}, share)
		e.slots[tenantID] = slot
	}
	return slot
}

func (e *Executor) record(ctx context.Context, req Request, status models.ToolCallStatus, started time.Time, cause error) {
	if e.callLog == nil {
		return
	}
	entry := &models.ToolCallLog{
		ID:         uuid.NewString(),
		TenantID:   req.TenantID,
		UserID:     req.UserID,
		ThreadID:   req.ThreadID,
		ToolCode:   req.ToolCode,
		ParamsHash: models.HashContent(string(req.Params.JSON())),
		Status:     status,
		LatencyMS:  time.Since(started).Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if cause != nil {
		entry.Error = apperr.CodeOf(cause)
	}
	if err := e.callLog.Record(ctx, entry); err != nil {
		e.logger.Error(ctx, "could not write tool call log", "tool", req.ToolCode, "error", err)
	}
}

func (e *Executor) observe(tool, status string, latency time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.ToolExecutions.WithLabelValues(tool, status).Inc()
	e.metrics.ToolExecutionDuration.WithLabelValues(tool).Observe(latency.Seconds())
}
