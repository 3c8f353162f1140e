// Package orchestrator runs message turns: it admits the user message,
// gathers knowledge and tool context in parallel, calls the completion
// router, and persists the assistant turn atomically.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/parley/internal/admission"
	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/internal/completion"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/retrieval"
	"github.com/haasonsaas/parley/internal/router"
	"github.com/haasonsaas/parley/internal/runtime"
	"github.com/haasonsaas/parley/internal/threadstore"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/pkg/models"
)

// ModelPricing is dollars per thousand tokens for one model.
type ModelPricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// Config bounds a message turn.
type Config struct {
	// HistoryLimit is how many recent messages feed the provider.
	// Default 20.
	HistoryLimit int

	// Subtask deadlines. A subtask that misses its deadline degrades to
	// a warning; the turn still generates. Defaults 5s, 30s, 5m.
	RetrieveTimeout time.Duration
	ToolsTimeout    time.Duration
	FlowTimeout     time.Duration

	// RetrieveTopK hits feed the knowledge context. Default 5.
	RetrieveTopK int

	// VectorWeight is the hybrid retrieval weight. Default 0.7.
	VectorWeight float64

	// SystemPrompt is prepended to every assembled system message.
	SystemPrompt string

	// Pricing maps model codes to token pricing for usage records.
	// Unknown models record zero cost.
	Pricing map[string]ModelPricing
}

// FlowResolver renders an immutable workflow snapshot into prompt
// context.
type FlowResolver interface {
	Resolve(ctx context.Context, snapshotID string) (string, error)
}

// ToolInvocation is one explicit tool call requested with a message.
type ToolInvocation struct {
	Code   string
	Params models.TypedParams
}

// Command is the caller's input for one message turn. Pointer fields
// override the thread default only when set.
type Command struct {
	Content     string
	Model       string
	Temperature *float64
	MaxTokens   int

	// EnableRetrieval and EnableTools force the subtask decision; when
	// nil the content heuristics decide.
	EnableRetrieval *bool
	EnableTools     *bool

	ToolInvocations []ToolInvocation
}

// Response is the terminal result of a turn.
type Response struct {
	MessageID string
	Content   string
	ToolCalls []models.ToolCall
	Citations []models.Citation

	// Warnings record subtasks that degraded instead of failing the turn.
	Warnings []string

	TokensIn    int
	TokensOut   int
	Model       string
	Substituted bool
}

// EventType tags streamed turn events.
type EventType string

const (
	EventStart    EventType = "start"
	EventStep     EventType = "step"
	EventChunk    EventType = "chunk"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one streamed turn update. A stream is start, then step and
// chunk events, then exactly one of complete or error.
type Event struct {
	Type     EventType
	Step     string
	Chunk    string
	Response *Response
	Err      error
}

// EventSink receives stream events in order.
type EventSink func(Event)

// Orchestrator coordinates one tenant-scoped conversation turn across
// the stores, the admission controller, and the provider router.
type Orchestrator struct {
	cfg       Config
	threads   threadstore.Store
	admitter  *admission.Controller
	retriever *retrieval.Service
	executor  *tools.Executor
	flows     FlowResolver
	router    *router.Router
	subtasks  *runtime.Pool
	locks     *locker
	logger    *observability.Logger
	metrics   *observability.Metrics

	now func() time.Time
}

// New wires an orchestrator, filling zero config fields with defaults.
// retriever, executor, and flows may be nil; the matching subtask then
// degrades to a warning when selected. subtasks bounds the parallel
// subtask fan-out; nil falls back to unpooled goroutines.
func New(cfg Config, threads threadstore.Store, admitter *admission.Controller,
	retriever *retrieval.Service, executor *tools.Executor, flows FlowResolver,
	rt *router.Router, subtasks *runtime.Pool,
	logger *observability.Logger, metrics *observability.Metrics) *Orchestrator {

	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.RetrieveTimeout <= 0 {
		cfg.RetrieveTimeout = 5 * time.Second
	}
	if cfg.ToolsTimeout <= 0 {
		cfg.ToolsTimeout = 30 * time.Second
	}
	if cfg.FlowTimeout <= 0 {
		cfg.FlowTimeout = 5 * time.Minute
	}
	if cfg.RetrieveTopK <= 0 {
		cfg.RetrieveTopK = 5
	}
	if cfg.VectorWeight <= 0 || cfg.VectorWeight > 1 {
		cfg.VectorWeight = 0.7
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Orchestrator{
		cfg:       cfg,
		threads:   threads,
		admitter:  admitter,
		retriever: retriever,
		executor:  executor,
		flows:     flows,
		router:    rt,
		subtasks:  subtasks,
		locks:     newLocker(),
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// ThreadParams creates a thread.
type ThreadParams struct {
	Title          string
	DefaultModel   string
	Temperature    *float64
	FlowSnapshotID string
	SystemPrompt   string
}

// ThreadUpdate patches a thread; nil fields are left alone.
type ThreadUpdate struct {
	Title        *string
	DefaultModel *string
	Temperature  *float64
}

// CreateThread validates the parameters and persists a new thread. The
// default model must resolve to a registered provider without
// substitution.
func (o *Orchestrator) CreateThread(ctx context.Context, rc models.RequestContext, p ThreadParams) (*models.Thread, error) {
	if p.Title == "" {
		return nil, apperr.New(apperr.KindValidation, "MISSING_TITLE", "thread title is required")
	}
	if err := o.checkModel(ctx, p.DefaultModel); err != nil {
		return nil, err
	}
	temperature := 0.7
	if p.Temperature != nil {
		temperature = *p.Temperature
	}
	if err := checkTemperature(temperature); err != nil {
		return nil, err
	}

	thread := &models.Thread{
		ID:             uuid.NewString(),
		TenantID:       rc.TenantID,
		UserID:         rc.UserID,
		Title:          p.Title,
		DefaultModel:   p.DefaultModel,
		Temperature:    temperature,
		FlowSnapshotID: p.FlowSnapshotID,
		SystemPrompt:   p.SystemPrompt,
	}
	if err := o.threads.SaveThread(ctx, thread); err != nil {
		return nil, err
	}
	o.logger.Info(ctx, "thread created", "thread_id", thread.ID, "tenant_id", rc.TenantID)
	return thread, nil
}

// GetThread returns one live thread for the tenant.
func (o *Orchestrator) GetThread(ctx context.Context, rc models.RequestContext, threadID string) (*models.Thread, error) {
	return o.threads.GetThread(ctx, rc.TenantID, threadID)
}

// ListThreads pages the caller's threads, newest activity first.
func (o *Orchestrator) ListThreads(ctx context.Context, rc models.RequestContext, opts threadstore.ListOptions) ([]*models.Thread, int, error) {
	return o.threads.ListThreads(ctx, rc.TenantID, rc.UserID, opts)
}

// UpdateThread applies a patch to a live thread.
func (o *Orchestrator) UpdateThread(ctx context.Context, rc models.RequestContext, threadID string, u ThreadUpdate) (*models.Thread, error) {
	thread, err := o.threads.GetThread(ctx, rc.TenantID, threadID)
	if err != nil {
		return nil, err
	}
	if u.Title != nil {
		if *u.Title == "" {
			return nil, apperr.New(apperr.KindValidation, "MISSING_TITLE", "thread title is required")
		}
		thread.Title = *u.Title
	}
	if u.DefaultModel != nil {
		if err := o.checkModel(ctx, *u.DefaultModel); err != nil {
			return nil, err
		}
		thread.DefaultModel = *u.DefaultModel
	}
	if u.Temperature != nil {
		if err := checkTemperature(*u.Temperature); err != nil {
			return nil, err
		}
		thread.Temperature = *u.Temperature
	}
	if err := o.threads.SaveThread(ctx, thread); err != nil {
		return nil, err
	}
	return thread, nil
}

// DeleteThread soft-deletes a thread. History stays for audit but the
// thread disappears from every read path.
func (o *Orchestrator) DeleteThread(ctx context.Context, rc models.RequestContext, threadID string) error {
	return o.threads.SoftDeleteThread(ctx, rc.TenantID, threadID)
}

// ListMessages returns the thread's messages oldest first.
func (o *Orchestrator) ListMessages(ctx context.Context, rc models.RequestContext, threadID string, limit int) ([]*models.Message, error) {
	if _, err := o.threads.GetThread(ctx, rc.TenantID, threadID); err != nil {
		return nil, err
	}
	return o.threads.ListMessagesByThread(ctx, threadID, limit)
}

// SendMessage runs one synchronous turn and returns the assistant
// response.
func (o *Orchestrator) SendMessage(ctx context.Context, rc models.RequestContext, threadID string, cmd *Command) (*Response, error) {
	resp, err := o.turn(ctx, rc, threadID, cmd, nil)
	o.observeTurn("sync", err)
	return resp, err
}

// StreamMessage runs one turn, delivering progress through sink. The
// sink sees start, step, and chunk events, then exactly one complete or
// error; no chunk follows the terminal event.
func (o *Orchestrator) StreamMessage(ctx context.Context, rc models.RequestContext, threadID string, cmd *Command, sink EventSink) error {
	sink(Event{Type: EventStart})
	resp, err := o.turn(ctx, rc, threadID, cmd, sink)
	o.observeTurn("stream", err)
	if err != nil {
		sink(Event{Type: EventError, Err: err})
		return err
	}
	sink(Event{Type: EventComplete, Response: resp})
	return nil
}

// Regenerate discards the assistant turns after the chosen user message
// and produces a fresh one from it; interleaved user messages stay. The
// user message is not re-admitted; it already passed once. Regeneration
// never streams.
func (o *Orchestrator) Regenerate(ctx context.Context, rc models.RequestContext, threadID, messageID string, cmd *Command) (*Response, error) {
	resp, err := o.regenerate(ctx, rc, threadID, messageID, cmd)
	o.observeTurn("regenerate", err)
	return resp, err
}

func (o *Orchestrator) regenerate(ctx context.Context, rc models.RequestContext, threadID, messageID string, cmd *Command) (*Response, error) {
	thread, err := o.threads.GetThread(ctx, rc.TenantID, threadID)
	if err != nil {
		return nil, err
	}
	anchor, err := o.threads.GetMessage(ctx, threadID, messageID)
	if err != nil {
		return nil, err
	}
	if anchor.Role != models.RoleUser {
		return nil, apperr.New(apperr.KindValidation, "NOT_A_USER_MESSAGE",
			"regeneration anchors on a user message")
	}
	if cmd == nil {
		cmd = &Command{}
	}

	unlock := o.locks.lock(thread.ID)
	defer unlock()

	if err := o.threads.DeleteMessagesAfter(ctx, threadID, messageID); err != nil {
		return nil, err
	}
	return o.generate(ctx, rc, thread, anchor.Content, cmd, nil)
}

// turn runs steps admission through persistence for a new user message.
// emit may be nil for the synchronous path.
func (o *Orchestrator) turn(ctx context.Context, rc models.RequestContext, threadID string, cmd *Command, emit EventSink) (*Response, error) {
	if cmd == nil || cmd.Content == "" {
		return nil, apperr.New(apperr.KindValidation, "EMPTY_MESSAGE", "message content is required")
	}
	thread, err := o.threads.GetThread(ctx, rc.TenantID, threadID)
	if err != nil {
		return nil, err
	}
	if err := o.admitter.Admit(ctx, rc.TenantID, rc.UserID, cmd.Content); err != nil {
		return nil, err
	}

	// The lock spans user persistence through assistant persistence so
	// concurrent turns on one thread cannot interleave history.
	unlock := o.locks.lock(thread.ID)
	defer unlock()

	userMsg := &models.Message{
		ID:       uuid.NewString(),
		ThreadID: thread.ID,
		Role:     models.RoleUser,
		Content:  cmd.Content,
	}
	if err := o.threads.SaveMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	return o.generate(ctx, rc, thread, cmd.Content, cmd, emit)
}

// generate runs the subtasks, the provider call, and assistant
// persistence. The caller holds the thread lock. A canceled context
// before persistence leaves the user message in place and writes no
// assistant row.
func (o *Orchestrator) generate(ctx context.Context, rc models.RequestContext, thread *models.Thread,
	content string, cmd *Command, emit EventSink) (*Response, error) {

	strat := selectStrategy(cmd, content, thread.FlowSnapshotID)

	var (
		mu          sync.Mutex
		warnings    []string
		hits        []models.Hit
		toolResults []models.ToolOutcome
		flowContext string
	)
	warn := func(msg string) {
		mu.Lock()
		warnings = append(warnings, msg)
		mu.Unlock()
	}

	// Subtasks go through the shared pool so total fan-out stays bounded
	// across concurrent turns. A rejected submit runs unpooled rather
	// than dropping the subtask.
	var wg sync.WaitGroup
	launch := func(task func()) {
		wg.Add(1)
		run := func() { defer wg.Done(); task() }
		if o.subtasks != nil && o.subtasks.Submit(ctx, run) == nil {
			return
		}
		go run()
	}
	if strat.retrieve {
		o.emitStep(emit, "retrieval")
		launch(func() { hits = o.runRetrieval(ctx, rc.TenantID, content, warn) })
	}
	if strat.tools && len(cmd.ToolInvocations) > 0 {
		o.emitStep(emit, "tools")
		launch(func() { toolResults = o.runTools(ctx, rc, thread.ID, cmd.ToolInvocations, warn) })
	}
	if strat.flow {
		launch(func() { flowContext = o.runFlow(ctx, thread.FlowSnapshotID, warn) })
	}
	wg.Wait()

	// Client gone: the user message stays, no assistant turn is billed.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	history, err := o.threads.ListMessagesByThread(ctx, thread.ID, o.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}

	req := &completion.Request{
		Model:            cmd.Model,
		System:           o.buildSystem(thread, flowContext),
		Messages:         toCompletionMessages(history),
		MaxTokens:        cmd.MaxTokens,
		Temperature:      thread.Temperature,
		KnowledgeContext: knowledgePassages(hits),
		ToolResults:      toolResults,
	}
	if req.Model == "" {
		req.Model = thread.DefaultModel
	}
	if cmd.Temperature != nil {
		req.Temperature = *cmd.Temperature
	}

	o.emitStep(emit, "generating")
	genStart := o.now()
	result, sel, err := o.complete(ctx, req, emit)
	if err != nil {
		return nil, err
	}
	latency := o.now().Sub(genStart)
	if result.LatencyMS == 0 {
		result.LatencyMS = latency.Milliseconds()
	}
	o.observeProvider(sel, result, latency)

	assistant := &models.Message{
		ID:        uuid.NewString(),
		ThreadID:  thread.ID,
		Role:      models.RoleAssistant,
		Content:   result.Text,
		TokensIn:  result.TokensIn,
		TokensOut: result.TokensOut,
		LatencyMS: latency.Milliseconds(),
	}
	if len(result.ToolCalls) > 0 {
		assistant.ToolCall = &result.ToolCalls[0]
	}

	citations := make([]models.Citation, 0, len(hits))
	for _, h := range hits {
		citations = append(citations, models.Citation{
			MessageID: assistant.ID,
			ChunkID:   h.ChunkID,
			Score:     h.Score,
			ModelCode: o.retriever.ModelCode(),
		})
	}
	usage := o.usageFor(rc.TenantID, resultModel(result, sel), result)
	result.Cost = usage.Cost

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := o.threads.SaveAssistantTurn(ctx, assistant, citations, usage); err != nil {
		return nil, err
	}

	return &Response{
		MessageID:   assistant.ID,
		Content:     result.Text,
		ToolCalls:   result.ToolCalls,
		Citations:   citations,
		Warnings:    warnings,
		TokensIn:    result.TokensIn,
		TokensOut:   result.TokensOut,
		Model:       resultModel(result, sel),
		Substituted: sel.Substituted,
	}, nil
}

// runRetrieval gathers knowledge context; any failure, including the
// deadline, downgrades to a warning with empty results.
func (o *Orchestrator) runRetrieval(ctx context.Context, tenantID, query string, warn func(string)) []models.Hit {
	if o.retriever == nil {
		warn("knowledge retrieval is not configured")
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, o.cfg.RetrieveTimeout)
	defer cancel()

	hits, err := o.retriever.Retrieve(rctx, retrieval.Request{
		TenantID:     tenantID,
		Query:        query,
		Mode:         models.SearchHybrid,
		TopK:         o.cfg.RetrieveTopK,
		VectorWeight: o.cfg.VectorWeight,
		IncludeText:  true,
	})
	if err != nil {
		o.logger.Warn(ctx, "retrieval subtask degraded", "error", err)
		warn("knowledge retrieval unavailable")
		return nil
	}
	return hits
}

// runTools executes the explicit invocations in order under the shared
// tools deadline. A failed invocation becomes an error entry and a
// warning; later invocations still run.
func (o *Orchestrator) runTools(ctx context.Context, rc models.RequestContext, threadID string,
	invocations []ToolInvocation, warn func(string)) []models.ToolOutcome {

	if o.executor == nil {
		warn("tool execution is not configured")
		return nil
	}
	tctx, cancel := context.WithTimeout(ctx, o.cfg.ToolsTimeout)
	defer cancel()

	results := make([]models.ToolOutcome, 0, len(invocations))
	for _, inv := range invocations {
		out, err := o.executor.Execute(tctx, tools.Request{
			ToolCode: inv.Code,
			TenantID: rc.TenantID,
			UserID:   rc.UserID,
			ThreadID: threadID,
			Params:   inv.Params,
		})
		if err != nil {
			o.logger.Warn(ctx, "tool subtask degraded", "tool", inv.Code, "error", err)
			warn(fmt.Sprintf("tool %s failed", inv.Code))
			results = append(results, models.ToolOutcome{ToolCode: inv.Code, Content: apperr.Sanitized(err), IsError: true})
			continue
		}
		results = append(results, models.ToolOutcome{ToolCode: inv.Code, Content: out.Content, LatencyMS: out.LatencyMS})
	}
	return results
}

func (o *Orchestrator) runFlow(ctx context.Context, snapshotID string, warn func(string)) string {
	if o.flows == nil {
		warn("flow snapshot set but no flow engine is configured")
		return ""
	}
	fctx, cancel := context.WithTimeout(ctx, o.cfg.FlowTimeout)
	defer cancel()

	rendered, err := o.flows.Resolve(fctx, snapshotID)
	if err != nil {
		o.logger.Warn(ctx, "flow subtask degraded", "snapshot_id", snapshotID, "error", err)
		warn("workflow context unavailable")
		return ""
	}
	return rendered
}

// complete dispatches to the router, streaming when a sink is attached.
func (o *Orchestrator) complete(ctx context.Context, req *completion.Request, emit EventSink) (*completion.Result, *router.Selection, error) {
	if emit == nil {
		return o.router.Complete(ctx, req)
	}
	sink := &streamSink{emit: emit}
	sel, err := o.router.StreamComplete(ctx, req, sink)
	if err != nil {
		return nil, nil, err
	}
	if sink.result == nil {
		return nil, nil, apperr.New(apperr.KindProviderError, "EMPTY_STREAM", "provider stream ended without a result")
	}
	return sink.result, sel, nil
}

// buildSystem assembles the base system prompt. A thread-level prompt
// overrides the configured default. Knowledge passages and tool results
// travel as structured request fields, not prompt text; each provider
// adapter decides how to render them.
func (o *Orchestrator) buildSystem(thread *models.Thread, flowContext string) string {
	var b strings.Builder
	if thread.SystemPrompt != "" {
		b.WriteString(thread.SystemPrompt)
	} else {
		b.WriteString(o.cfg.SystemPrompt)
	}
	if flowContext != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Active workflow:\n")
		b.WriteString(flowContext)
	}
	return b.String()
}

// knowledgePassages projects hits onto the ordered context the provider
// contract carries.
func knowledgePassages(hits []models.Hit) []string {
	if len(hits) == 0 {
		return nil
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Text
	}
	return out
}

func (o *Orchestrator) usageFor(tenantID, model string, result *completion.Result) *models.UsageRecord {
	usage := &models.UsageRecord{
		TenantID:  tenantID,
		ModelCode: model,
		Day:       o.now(),
		TokensIn:  int64(result.TokensIn),
		TokensOut: int64(result.TokensOut),
	}
	if p, ok := o.cfg.Pricing[model]; ok {
		usage.Cost = float64(result.TokensIn)/1000*p.PromptPer1K +
			float64(result.TokensOut)/1000*p.CompletionPer1K
	}
	return usage
}

func (o *Orchestrator) observeProvider(sel *router.Selection, result *completion.Result, latency time.Duration) {
	if o.metrics == nil {
		return
	}
	provider := sel.Provider.Name()
	model := resultModel(result, sel)
	o.metrics.ProviderRequestDuration.WithLabelValues(provider, model).Observe(latency.Seconds())
	o.metrics.ProviderTokens.WithLabelValues(provider, model, "prompt").Add(float64(result.TokensIn))
	o.metrics.ProviderTokens.WithLabelValues(provider, model, "completion").Add(float64(result.TokensOut))
}

func (o *Orchestrator) observeTurn(mode string, err error) {
	if o.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	o.metrics.MessageTurns.WithLabelValues(mode, status).Inc()
}

func (o *Orchestrator) emitStep(emit EventSink, step string) {
	if emit != nil {
		emit(Event{Type: EventStep, Step: step})
	}
}

// checkModel rejects model names no registered provider serves.
// Resolution that falls back to substitution means the name is unknown.
func (o *Orchestrator) checkModel(ctx context.Context, model string) error {
	if model == "" {
		return apperr.New(apperr.KindValidation, "MISSING_MODEL", "a default model is required")
	}
	sel, err := o.router.Resolve(ctx, model)
	if err != nil {
		return err
	}
	if sel.Substituted {
		return apperr.Newf(apperr.KindValidation, "UNKNOWN_MODEL", "no provider serves model %q", model)
	}
	return nil
}

func checkTemperature(t float64) error {
	if t < 0 || t > 2 {
		return apperr.New(apperr.KindValidation, "INVALID_TEMPERATURE", "temperature must be in [0, 2]")
	}
	return nil
}

// toCompletionMessages maps stored history onto the provider contract.
// System rows stay out; the assembled system prompt carries that role.
func toCompletionMessages(history []*models.Message) []completion.Message {
	out := make([]completion.Message, 0, len(history))
	for _, m := range history {
		if m.Role == models.RoleSystem {
			continue
		}
		out = append(out, completion.Message{
			Role:     m.Role,
			Content:  m.Content,
			ToolCall: m.ToolCall,
		})
	}
	return out
}

func resultModel(result *completion.Result, sel *router.Selection) string {
	if result.Model != "" {
		return result.Model
	}
	return sel.Model
}

// streamSink forwards chunks to the event sink and captures the final
// result. Router failover guarantees no chunk is replayed.
type streamSink struct {
	emit   EventSink
	result *completion.Result
}

func (s *streamSink) OnChunk(text string) {
	s.emit(Event{Type: EventChunk, Chunk: text})
}

func (s *streamSink) OnComplete(result *completion.Result) {
	s.result = result
}

func (s *streamSink) OnError(error) {}
