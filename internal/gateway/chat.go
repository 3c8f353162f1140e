package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/internal/orchestrator"
	"github.com/haasonsaas/parley/internal/threadstore"
	"github.com/haasonsaas/parley/pkg/models"
)

type createThreadBody struct {
	TenantID       string   `json:"tenantId,omitempty"`
	UserID         string   `json:"userId,omitempty"`
	Title          string   `json:"title"`
	DefaultModel   string   `json:"defaultModel"`
	Temperature    *float64 `json:"temperature,omitempty"`
	FlowSnapshotID string   `json:"flowSnapshotId,omitempty"`
	SystemPrompt   string   `json:"systemPrompt,omitempty"`
}

func (s *Server) createThread(w http.ResponseWriter, r *http.Request) {
	rc := identity(r)
	var body createThreadBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if rc.TenantID == "" {
		rc.TenantID = body.TenantID
	}
	if rc.UserID == "" {
		rc.UserID = body.UserID
	}
	if err := requireTenant(rc); err != nil {
		writeError(w, err)
		return
	}

	thread, err := s.orch.CreateThread(r.Context(), rc, orchestrator.ThreadParams{
		Title:          body.Title,
		DefaultModel:   body.DefaultModel,
		Temperature:    body.Temperature,
		FlowSnapshotID: body.FlowSnapshotID,
		SystemPrompt:   body.SystemPrompt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, thread)
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	rc := identity(r)
	if err := requireTenant(rc); err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	page, err := positiveInt(q.Get("page"), 1)
	if err != nil {
		writeError(w, err)
		return
	}
	size, err := positiveInt(q.Get("size"), 20)
	if err != nil {
		writeError(w, err)
		return
	}

	threads, total, err := s.orch.ListThreads(r.Context(), rc, threadstore.ListOptions{
		Offset: (page - 1) * size,
		Size:   size,
		Search: q.Get("search"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"threads": threads,
		"total":   total,
		"page":    page,
		"size":    size,
	})
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	rc := identity(r)
	if err := requireTenant(rc); err != nil {
		writeError(w, err)
		return
	}
	thread, err := s.orch.GetThread(r.Context(), rc, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, thread)
}

type updateThreadBody struct {
	Title        *string  `json:"title,omitempty"`
	DefaultModel *string  `json:"defaultModel,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

func (s *Server) updateThread(w http.ResponseWriter, r *http.Request) {
	rc := identity(r)
	if err := requireTenant(rc); err != nil {
		writeError(w, err)
		return
	}
	var body updateThreadBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	thread, err := s.orch.UpdateThread(r.Context(), rc, r.PathValue("id"), orchestrator.ThreadUpdate{
		Title:        body.Title,
		DefaultModel: body.DefaultModel,
		Temperature:  body.Temperature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, thread)
}

func (s *Server) deleteThread(w http.ResponseWriter, r *http.Request) {
	rc := identity(r)
	if err := requireTenant(rc); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if err := s.orch.DeleteThread(r.Context(), rc, id); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"thread_id": id})
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	rc := identity(r)
	if err := requireTenant(rc); err != nil {
		writeError(w, err)
		return
	}
	limit, err := positiveInt(r.URL.Query().Get("limit"), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	messages, err := s.orch.ListMessages(r.Context(), rc, r.PathValue("id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"messages": messages})
}

type messageBody struct {
	Content                  string               `json:"content"`
	Model                    string               `json:"model,omitempty"`
	Temperature              *float64             `json:"temperature,omitempty"`
	MaxTokens                int                  `json:"maxTokens,omitempty"`
	EnableKnowledgeRetrieval *bool                `json:"enableKnowledgeRetrieval,omitempty"`
	EnableToolCalling        *bool                `json:"enableToolCalling,omitempty"`
	ToolInvocations          []toolInvocationBody `json:"toolInvocations,omitempty"`
	StreamMode               bool                 `json:"streamMode,omitempty"`
}

type toolInvocationBody struct {
	Code   string             `json:"code"`
	Params models.TypedParams `json:"params,omitempty"`
}

func (b *messageBody) command() *orchestrator.Command {
	cmd := &orchestrator.Command{
		Content:         b.Content,
		Model:           b.Model,
		Temperature:     b.Temperature,
		MaxTokens:       b.MaxTokens,
		EnableRetrieval: b.EnableKnowledgeRetrieval,
		EnableTools:     b.EnableToolCalling,
	}
	for _, inv := range b.ToolInvocations {
		cmd.ToolInvocations = append(cmd.ToolInvocations, orchestrator.ToolInvocation{
			Code:   inv.Code,
			Params: inv.Params,
		})
	}
	return cmd
}

// turnBody is the wire form of an assistant turn.
type turnBody struct {
	MessageID   string            `json:"message_id"`
	Content     string            `json:"content"`
	ToolCalls   []models.ToolCall `json:"tool_calls,omitempty"`
	Citations   []models.Citation `json:"citations,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	TokensIn    int               `json:"tokens_in"`
	TokensOut   int               `json:"tokens_out"`
	Model       string            `json:"model"`
	Substituted bool              `json:"substituted,omitempty"`
}

func toTurnBody(resp *orchestrator.Response) turnBody {
	return turnBody{
		MessageID:   resp.MessageID,
		Content:     resp.Content,
		ToolCalls:   resp.ToolCalls,
		Citations:   resp.Citations,
		Warnings:    resp.Warnings,
		TokensIn:    resp.TokensIn,
		TokensOut:   resp.TokensOut,
		Model:       resp.Model,
		Substituted: resp.Substituted,
	}
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	rc := identity(r)
	if err := requireTenant(rc); err != nil {
		writeError(w, err)
		return
	}
	var body messageBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	threadID := r.PathValue("id")

	if body.StreamMode {
		s.streamMessage(w, r, rc, threadID, body.command())
		return
	}
	resp, err := s.orch.SendMessage(r.Context(), rc, threadID, body.command())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, toTurnBody(resp))
}

// streamMessage delivers the turn over SSE. Headers are committed at
// the first event, so failures after that point surface as a terminal
// error event rather than an HTTP status.
func (s *Server) streamMessage(w http.ResponseWriter, r *http.Request,
	rc models.RequestContext, threadID string, cmd *orchestrator.Command) {

	sse := newSSEWriter(w)
	err := s.orch.StreamMessage(r.Context(), rc, threadID, cmd, func(ev orchestrator.Event) {
		switch ev.Type {
		case orchestrator.EventStart:
			sse.send("start", map[string]string{"thread_id": threadID})
		case orchestrator.EventStep:
			sse.send("step", map[string]string{"step": ev.Step})
		case orchestrator.EventChunk:
			sse.send("chunk", map[string]string{"delta": ev.Chunk})
		case orchestrator.EventComplete:
			sse.send("complete", toTurnBody(ev.Response))
		case orchestrator.EventError:
			sse.send("error", errorBody{
				Code:    apperr.CodeOf(ev.Err),
				Message: apperr.Sanitized(ev.Err),
			})
		}
	})
	if err != nil && !errors.Is(err, r.Context().Err()) {
		s.logger.Warn(r.Context(), "stream turn failed",
			"thread_id", threadID, "error", err)
	}
}

// operation tracks one regenerate call so retries with the same
// operation id replay the outcome instead of running again.
type operation struct {
	done chan struct{}
	resp *turnBody
	err  error
	at   time.Time
}

// claimOperation returns the entry for key and whether the caller owns
// the execution. Entries older than ten minutes are pruned.
func (s *Server) claimOperation(key string) (*operation, bool) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	for k, op := range s.ops {
		select {
		case <-op.done:
			if time.Since(op.at) > 10*time.Minute {
				delete(s.ops, k)
			}
		default:
		}
	}
	if op, ok := s.ops[key]; ok {
		return op, false
	}
	op := &operation{done: make(chan struct{}), at: time.Now()}
	s.ops[key] = op
	return op, true
}

func (s *Server) regenerateMessage(w http.ResponseWriter, r *http.Request) {
	rc := identity(r)
	if err := requireTenant(rc); err != nil {
		writeError(w, err)
		return
	}
	opID := r.Header.Get("X-Operation-ID")
	if opID == "" {
		writeError(w, apperr.New(apperr.KindValidation, "MISSING_OPERATION_ID",
			"regeneration requires an X-Operation-ID header for deduplication"))
		return
	}
	cmd := &orchestrator.Command{}
	if r.ContentLength > 0 {
		var body messageBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		cmd = body.command()
	}

	op, owner := s.claimOperation(rc.TenantID + "/" + opID)
	if !owner {
		select {
		case <-op.done:
		case <-r.Context().Done():
			writeError(w, r.Context().Err())
			return
		}
		if op.err != nil {
			writeError(w, op.err)
			return
		}
		writeData(w, http.StatusOK, *op.resp)
		return
	}

	resp, err := s.orch.Regenerate(r.Context(), rc, r.PathValue("id"), r.PathValue("messageId"), cmd)
	if err != nil {
		op.err = err
		close(op.done)
		writeError(w, err)
		return
	}
	body := toTurnBody(resp)
	op.resp = &body
	close(op.done)
	writeData(w, http.StatusOK, body)
}
