package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/parley/internal/admission"
	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/internal/completion"
	"github.com/haasonsaas/parley/internal/counter"
	"github.com/haasonsaas/parley/internal/docstore"
	"github.com/haasonsaas/parley/internal/embedding"
	"github.com/haasonsaas/parley/internal/ingest"
	"github.com/haasonsaas/parley/internal/orchestrator"
	"github.com/haasonsaas/parley/internal/retrieval"
	"github.com/haasonsaas/parley/internal/router"
	"github.com/haasonsaas/parley/internal/threadstore"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/internal/vectorindex"
	"github.com/haasonsaas/parley/pkg/models"
)

const weatherSchema = `{
	"type": "object",
	"required": ["city"],
	"properties": {"city": {"type": "string"}},
	"additionalProperties": false
}`

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *errorBody      `json:"error"`
}

type webFixture struct {
	handler  http.Handler
	provider *completion.StubProvider
}

func newWebFixture(t *testing.T, admit admission.Config) *webFixture {
	t.Helper()

	provider := completion.NewStubProvider("stub answer")
	rt := router.New(router.Config{}, nil, nil)
	rt.Register(provider, nil, 1)

	docs := docstore.NewMemoryStore()
	index := vectorindex.NewMemoryIndex()
	embedder := embedding.NewLocalProvider(64)
	pipeline := ingest.NewPipeline(ingest.Config{}, docs, index, embedder, nil, nil, nil)
	retriever := retrieval.NewService(retrieval.Config{}, docs, index, embedder, nil, nil)

	registry := tools.NewRegistry()
	if err := registry.Register(&models.ToolDefinition{
		Code:        "weather",
		Name:        "Weather",
		Kind:        models.ToolKindFunc,
		ParamSchema: json.RawMessage(weatherSchema),
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	registry.Grant(&models.ToolGrant{TenantID: "t1", ToolCode: "weather"})
	funcs := tools.NewFuncRunner()
	funcs.Bind("weather", func(_ context.Context, p models.TypedParams) (string, error) {
		city, _ := p.String("city")
		return "sunny in " + city, nil
	})
	executor := tools.NewExecutor(tools.Config{}, registry, counter.NewMemoryStore(), nil,
		map[models.ToolKind]tools.Runner{models.ToolKindFunc: funcs}, nil, nil, nil)

	admitter := admission.NewController(admit, counter.NewMemoryStore(), nil, nil)
	orch := orchestrator.New(orchestrator.Config{}, threadstore.NewMemoryStore(),
		admitter, retriever, executor, nil, rt, nil, nil, nil)

	server := NewServer(orch, pipeline, docs, retriever, executor, nil, nil)
	return &webFixture{handler: server.Handler(), provider: provider}
}

func (f *webFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Tenant-ID", "t1")
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, rec.Body.String())
	}
	return env
}

func (f *webFixture) createThread(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/chat/threads", map[string]any{
		"title":        "Chat",
		"defaultModel": "stub-model",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create thread: %d %s", rec.Code, rec.Body.String())
	}
	var thread models.Thread
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &thread); err != nil {
		t.Fatalf("decode thread: %v", err)
	}
	return thread.ID
}

func TestMissingTenantRejected(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/threads",
		strings.NewReader(`{"title":"Chat","defaultModel":"stub-model"}`))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Success || env.Error == nil || env.Error.Code != "MISSING_TENANT" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestTenantFromBodyIsAccepted(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/threads",
		strings.NewReader(`{"tenantId":"t1","userId":"u1","title":"Chat","defaultModel":"stub-model"}`))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestDocumentUploadAndDuplicate(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	body := map[string]any{
		"title":   "Postgres Guide",
		"content": "Connection pooling keeps postgres happy under load.",
	}
	rec := f.do(t, http.MethodPost, "/api/v1/kb/documents", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var doc models.Document
	if err := json.Unmarshal(env.Data, &doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc.ID == "" || doc.TenantID != "t1" {
		t.Errorf("document = %+v", doc)
	}

	body["title"] = "Another Title"
	rec = f.do(t, http.MethodPost, "/api/v1/kb/documents", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate upload: %d", rec.Code)
	}
	env = decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "DUPLICATE_CONTENT" {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestListDocumentsPagination(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	rec := f.do(t, http.MethodGet, "/api/v1/kb/documents?page=zero", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad page: %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != "INVALID_PAGINATION" {
		t.Errorf("error = %+v", env.Error)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/kb/documents?page=1&size=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSearchThresholdOutOfRange(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	rec := f.do(t, http.MethodPost, "/api/v1/kb/search/vector", map[string]any{
		"query":     "pooling",
		"topK":      5,
		"threshold": 1.5,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != "INVALID_THRESHOLD" {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestHybridSearchFindsUploadedDocument(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	rec := f.do(t, http.MethodPost, "/api/v1/kb/documents", map[string]any{
		"title":   "Postgres Guide",
		"content": "Connection pooling keeps postgres responsive under heavy load.",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/v1/kb/search/hybrid", map[string]any{
		"query":        "connection pooling",
		"topK":         5,
		"vectorWeight": 0.7,
		"includeText":  true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("search: %d %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var data struct {
		Hits  []models.Hit `json:"hits"`
		Count int          `json:"count"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode hits: %v", err)
	}
	if data.Count == 0 {
		t.Fatal("no hits for uploaded document")
	}
	if data.Hits[0].Text == "" {
		t.Error("includeText did not populate chunk text")
	}
}

func TestCreateThreadValidationStatus(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	rec := f.do(t, http.MethodPost, "/api/v1/chat/threads", map[string]any{
		"defaultModel": "stub-model",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != "MISSING_TITLE" {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestCreateThreadWithSystemPrompt(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	rec := f.do(t, http.MethodPost, "/api/v1/chat/threads", map[string]any{
		"title":        "Support",
		"defaultModel": "stub-model",
		"systemPrompt": "Answer only billing questions.",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var thread struct {
		SystemPrompt string `json:"system_prompt"`
	}
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &thread); err != nil {
		t.Fatal(err)
	}
	if thread.SystemPrompt != "Answer only billing questions." {
		t.Errorf("system_prompt = %q", thread.SystemPrompt)
	}
}

func TestThreadNotFound(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	rec := f.do(t, http.MethodGet, "/api/v1/chat/threads/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != "THREAD_NOT_FOUND" {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	rec := f.do(t, http.MethodPost, "/api/v1/chat/threads", map[string]any{
		"title":        "Chat",
		"defaultModel": "stub-model",
		"bogus":        true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != "MALFORMED_BODY" {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestSendMessageReturnsTurn(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	threadID := f.createThread(t)

	rec := f.do(t, http.MethodPost, "/api/v1/chat/threads/"+threadID+"/messages", map[string]any{
		"content": "hello there",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("send: %d %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var turn turnBody
	if err := json.Unmarshal(env.Data, &turn); err != nil {
		t.Fatalf("decode turn: %v", err)
	}
	if turn.Content != "stub answer" || turn.MessageID == "" {
		t.Errorf("turn = %+v", turn)
	}
	if turn.TokensIn != 10 || turn.TokensOut != 5 {
		t.Errorf("tokens = %d/%d", turn.TokensIn, turn.TokensOut)
	}
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	f := newWebFixture(t, admission.Config{RateLimitMax: 1})
	threadID := f.createThread(t)
	body := map[string]any{"content": "hello"}

	if rec := f.do(t, http.MethodPost, "/api/v1/chat/threads/"+threadID+"/messages", body); rec.Code != http.StatusOK {
		t.Fatalf("first message: %d %s", rec.Code, rec.Body.String())
	}
	rec := f.do(t, http.MethodPost, "/api/v1/chat/threads/"+threadID+"/messages", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second message: %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != "RATE_LIMITED" {
		t.Errorf("error = %+v", env.Error)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			if name, ok := strings.CutPrefix(line, "event: "); ok {
				ev.name = name
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				ev.data = data
			}
		}
		if ev.name == "" {
			t.Fatalf("unnamed event block %q", block)
		}
		events = append(events, ev)
	}
	return events
}

func TestStreamEventSequence(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	f.provider.ChunkSize = 4
	threadID := f.createThread(t)

	rec := f.do(t, http.MethodPost, "/api/v1/chat/threads/"+threadID+"/messages", map[string]any{
		"content":    "hello there",
		"streamMode": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("stream: %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	events := parseSSE(t, rec.Body.String())
	if len(events) < 3 {
		t.Fatalf("only %d events", len(events))
	}
	if events[0].name != "start" {
		t.Errorf("first event = %q", events[0].name)
	}
	last := events[len(events)-1]
	if last.name != "complete" {
		t.Fatalf("last event = %q", last.name)
	}

	var assembled strings.Builder
	sawStep := false
	for _, ev := range events[1 : len(events)-1] {
		switch ev.name {
		case "chunk":
			var chunk struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal([]byte(ev.data), &chunk); err != nil {
				t.Fatalf("decode chunk: %v", err)
			}
			assembled.WriteString(chunk.Delta)
		case "step":
			sawStep = true
		default:
			t.Errorf("unexpected mid-stream event %q", ev.name)
		}
	}
	if assembled.String() != "stub answer" {
		t.Errorf("assembled %q", assembled.String())
	}
	if !sawStep {
		t.Error("no step events")
	}

	var turn turnBody
	if err := json.Unmarshal([]byte(last.data), &turn); err != nil {
		t.Fatalf("decode complete: %v", err)
	}
	if turn.Content != "stub answer" {
		t.Errorf("complete content = %q", turn.Content)
	}
}

func TestStreamErrorEvent(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	threadID := f.createThread(t)
	f.provider.Err = apperr.New(apperr.KindProviderError, "PROVIDER_DOWN", "provider unavailable")

	rec := f.do(t, http.MethodPost, "/api/v1/chat/threads/"+threadID+"/messages", map[string]any{
		"content":    "hello there",
		"streamMode": true,
	})
	events := parseSSE(t, rec.Body.String())
	if len(events) == 0 {
		t.Fatal("no events")
	}
	last := events[len(events)-1]
	if last.name != "error" {
		t.Fatalf("last event = %q", last.name)
	}
	for _, ev := range events {
		if ev.name == "complete" {
			t.Error("complete emitted alongside error")
		}
	}
}

func TestRegenerateDeduplicatesByOperationID(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	threadID := f.createThread(t)
	if rec := f.do(t, http.MethodPost, "/api/v1/chat/threads/"+threadID+"/messages",
		map[string]any{"content": "hello there"}); rec.Code != http.StatusOK {
		t.Fatalf("send: %d %s", rec.Code, rec.Body.String())
	}

	rec := f.do(t, http.MethodGet, "/api/v1/chat/threads/"+threadID+"/messages", nil)
	var listing struct {
		Messages []*models.Message `json:"messages"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &listing); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	var userMessageID string
	for _, m := range listing.Messages {
		if m.Role == models.RoleUser {
			userMessageID = m.ID
		}
	}
	if userMessageID == "" {
		t.Fatal("no user message persisted")
	}
	path := "/api/v1/chat/threads/" + threadID + "/messages/" + userMessageID + "/regenerate"

	rec = f.do(t, http.MethodPost, path, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("regenerate without operation id: %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != "MISSING_OPERATION_ID" {
		t.Errorf("error = %+v", env.Error)
	}

	// A second scripted answer would surface if the retry actually ran.
	f.provider.Responses = []completion.Result{
		{Text: "take two", TokensIn: 4, TokensOut: 2, FinishReason: "stop"},
		{Text: "take three", TokensIn: 4, TokensOut: 2, FinishReason: "stop"},
	}
	calls := len(f.provider.Requests)

	var contents []string
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(""))
		req.Header.Set("X-Tenant-ID", "t1")
		req.Header.Set("X-User-ID", "u1")
		req.Header.Set("X-Operation-ID", "op-1")
		rr := httptest.NewRecorder()
		f.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("regenerate call %d: %d %s", i, rr.Code, rr.Body.String())
		}
		var turn turnBody
		if err := json.Unmarshal(decodeEnvelope(t, rr).Data, &turn); err != nil {
			t.Fatalf("decode turn: %v", err)
		}
		contents = append(contents, turn.Content)
	}
	if contents[0] != "take two" || contents[1] != "take two" {
		t.Errorf("contents = %v", contents)
	}
	if got := len(f.provider.Requests) - calls; got != 1 {
		t.Errorf("provider saw %d regenerate calls, want 1", got)
	}
}

func TestExecuteTool(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	rec := f.do(t, http.MethodPost, "/api/v1/mcp/tools/weather/execute", map[string]any{
		"params": map[string]any{"city": "Oslo"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("execute: %d %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var data struct {
		Tool    string `json:"tool"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if data.Tool != "weather" || data.Content != "sunny in Oslo" {
		t.Errorf("outcome = %+v", data)
	}
}

func TestExecuteToolForbiddenForOtherTenant(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mcp/tools/weather/execute",
		strings.NewReader(`{"params":{"city":"Oslo"}}`))
	req.Header.Set("X-Tenant-ID", "t2")
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != "NOT_AUTHORIZED" {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestRequestIDEchoedBack(t *testing.T) {
	f := newWebFixture(t, admission.Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("request id header = %q", got)
	}
}
