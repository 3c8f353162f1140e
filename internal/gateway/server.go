// Package gateway is the HTTP surface: knowledge-base, chat, and tool
// endpoints with a uniform {success, data, error?} envelope. The
// authentication filter chain lives upstream at the edge; this layer
// trusts the identity headers it receives.
package gateway

import (
	"net/http"
	"sync"

	"github.com/haasonsaas/parley/internal/audit"
	"github.com/haasonsaas/parley/internal/docstore"
	"github.com/haasonsaas/parley/internal/ingest"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/orchestrator"
	"github.com/haasonsaas/parley/internal/retrieval"
	"github.com/haasonsaas/parley/internal/tools"
)

// Server holds the subsystems the endpoints dispatch into.
type Server struct {
	orch      *orchestrator.Orchestrator
	pipeline  *ingest.Pipeline
	docs      docstore.Store
	retriever *retrieval.Service
	executor  *tools.Executor
	recorder  audit.Recorder
	logger    *observability.Logger
	tracer    *observability.Tracer

	// ops deduplicates regenerate calls by operation id; regeneration is
	// destructive, so a retried request must not run twice.
	opMu sync.Mutex
	ops  map[string]*operation
}

func NewServer(orch *orchestrator.Orchestrator, pipeline *ingest.Pipeline,
	docs docstore.Store, retriever *retrieval.Service, executor *tools.Executor,
	recorder audit.Recorder, logger *observability.Logger) *Server {

	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Server{
		orch:      orch,
		pipeline:  pipeline,
		docs:      docs,
		retriever: retriever,
		executor:  executor,
		recorder:  recorder,
		logger:    logger,
		ops:       make(map[string]*operation),
	}
}

// SetTracer enables a span per request. Without it requests are not
// traced.
func (s *Server) SetTracer(t *observability.Tracer) { s.tracer = t }

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /api/v1/kb/documents", s.createDocument)
	mux.HandleFunc("GET /api/v1/kb/documents", s.listDocuments)
	mux.HandleFunc("POST /api/v1/kb/documents/{id}/reindex", s.reindexDocument)
	mux.HandleFunc("DELETE /api/v1/kb/documents/{id}", s.deleteDocument)
	mux.HandleFunc("POST /api/v1/kb/search/vector", s.search(searchVector))
	mux.HandleFunc("POST /api/v1/kb/search/lexical", s.search(searchLexical))
	mux.HandleFunc("POST /api/v1/kb/search/hybrid", s.search(searchHybrid))

	mux.HandleFunc("POST /api/v1/chat/threads", s.createThread)
	mux.HandleFunc("GET /api/v1/chat/threads", s.listThreads)
	mux.HandleFunc("GET /api/v1/chat/threads/{id}", s.getThread)
	mux.HandleFunc("PATCH /api/v1/chat/threads/{id}", s.updateThread)
	mux.HandleFunc("DELETE /api/v1/chat/threads/{id}", s.deleteThread)
	mux.HandleFunc("GET /api/v1/chat/threads/{id}/messages", s.listMessages)
	mux.HandleFunc("POST /api/v1/chat/threads/{id}/messages", s.postMessage)
	mux.HandleFunc("POST /api/v1/chat/threads/{id}/messages/{messageId}/regenerate", s.regenerateMessage)

	mux.HandleFunc("POST /api/v1/mcp/tools/{code}/execute", s.executeTool)

	return s.logging(mux)
}
