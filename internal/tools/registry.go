// Package tools executes registered external tools on behalf of
// tenants, enforcing grants, schemas, rate limits, and quotas.
package tools

import (
	"context"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/pkg/models"
)

// Registry holds tool definitions and tenant grants. Schemas are
// compiled once at registration.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*models.ToolDefinition
	schemas map[string]*jsonschema.Schema
	grants  map[string]*models.ToolGrant
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*models.ToolDefinition),
		schemas: make(map[string]*jsonschema.Schema),
		grants:  make(map[string]*models.ToolGrant),
	}
}

// Register adds or replaces a tool definition. The parameter schema
// must compile.
func (r *Registry) Register(def *models.ToolDefinition) error {
	if def.Code == "" {
		return apperr.New(apperr.KindValidation, "MISSING_TOOL_CODE", "tool code is required")
	}
	schema := string(def.ParamSchema)
	if schema == "" {
		schema = "{}"
	}
	compiled, err := jsonschema.CompileString(def.Code+".json", schema)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "INVALID_TOOL_SCHEMA",
			"tool parameter schema does not compile", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Code] = def
	r.schemas[def.Code] = compiled
	return nil
}

// Get returns a tool definition and its compiled schema.
func (r *Registry) Get(code string) (*models.ToolDefinition, *jsonschema.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[code]
	if !ok {
		return nil, nil, apperr.Newf(apperr.KindNotFound, "TOOL_NOT_FOUND", "tool %q is not registered", code)
	}
	return def, r.schemas[code], nil
}

// List returns all registered definitions.
func (r *Registry) List() []*models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.ToolDefinition, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, def)
	}
	return out
}

// Grant authorizes a tenant for a tool.
func (r *Registry) Grant(g *models.ToolGrant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants[g.TenantID+"\x00"+g.ToolCode] = g
}

// GrantFor returns the tenant's grant for a tool, or nil.
func (r *Registry) GrantFor(tenantID, code string) *models.ToolGrant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.grants[tenantID+"\x00"+code]
}

// CallLogRecorder persists tool call logs. A log row is written for
// every execution attempt regardless of outcome.
type CallLogRecorder interface {
	Record(ctx context.Context, log *models.ToolCallLog) error
}

// MemoryCallLog keeps call logs in memory for single-node deployments
// and tests.
type MemoryCallLog struct {
	mu   sync.Mutex
	logs []*models.ToolCallLog
}

func NewMemoryCallLog() *MemoryCallLog {
	return &MemoryCallLog{}
}

func (m *MemoryCallLog) Record(_ context.Context, log *models.ToolCallLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

// Logs returns a snapshot of recorded entries.
func (m *MemoryCallLog) Logs() []*models.ToolCallLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ToolCallLog, len(m.logs))
	copy(out, m.logs)
	return out
}
