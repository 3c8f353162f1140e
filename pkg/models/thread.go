package models

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a message turn.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
	RoleTool      Role = "TOOL"
)

// Thread is a persistent conversation between one user and the system
// within one tenant. Messages on a thread are strictly ordered by creation
// time; a SYSTEM message, when present, is first.
type Thread struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Title    string `json:"title"`

	// DefaultModel is used when a message command does not override it.
	// It must be a model some configured provider serves.
	DefaultModel string `json:"default_model"`

	// Temperature stays in [0, 2].
	Temperature float64 `json:"temperature"`

	// FlowSnapshotID references an immutable workflow snapshot, when set.
	FlowSnapshotID string `json:"flow_snapshot_id,omitempty"`

	// SystemPrompt, when set, replaces the service-wide default for
	// turns generated on this thread.
	SystemPrompt string `json:"system_prompt,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the thread has been soft-deleted.
func (t *Thread) Deleted() bool {
	return t.DeletedAt != nil
}

// ToolCall is an assistant request to execute a named tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Message is one turn in a thread.
type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Role     Role   `json:"role"`
	Content  string `json:"content"`

	// ToolCall carries the assistant's tool invocation payload, if any.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	TokensIn  int   `json:"tokens_in"`
	TokensOut int   `json:"tokens_out"`
	LatencyMS int64 `json:"latency_ms"`

	CreatedAt time.Time `json:"created_at"`
}

// Citation links an assistant message to a chunk whose content informed
// it. Citations have no standalone lifetime: they are deleted with their
// message.
type Citation struct {
	MessageID string  `json:"message_id"`
	ChunkID   string  `json:"chunk_id"`
	Score     float64 `json:"score"`
	ModelCode string  `json:"model_code"`
}

// UsageRecord aggregates per-tenant, per-model token and cost totals,
// bucketed by day. Written only by the orchestrator, and only for
// successfully generated assistant turns.
type UsageRecord struct {
	TenantID  string    `json:"tenant_id"`
	ModelCode string    `json:"model_code"`
	Day       time.Time `json:"day"`
	TokensIn  int64     `json:"tokens_in"`
	TokensOut int64     `json:"tokens_out"`
	Cost      float64   `json:"cost"`
}

// UsageDay truncates a timestamp to its UTC day bucket.
func UsageDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
