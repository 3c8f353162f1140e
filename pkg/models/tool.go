package models

import (
	"encoding/json"
	"time"
)

// ToolKind describes how a tool is invoked.
type ToolKind string

const (
	// ToolKindHTTP tools are invoked by POSTing parameters to an endpoint.
	ToolKindHTTP ToolKind = "http"

	// ToolKindFunc tools run an in-process function.
	ToolKindFunc ToolKind = "func"
)

// ToolDefinition describes a named external capability the assistant may
// invoke during a turn.
type ToolDefinition struct {
	// Code is the stable tool identifier used in API paths and grants.
	Code string `json:"code"`

	// Name is the human-readable tool name.
	Name string `json:"name"`

	// Description tells the model what the tool does.
	Description string `json:"description"`

	// Kind selects the invocation mechanism.
	Kind ToolKind `json:"kind"`

	// Endpoint is the HTTP URL for ToolKindHTTP tools.
	Endpoint string `json:"endpoint,omitempty"`

	// ParamSchema is the JSON Schema parameters must validate against.
	ParamSchema json.RawMessage `json:"param_schema"`

	// DefaultTimeout bounds execution when the caller does not supply one.
	DefaultTimeout time.Duration `json:"default_timeout"`
}

// ToolGrant authorizes a tenant to use a tool, with a quota.
type ToolGrant struct {
	TenantID  string `json:"tenant_id"`
	ToolCode  string `json:"tool_code"`
	QuotaUsed int64  `json:"quota_used"`

	// QuotaLimit of 0 means no quota is enforced.
	QuotaLimit int64 `json:"quota_limit"`
}

// ToolCallStatus is the terminal state of one tool execution.
type ToolCallStatus string

const (
	ToolCallSuccess  ToolCallStatus = "SUCCESS"
	ToolCallFailed   ToolCallStatus = "FAILED"
	ToolCallTimeout  ToolCallStatus = "TIMEOUT"
	ToolCallRejected ToolCallStatus = "REJECTED"
)

// ToolCallLog records one tool execution attempt, written regardless of
// outcome.
type ToolCallLog struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	UserID     string         `json:"user_id"`
	ThreadID   string         `json:"thread_id,omitempty"`
	ToolCode   string         `json:"tool_code"`
	ParamsHash string         `json:"params_hash"`
	Status     ToolCallStatus `json:"status"`
	LatencyMS  int64          `json:"latency_ms"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ToolOutcome is the result of a tool execution, ordered among its peers
// when several tools run for one turn.
type ToolOutcome struct {
	ToolCode  string `json:"tool_code"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}
