package models

// RequestContext identifies the caller of a boundary operation. It is
// passed explicitly as an argument; nothing in the core looks it up from
// globals or ambient state.
type RequestContext struct {
	// RequestID correlates log lines and traces for one request.
	RequestID string `json:"request_id"`

	// TenantID is the acting tenant. Required on every tenant-scoped call.
	TenantID string `json:"tenant_id"`

	// UserID is the acting user within the tenant.
	UserID string `json:"user_id"`

	// OperatorID is set when an operator acts on behalf of a tenant.
	OperatorID string `json:"operator_id,omitempty"`

	// IP is the remote address as reported by the edge.
	IP string `json:"ip,omitempty"`

	// UserAgent is the caller's user agent string.
	UserAgent string `json:"user_agent,omitempty"`
}
