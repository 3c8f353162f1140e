// Package audit records security-relevant platform events as structured
// log lines. Recording is fire-and-forget: a slow or broken sink never
// blocks the operation being audited.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind tags the event variant.
type Kind string

const (
	KindUserAction  Kind = "user_action"
	KindSecurity    Kind = "security"
	KindSystem      Kind = "system"
	KindPerformance Kind = "performance"
	KindDataChange  Kind = "data_change"
)

// Severity ranks events for filtering.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one audit record. Source names the component that emitted
// it; TenantID is empty for platform-level events.
type Event struct {
	ID       string         `json:"id"`
	Time     time.Time      `json:"time"`
	Kind     Kind           `json:"kind"`
	Severity Severity       `json:"severity"`
	Source   string         `json:"source"`
	TenantID string         `json:"tenant_id,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	Action   string         `json:"action"`
	Details  map[string]any `json:"details,omitempty"`
}

// Recorder accepts audit events.
type Recorder interface {
	Record(ctx context.Context, event *Event)
}

// fill sets the envelope fields callers usually leave blank.
func fill(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
}

// NopRecorder drops every event. It stands in when auditing is
// disabled, so call sites never branch on nil.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *Event) {}

// UserAction builds a user-scoped event.
func UserAction(source, tenantID, userID, action string, details map[string]any) *Event {
	return &Event{
		Kind: KindUserAction, Source: source,
		TenantID: tenantID, UserID: userID,
		Action: action, Details: details,
	}
}

// Security builds a security event. These default to warning severity;
// callers raise it to critical as needed.
func Security(source, tenantID, action string, details map[string]any) *Event {
	return &Event{
		Kind: KindSecurity, Severity: SeverityWarning,
		Source: source, TenantID: tenantID,
		Action: action, Details: details,
	}
}

// System builds a platform-level event with no tenant scope.
func System(source, action string, details map[string]any) *Event {
	return &Event{Kind: KindSystem, Source: source, Action: action, Details: details}
}

// Performance builds a performance observation event.
func Performance(source, action string, details map[string]any) *Event {
	return &Event{Kind: KindPerformance, Source: source, Action: action, Details: details}
}

// DataChange builds a data mutation event.
func DataChange(source, tenantID, action string, details map[string]any) *Event {
	return &Event{
		Kind: KindDataChange, Source: source,
		TenantID: tenantID, Action: action, Details: details,
	}
}
