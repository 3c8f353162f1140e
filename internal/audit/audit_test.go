package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

// syncBuffer makes bytes.Buffer safe for the async writer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSlogRecorderWritesEnvelope(t *testing.T) {
	var buf syncBuffer
	r := NewSlogRecorder(&buf, 8)

	r.Record(context.Background(), UserAction("gateway", "t1", "u1", "thread.create",
		map[string]any{"thread_id": "th1"}))
	r.Close()

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("nothing written")
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("not JSON: %v\n%s", err, line)
	}
	if rec["kind"] != "user_action" || rec["tenant_id"] != "t1" || rec["user_id"] != "u1" {
		t.Errorf("record = %v", rec)
	}
	if rec["action"] != "thread.create" || rec["thread_id"] != "th1" {
		t.Errorf("record = %v", rec)
	}
	if rec["audit_id"] == "" || rec["time"] == "" {
		t.Errorf("envelope not filled: %v", rec)
	}
	if rec["severity"] != "info" {
		t.Errorf("default severity = %v", rec["severity"])
	}
}

func TestSecurityEventsDefaultToWarning(t *testing.T) {
	var buf syncBuffer
	r := NewSlogRecorder(&buf, 8)

	r.Record(context.Background(), Security("admission", "t1", "message.blocked",
		map[string]any{"class": "injection"}))
	r.Close()

	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["severity"] != "warning" || rec["level"] != "WARN" {
		t.Errorf("record = %v", rec)
	}
}

func TestRecordAfterCloseIsDropped(t *testing.T) {
	var buf syncBuffer
	r := NewSlogRecorder(&buf, 8)
	r.Close()

	r.Record(context.Background(), System("daemon", "shutdown", nil))
	if buf.String() != "" {
		t.Errorf("write after close: %q", buf.String())
	}
	// A second close is a no-op.
	r.Close()
}

func TestFullBufferWritesInline(t *testing.T) {
	var buf syncBuffer
	r := NewSlogRecorder(&buf, 1)

	for i := 0; i < 50; i++ {
		r.Record(context.Background(), System("janitor", "sweep", map[string]any{"n": i}))
	}
	r.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 50 {
		t.Errorf("wrote %d lines, want 50", len(lines))
	}
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	// Must accept anything without blowing up.
	r.Record(context.Background(), nil)
	r.Record(context.Background(), System("x", "y", nil))
}
