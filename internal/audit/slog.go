package audit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// SlogRecorder writes events as JSON log lines through a buffered
// channel. A full buffer writes inline rather than dropping the event.
type SlogRecorder struct {
	logger *slog.Logger
	buffer chan *Event
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewSlogRecorder creates a recorder writing JSON to w. bufferSize of
// zero defaults to 256.
func NewSlogRecorder(w io.Writer, bufferSize int) *SlogRecorder {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	r := &SlogRecorder{
		logger: slog.New(slog.NewJSONHandler(w, nil)).With("component", "audit"),
		buffer: make(chan *Event, bufferSize),
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.writeLoop()
	return r
}

// Record queues the event for writing.
func (r *SlogRecorder) Record(_ context.Context, event *Event) {
	fill(event)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	select {
	case r.buffer <- event:
	default:
		r.write(event)
	}
}

// Close drains the buffer and stops the writer.
func (r *SlogRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()
}

func (r *SlogRecorder) writeLoop() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.buffer:
			r.write(event)
		case <-r.done:
			for {
				select {
				case event := <-r.buffer:
					r.write(event)
				default:
					return
				}
			}
		}
	}
}

func (r *SlogRecorder) write(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"kind", string(event.Kind),
		"severity", string(event.Severity),
		"source", event.Source,
		"action", event.Action,
		"time", event.Time.Format(time.RFC3339Nano),
	}
	if event.TenantID != "" {
		attrs = append(attrs, "tenant_id", event.TenantID)
	}
	if event.UserID != "" {
		attrs = append(attrs, "user_id", event.UserID)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	switch event.Severity {
	case SeverityCritical:
		r.logger.Error("audit", attrs...)
	case SeverityWarning:
		r.logger.Warn("audit", attrs...)
	default:
		r.logger.Info("audit", attrs...)
	}
}
