package nexusterminal

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEvent is one structured security event.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Username  string            `json:"username,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the engine's dispatcher.
// Implementations must not block for long; slow sinks cause events to be
// dropped rather than stalling auth flows.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NotifySink receives operator-facing notifications (ban started, login
// failed, admin bootstrapped). Delivery is fire-and-forget.
type NotifySink interface {
	Notify(ctx context.Context, event AuditEvent)
}

// NoOpSink discards all events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent)   {}
func (NoOpSink) Notify(context.Context, AuditEvent) {}

// ChannelSink buffers events on a channel, for tests and embedders that
// consume events themselves.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Notify(ctx context.Context, event AuditEvent) {
	s.Emit(ctx, event)
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON event per line to an io.Writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a JSONWriterSink that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

func (s *JSONWriterSink) Notify(ctx context.Context, event AuditEvent) {
	s.Emit(ctx, event)
}

// notifyAdapter lets the audit dispatcher drive a NotifySink.
type notifyAdapter struct {
	sink NotifySink
}

func (a notifyAdapter) Emit(ctx context.Context, event AuditEvent) {
	a.sink.Notify(ctx, event)
}
