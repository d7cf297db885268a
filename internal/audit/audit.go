package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// Event records one security state transition. Identifier is masked by
// the emitter before it gets here.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	UserID     string            `json:"user_id,omitempty"`
	FamilyID   string            `json:"family_id,omitempty"`
	Identifier string            `json:"identifier,omitempty"`
	Scope      string            `json:"scope,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// attrs flattens e for structured logging. Empty optional fields are left
// out; metadata keys are sorted.
func (e Event) attrs() []slog.Attr {
	out := []slog.Attr{
		slog.String("event_type", e.EventType),
		slog.Bool("success", e.Success),
		slog.Time("at", e.Timestamp),
	}
	for _, f := range [...]struct{ key, val string }{
		{"user_id", e.UserID},
		{"family_id", e.FamilyID},
		{"identifier", e.Identifier},
		{"scope", e.Scope},
		{"ip", e.IP},
		{"error", e.Error},
	} {
		if f.val != "" {
			out = append(out, slog.String(f.key, f.val))
		}
	}
	if len(e.Metadata) > 0 {
		group := make([]any, 0, len(e.Metadata))
		for _, k := range slices.Sorted(maps.Keys(e.Metadata)) {
			group = append(group, slog.String(k, e.Metadata[k]))
		}
		out = append(out, slog.Group("metadata", group...))
	}
	return out
}

// Sink receives events from the dispatcher goroutine.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink discards events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a consumer over a buffered channel. Emit
// blocks while the buffer is full unless ctx ends first.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan Event, max(buffer, 1))}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes newline-delimited JSON.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// SlogSink logs each event as one "audit" record, WARN for failures and
// INFO otherwise.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.logger == nil {
		return
	}
	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "audit", event.attrs()...)
}
