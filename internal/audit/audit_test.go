package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (s *countingSink) Emit(_ context.Context, event Event) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "refresh_rotated"})
	}
	d.Close()
	assert.Equal(t, 10, sink.count())

	d.Emit(context.Background(), Event{EventType: "after_close"})
	assert.Equal(t, 10, sink.count(), "emits after close must be ignored")
}

func TestDispatcherDropIfFullCountsDrops(t *testing.T) {
	sink := &countingSink{block: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), Event{EventType: "otp_failure"})
	}
	assert.NotZero(t, d.Dropped(), "a blocked sink with a full buffer must drop")

	close(sink.block)
	d.Close()
}

func TestDisabledDispatcherIsNilSafe(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	require.Nil(t, d)

	d.Emit(context.Background(), Event{})
	d.Close()
	assert.Zero(t, d.Dropped())
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{EventType: "refresh_reuse_detected", FamilyID: "fam-1", Success: false})
	sink.Emit(context.Background(), Event{EventType: "refresh_rotated", UserID: "u1", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "refresh_reuse_detected", first.EventType)
	assert.Equal(t, "fam-1", first.FamilyID)
}

func TestSlogSinkLevelsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{
		Timestamp: time.Now(),
		EventType: "rate_limit_triggered",
		Scope:     "login",
		Success:   false,
		Metadata:  map[string]string{"reset_in": "120"},
	})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "audit", rec["msg"])
	assert.Equal(t, "login", rec["scope"])
	assert.Equal(t, "rate_limit_triggered", rec["event_type"])

	meta, ok := rec["metadata"].(map[string]any)
	require.True(t, ok, "expected metadata group, got %v", rec["metadata"])
	assert.Equal(t, "120", meta["reset_in"])
}
