package audit

import (
	"context"
	"log/slog"
	"sync"
)

// Sink receives audit events after they have been committed.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "audit")}
}

func (s *LogSink) Emit(ctx context.Context, ev Event) {
	level := slog.LevelInfo
	if ev.Type == EventSecretMismatch || ev.Type == EventRotationRejected {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "Audit event",
		"event_id", ev.ID,
		"type", ev.Type,
		"client", ev.ClientName,
		"instance", ev.Instance,
		"remote_ip", ev.RemoteIP,
		"host", ev.Host,
		"details", ev.Details)
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of one type in emission order.
func (r *Recorder) OfType(typ EventType) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
