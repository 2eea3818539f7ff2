package event

import (
	"context"
	"sync"

	"coreapp/pkg/logger"
)

// LogSink writes events to the structured log. Useful as a default sink
// in environments without an outbox.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a sink logging through the given logger.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.WithComponent("event_sink")}
}

// Publish logs each event at info level.
func (s *LogSink) Publish(ctx context.Context, events []Event) error {
	for _, e := range events {
		s.log.WithContext(ctx).Infow("domain event",
			"event_id", e.ID.String(),
			"event_type", e.EventType,
			"aggregate_type", e.AggregateType,
			"aggregate_id", e.AggregateID.String(),
			"tenant_id", e.TenantID,
		)
	}
	return nil
}

// MemorySink buffers published events in memory. Test helper.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	// FailWith, when set, makes Publish fail without recording anything
	FailWith error
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Publish appends the batch, preserving order.
func (s *MemorySink) Publish(ctx context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.events = append(s.events, events...)
	return nil
}

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Reset clears the recorded events.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
