package workflow

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JuanCS-Dev/stepflow/types"
)

// EventType identifies an engine event.
type EventType string

const (
	EventStepStarted        EventType = "step_started"
	EventStepSucceeded      EventType = "step_succeeded"
	EventStepFailed         EventType = "step_failed"
	EventCheckpointCreated  EventType = "checkpoint_created"
	EventCheckpointRestored EventType = "checkpoint_restored"
	EventCircuitOpened      EventType = "circuit_opened"
	EventCircuitHalfOpen    EventType = "circuit_half_open"
	EventCircuitClosed      EventType = "circuit_closed"
	EventRunCompleted       EventType = "run_completed"
)

// Event is one entry in the engine's observability stream.
type Event struct {
	Type      EventType             `json:"type"`
	RunID     string                `json:"run_id,omitempty"`
	StepID    string                `json:"step_id,omitempty"`
	Category  types.FailureCategory `json:"category,omitempty"`
	Status    string                `json:"status,omitempty"`
	Message   string                `json:"message,omitempty"`
	Attempt   int                   `json:"attempt,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// EventSink consumes engine events. Implementations must not block; slow
// consumers should buffer or drop.
type EventSink interface {
	Emit(event Event)
}

// ZapEventSink logs events through a zap logger.
type ZapEventSink struct {
	logger *zap.Logger
}

// NewZapEventSink creates a sink writing to the given logger.
func NewZapEventSink(logger *zap.Logger) *ZapEventSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapEventSink{logger: logger.With(zap.String("component", "workflow_events"))}
}

func (s *ZapEventSink) Emit(event Event) {
	fields := []zap.Field{
		zap.String("run_id", event.RunID),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.StepID != "" {
		fields = append(fields, zap.String("step_id", event.StepID))
	}
	if event.Category != "" {
		fields = append(fields, zap.String("category", string(event.Category)))
	}
	if event.Status != "" {
		fields = append(fields, zap.String("status", event.Status))
	}
	if event.Attempt > 0 {
		fields = append(fields, zap.Int("attempt", event.Attempt))
	}
	if event.Message != "" {
		fields = append(fields, zap.String("message", event.Message))
	}
	s.logger.Info(string(event.Type), fields...)
}

// ChannelEventSink forwards events to a buffered channel. Events are dropped
// (and counted) when the buffer is full rather than blocking the scheduler.
type ChannelEventSink struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewChannelEventSink creates a sink with the given buffer size.
func NewChannelEventSink(buffer int) *ChannelEventSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelEventSink{ch: make(chan Event, buffer)}
}

func (s *ChannelEventSink) Emit(event Event) {
	select {
	case s.ch <- event:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the sink.
func (s *ChannelEventSink) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded due to a full buffer.
func (s *ChannelEventSink) Dropped() int64 {
	return s.dropped.Load()
}

// emitAll fans an event out to every sink.
func emitAll(sinks []EventSink, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, sink := range sinks {
		sink.Emit(event)
	}
}
