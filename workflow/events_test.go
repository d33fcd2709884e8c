package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JuanCS-Dev/stepflow/types"
)

func TestChannelEventSinkDropsWhenFull(t *testing.T) {
	t.Parallel()

	sink := NewChannelEventSink(2)
	for i := 0; i < 5; i++ {
		sink.Emit(Event{Type: EventStepStarted})
	}

	assert.Equal(t, int64(3), sink.Dropped())
	assert.Len(t, sink.Events(), 2)
}

func TestZapEventSink(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapEventSink(zap.New(core))

	emitAll([]EventSink{sink}, Event{
		Type:     EventStepFailed,
		RunID:    "run-1",
		StepID:   "deploy",
		Category: types.CategoryTransient,
		Attempt:  2,
		Message:  "timeout",
	})

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, string(EventStepFailed), entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "deploy", fields["step_id"])
	assert.Equal(t, "transient", fields["category"])
	assert.EqualValues(t, 2, fields["attempt"])
}

func TestEmitAllStampsTimestamp(t *testing.T) {
	t.Parallel()

	sink := NewChannelEventSink(1)
	emitAll([]EventSink{sink}, Event{Type: EventRunCompleted})

	ev := <-sink.Events()
	assert.False(t, ev.Timestamp.IsZero())
}
