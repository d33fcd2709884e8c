package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JuanCS-Dev/stepflow/workflow"
)

func TestSnapshotRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var mu sync.Mutex
	calls := map[string]int{}
	exec := workflow.StepExecutorFunc(func(ctx context.Context, action any) (workflow.Outcome, error) {
		name := action.(string)
		mu.Lock()
		calls[name]++
		attempt := calls[name]
		mu.Unlock()
		if name == "b" && attempt == 1 {
			return workflow.Outcome{Failure: &workflow.FailureSignal{Code: "timeout", Message: "slow"}}, nil
		}
		return workflow.Outcome{Success: true, Output: "done"}, nil
	})
	sched := workflow.NewScheduler(exec, workflow.SchedulerConfig{
		Retry: workflow.RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 1.5},
	})
	graph, err := workflow.BuildGraph([]workflow.Step{
		{ID: "a", Action: "a"},
		{ID: "b", Action: "b", DependsOn: []string{"a"}},
	})
	require.NoError(t, err)

	run, err := sched.Execute(ctx, graph, workflow.DefaultOptions())
	require.NoError(t, err)

	record := SnapshotRun(run, graph)
	assert.Equal(t, run.ID, record.RunID)
	assert.Equal(t, string(workflow.PhaseSucceeded), record.Phase)
	assert.Equal(t, []string{"a", "b"}, record.Completed)
	assert.Len(t, record.Steps, 2)
	assert.False(t, record.CreatedAt.IsZero())

	// Breaker state from the run's transient failure travels with the record.
	require.Len(t, record.Breakers, 1)
	assert.EqualValues(t, "transient", record.Breakers[0].Category)
	assert.Equal(t, "closed", record.Breakers[0].State)

	s := NewMemoryStore()
	require.NoError(t, s.Save(ctx, record))
	loaded, err := s.Load(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Completed, loaded.Completed)
	require.Len(t, loaded.Breakers, 1)
	assert.EqualValues(t, "transient", loaded.Breakers[0].Category)
}
