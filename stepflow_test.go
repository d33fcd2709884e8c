package stepflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JuanCS-Dev/stepflow/workflow"
)

func TestRun(t *testing.T) {
	t.Parallel()

	exec := workflow.StepExecutorFunc(func(ctx context.Context, action any) (workflow.Outcome, error) {
		return workflow.Outcome{Success: true, Output: action}, nil
	})

	run, err := Run(context.Background(), exec, []Step{
		{ID: "build", Action: "build"},
		{ID: "deploy", Action: "deploy", DependsOn: []string{"build"}},
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseSucceeded, run.Phase())
	assert.Equal(t, []string{"build", "deploy"}, run.Completed())
}

func TestRunRejectsInvalidGraph(t *testing.T) {
	t.Parallel()

	exec := workflow.StepExecutorFunc(func(ctx context.Context, action any) (workflow.Outcome, error) {
		return workflow.Outcome{Success: true}, nil
	})

	_, err := Run(context.Background(), exec, []Step{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	})
	var cyclic *workflow.CyclicDependencyError
	require.ErrorAs(t, err, &cyclic)
}
