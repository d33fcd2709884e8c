// Package stepflow provides a top-level convenience entry point for running
// a workflow with minimal boilerplate.
//
// Usage:
//
//	import "github.com/JuanCS-Dev/stepflow"
//
//	run, err := stepflow.Run(ctx, executor, []stepflow.Step{
//		{ID: "build", Action: buildAction},
//		{ID: "deploy", Action: deployAction, DependsOn: []string{"build"}},
//	})
//
// This is a thin wrapper around [workflow.BuildGraph] and
// [workflow.Scheduler]; use the workflow package directly when you need
// checkpoint stores, diagnosers or custom retry policy.
package stepflow

import (
	"context"

	"github.com/JuanCS-Dev/stepflow/workflow"
)

// Step is the atomic unit of work in a workflow graph.
type Step = workflow.Step

// Options controls one workflow run.
type Options = workflow.Options

// StepExecutor performs a step's action.
type StepExecutor = workflow.StepExecutor

// Run builds a dependency graph from steps and executes it with default
// options and collaborators.
func Run(ctx context.Context, executor StepExecutor, steps []Step) (*workflow.WorkflowRun, error) {
	graph, err := workflow.BuildGraph(steps)
	if err != nil {
		return nil, err
	}
	sched := workflow.NewScheduler(executor, workflow.SchedulerConfig{})
	return sched.Execute(ctx, graph, workflow.DefaultOptions())
}
