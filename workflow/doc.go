// Package workflow implements the scheduling and adaptive recovery engine:
// it decomposes a multi-step task into a dependency graph, executes steps in
// safe order with checkpointing, and diagnoses and corrects failures through
// categorized retry policies and per-category circuit breaking.
//
// The engine deliberately knows nothing about step content. Actions are
// opaque payloads dispatched to a StepExecutor collaborator; failure
// diagnosis is delegated to a Diagnoser collaborator; approvals go through
// an ApprovalGate. The engine owns ordering, retry/backoff math, circuit
// state, checkpoint/rollback semantics and the observability event stream.
//
// Typical usage:
//
//	graph, err := workflow.BuildGraph(steps)
//	if err != nil {
//		return err // cyclic, duplicate or dangling definitions
//	}
//	sched := workflow.NewScheduler(executor, workflow.SchedulerConfig{
//		Diagnoser: diagnoser,
//		Logger:    logger,
//	})
//	run, err := sched.Execute(ctx, graph, workflow.DefaultOptions())
package workflow
