package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JuanCS-Dev/stepflow/types"
)

// RunPhase is the coarse state of a workflow run.
type RunPhase string

const (
	PhasePending   RunPhase = "pending"
	PhaseRunning   RunPhase = "running"
	PhaseSucceeded RunPhase = "succeeded"
	PhaseFailed    RunPhase = "failed"
	PhaseAborted   RunPhase = "aborted"
)

// StepState is the fine-grained state of one step within a running workflow.
type StepState string

const (
	StepQueued     StepState = "queued"
	StepExecuting  StepState = "executing"
	StepDone       StepState = "done"
	StepRecovering StepState = "recovering"
	StepAbandoned  StepState = "abandoned"
)

// StepResult is the per-step record kept on the run: terminal state, output,
// and the full attempt history for post-mortem.
type StepResult struct {
	StepID   string          `json:"step_id"`
	State    StepState       `json:"state"`
	Output   any             `json:"output,omitempty"`
	Attempts []AttemptRecord `json:"attempts,omitempty"`
	// Category and Explanation are set when the step was abandoned, so a
	// caller can present "why this failed" without re-deriving it.
	Category    types.FailureCategory `json:"category,omitempty"`
	Explanation string                `json:"explanation,omitempty"`
}

// WorkflowRun is one execution of a dependency graph. It is owned exclusively
// by the scheduler for its lifetime; all writes go through the scheduler's
// single collector goroutine, guarded by the mutex for concurrent readers.
type WorkflowRun struct {
	ID string `json:"id"`

	mu          sync.RWMutex
	phase       RunPhase
	completed   []string
	steps       map[string]*StepResult
	checkpoints []Checkpoint
	undoneSteps []string
	breakers    []CircuitSnapshot
	// finalCategory and explanation describe the abandoned step that ended
	// the run, if any.
	finalCategory types.FailureCategory
	explanation   string
	err           error
	startedAt     time.Time
	finishedAt    time.Time
}

func newWorkflowRun(graph *DependencyGraph) *WorkflowRun {
	run := &WorkflowRun{
		ID:    uuid.NewString(),
		phase: PhasePending,
		steps: make(map[string]*StepResult, graph.Len()),
	}
	for _, id := range graph.TopologicalOrder() {
		run.steps[id] = &StepResult{StepID: id, State: StepQueued}
	}
	return run
}

// Phase returns the run's current phase.
func (r *WorkflowRun) Phase() RunPhase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// Completed returns the completed step ids in completion order.
func (r *WorkflowRun) Completed() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.completed))
	copy(out, r.completed)
	return out
}

// StepResult returns the record for one step.
func (r *WorkflowRun) StepResult(stepID string) (StepResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.steps[stepID]
	if !ok {
		return StepResult{}, false
	}
	return *res, true
}

// Checkpoints returns the checkpoint references created during the run.
func (r *WorkflowRun) Checkpoints() []Checkpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Checkpoint, len(r.checkpoints))
	copy(out, r.checkpoints)
	return out
}

// BreakerSnapshots returns the terminal state of every circuit breaker the
// run touched, sorted by category. Empty until the run finishes.
func (r *WorkflowRun) BreakerSnapshots() []CircuitSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CircuitSnapshot, len(r.breakers))
	copy(out, r.breakers)
	return out
}

// UndoneSteps returns the ids of completed steps that were rolled back when
// the run aborted.
func (r *WorkflowRun) UndoneSteps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.undoneSteps))
	copy(out, r.undoneSteps)
	return out
}

// FinalFailure returns the taxonomy category and diagnosis explanation of
// the step that ended the run, when the run did not succeed.
func (r *WorkflowRun) FinalFailure() (types.FailureCategory, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finalCategory, r.explanation
}

// Err returns the run-level fatal error, if any.
func (r *WorkflowRun) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Duration returns how long the run took; zero until it finishes.
func (r *WorkflowRun) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.finishedAt.IsZero() {
		return 0
	}
	return r.finishedAt.Sub(r.startedAt)
}

func (r *WorkflowRun) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = PhaseRunning
	r.startedAt = time.Now()
}

func (r *WorkflowRun) setStepState(stepID string, state StepState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.steps[stepID]; ok {
		res.State = state
	}
}

func (r *WorkflowRun) recordAttempt(stepID string, attempt AttemptRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.steps[stepID]; ok {
		res.Attempts = append(res.Attempts, attempt)
	}
}

func (r *WorkflowRun) markCompleted(stepID string, output any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.steps[stepID]; ok {
		res.State = StepDone
		res.Output = output
	}
	r.completed = append(r.completed, stepID)
}

func (r *WorkflowRun) markAbandoned(stepID string, category types.FailureCategory, explanation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.steps[stepID]; ok {
		res.State = StepAbandoned
		res.Category = category
		res.Explanation = explanation
	}
	r.finalCategory = category
	r.explanation = explanation
}

func (r *WorkflowRun) addCheckpoint(cp Checkpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints = append(r.checkpoints, cp)
}

func (r *WorkflowRun) setBreakers(snapshots []CircuitSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = snapshots
}

func (r *WorkflowRun) setUndone(stepIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.undoneSteps = append(r.undoneSteps, stepIDs...)
}

func (r *WorkflowRun) finish(phase RunPhase, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = phase
	r.err = err
	r.finishedAt = time.Now()
}

// completedSet returns the completed ids as a set for ready-step queries.
func (r *WorkflowRun) completedSet() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]bool, len(r.completed))
	for _, id := range r.completed {
		set[id] = true
	}
	return set
}
