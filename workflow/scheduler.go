package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"go.uber.org/zap"

	"github.com/JuanCS-Dev/stepflow/internal/metrics"
	"github.com/JuanCS-Dev/stepflow/types"
)

// ApprovalGate is consulted before dispatching a step whose RequiresApproval
// flag is set. A false result is a user-initiated abort, not a failure.
type ApprovalGate interface {
	RequestApproval(ctx context.Context, step Step) (bool, error)
}

// ApprovalGateFunc adapts a function to ApprovalGate.
type ApprovalGateFunc func(ctx context.Context, step Step) (bool, error)

func (f ApprovalGateFunc) RequestApproval(ctx context.Context, step Step) (bool, error) {
	return f(ctx, step)
}

// Options controls one workflow run.
type Options struct {
	// EnableRollback restores the most recent checkpoint when the run aborts.
	EnableRollback bool `json:"enable_rollback" yaml:"enable_rollback"`
	// EnableCheckpoints takes a checkpoint before HIGH-risk steps and at
	// CheckpointInterval boundaries.
	EnableCheckpoints bool `json:"enable_checkpoints" yaml:"enable_checkpoints"`
	// MaxAttemptsPerStep bounds attempts (and diagnosis calls) per step.
	// The engine favors few attempts with smart diagnosis over brute force.
	MaxAttemptsPerStep int `json:"max_attempts_per_step" yaml:"max_attempts_per_step"`
	// GlobalTimeout bounds the whole run; zero means unbounded.
	GlobalTimeout time.Duration `json:"global_timeout" yaml:"global_timeout"`
	// StepTimeout bounds each attempt; a firing step timeout is classified
	// as a transient timeout and enters the normal recovery path.
	StepTimeout time.Duration `json:"step_timeout" yaml:"step_timeout"`
	// MaxParallel bounds concurrently executing steps. 1 (the default) is
	// the deterministic single-threaded mode.
	MaxParallel int `json:"max_parallel" yaml:"max_parallel"`
	// CheckpointInterval checkpoints after every N completed steps when > 0.
	CheckpointInterval int `json:"checkpoint_interval" yaml:"checkpoint_interval"`
	// ContinueOnAbandoned skips an abandoned step and keeps executing steps
	// that do not depend on it, instead of aborting the run. Circuit-breaker
	// denials and user cancellation always abort.
	ContinueOnAbandoned bool `json:"continue_on_abandoned" yaml:"continue_on_abandoned"`
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		EnableRollback:     true,
		EnableCheckpoints:  true,
		MaxAttemptsPerStep: 2,
		MaxParallel:        1,
	}
}

// SchedulerConfig wires the scheduler's collaborators. All fields are
// optional; nil collaborators disable the corresponding behavior.
type SchedulerConfig struct {
	Diagnoser       Diagnoser
	Approvals       ApprovalGate
	Retry           RetryPolicy
	Breaker         BreakerConfig
	Classifier      *Classifier
	CheckpointStore CheckpointStore
	Metrics         *metrics.Collector
	Sinks           []EventSink
	Logger          *zap.Logger
}

// Scheduler walks a dependency graph in safe order, dispatches steps to the
// external executor and applies retry, recovery and rollback policy.
type Scheduler struct {
	executor   StepExecutor
	diagnoser  Diagnoser
	approvals  ApprovalGate
	retry      RetryPolicy
	breakerCfg BreakerConfig
	classifier *Classifier
	ckptStore  CheckpointStore
	metrics    *metrics.Collector
	sinks      []EventSink
	logger     *zap.Logger
}

// NewScheduler creates a scheduler dispatching to executor.
func NewScheduler(executor StepExecutor, cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := cfg.Retry
	if retry.ExponentialBase == 0 {
		retry = DefaultRetryPolicy()
	}
	breaker := cfg.Breaker
	if breaker.FailureThreshold == 0 {
		breaker = DefaultBreakerConfig()
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = NewClassifier()
	}
	return &Scheduler{
		executor:   executor,
		diagnoser:  cfg.Diagnoser,
		approvals:  cfg.Approvals,
		retry:      retry,
		breakerCfg: breaker,
		classifier: classifier,
		ckptStore:  cfg.CheckpointStore,
		metrics:    cfg.Metrics,
		sinks:      cfg.Sinks,
		logger:     logger.With(zap.String("component", "scheduler")),
	}
}

// verdictKind is a worker's terminal report for one step.
type verdictKind int

const (
	verdictCompleted verdictKind = iota
	verdictAbandoned
	verdictCancelled
	verdictFatal
)

type stepVerdict struct {
	stepID      string
	kind        verdictKind
	output      any
	category    types.FailureCategory
	explanation string
	forceAbort  bool
	err         error
	duration    time.Duration
}

// Execute runs the graph to completion. The returned run is non-nil whenever
// the graph itself is valid; the error reports run-level fatal conditions
// (executor unavailable, checkpoint restore failure, global timeout).
//
// Cancellation of ctx is observed between steps: in-flight steps finish, no
// new steps are dispatched, and rollback runs when enabled.
func (s *Scheduler) Execute(ctx context.Context, graph *DependencyGraph, opts Options) (*WorkflowRun, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}
	if s.executor == nil {
		return nil, types.NewError(types.ErrExecutorUnavailable, types.CategoryPermanent, "no step executor configured")
	}
	if opts.MaxAttemptsPerStep <= 0 {
		opts.MaxAttemptsPerStep = 2
	}
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}

	run := newWorkflowRun(graph)
	ckptMgr := NewCheckpointManager(run.ID, s.ckptStore, s.logger)
	breakers := NewBreakerRegistry(s.breakerCfg, s.breakerEventHandler(run.ID), s.logger)

	// Step execution survives user cancellation (in-flight steps are allowed
	// to finish) but stays bounded by the global timeout. Executors reach the
	// rollback journal through the context.
	execCtx := withOpRecorder(context.WithoutCancel(ctx), ckptMgr)
	if opts.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(execCtx, opts.GlobalTimeout)
		defer cancel()
	}

	run.start()
	s.logger.Info("workflow run started",
		zap.String("run_id", run.ID),
		zap.Int("steps", graph.Len()),
		zap.Int("max_parallel", opts.MaxParallel))

	var (
		dispatched      = make(map[string]bool, graph.Len())
		inFlight        = make(map[string]bool, opts.MaxParallel)
		outcomes        = make(chan stepVerdict)
		sem             = semaphore.NewWeighted(int64(opts.MaxParallel))
		sinceCheckpoint = 0
		lastCompleted   = ""
		aborting        bool
		abortCategory   types.FailureCategory
		abortReason     string
		fatalErr        error
	)

	for {
		if !aborting && fatalErr == nil && ctx.Err() == nil {
			completed := run.completedSet()
			for _, id := range graph.ReadySteps(completed) {
				if dispatched[id] {
					continue
				}
				if !sem.TryAcquire(1) {
					break
				}
				step, _ := graph.Step(id)

				if step.RequiresApproval && s.approvals != nil {
					approved, err := s.approvals.RequestApproval(ctx, step)
					if err != nil {
						sem.Release(1)
						fatalErr = fmt.Errorf("approval gate failed for step %s: %w", id, err)
						break
					}
					if !approved {
						sem.Release(1)
						aborting = true
						abortCategory = types.CategoryUserCancelled
						abortReason = fmt.Sprintf("approval denied for step %s", id)
						run.setStepState(id, StepAbandoned)
						break
					}
				}

				if opts.EnableCheckpoints && (step.Risk == RiskHigh ||
					(opts.CheckpointInterval > 0 && sinceCheckpoint >= opts.CheckpointInterval)) {
					cp, err := ckptMgr.Checkpoint(execCtx, "before "+id, lastCompleted)
					if err != nil {
						sem.Release(1)
						fatalErr = types.NewError(types.ErrCheckpointStoreFailure, types.CategoryPermanent,
							"checkpoint creation failed").WithCause(err)
						break
					}
					run.addCheckpoint(cp)
					sinceCheckpoint = 0
					s.metrics.RecordCheckpoint()
					s.emit(Event{Type: EventCheckpointCreated, RunID: run.ID, StepID: id, Message: cp.Label})
				}

				dispatched[id] = true
				inFlight[id] = true
				run.setStepState(id, StepExecuting)
				s.emit(Event{Type: EventStepStarted, RunID: run.ID, StepID: id})

				go s.runStep(execCtx, ctx, step, run, breakers, opts, sem, outcomes)
			}
		}

		if len(inFlight) == 0 {
			break
		}

		v := <-outcomes
		delete(inFlight, v.stepID)

		switch v.kind {
		case verdictCompleted:
			run.markCompleted(v.stepID, v.output)
			lastCompleted = v.stepID
			sinceCheckpoint++
			s.metrics.RecordStep("succeeded", "", v.duration)
			s.emit(Event{Type: EventStepSucceeded, RunID: run.ID, StepID: v.stepID})

		case verdictAbandoned:
			run.markAbandoned(v.stepID, v.category, v.explanation)
			if v.category != types.CategoryUserCancelled {
				s.metrics.RecordStep("abandoned", string(v.category), v.duration)
			}
			if v.forceAbort || !opts.ContinueOnAbandoned {
				aborting = true
				abortCategory = v.category
				abortReason = v.explanation
			}

		case verdictCancelled:
			run.setStepState(v.stepID, StepAbandoned)
			aborting = true
			abortCategory = types.CategoryUserCancelled
			abortReason = "run cancelled"

		case verdictFatal:
			run.setStepState(v.stepID, StepAbandoned)
			fatalErr = v.err
		}
	}

	run.setBreakers(breakers.Snapshots())
	return s.finalize(ctx, run, graph, ckptMgr, opts, aborting, abortCategory, abortReason, fatalErr)
}

// finalize decides the terminal phase, performs rollback when aborting, and
// emits the closing events.
func (s *Scheduler) finalize(ctx context.Context, run *WorkflowRun, graph *DependencyGraph,
	ckptMgr *CheckpointManager, opts Options, aborting bool,
	abortCategory types.FailureCategory, abortReason string, fatalErr error) (*WorkflowRun, error) {

	cancelled := ctx.Err() != nil && fatalErr == nil
	if cancelled && !aborting {
		aborting = true
		abortCategory = types.CategoryUserCancelled
		abortReason = "run cancelled"
	}

	var phase RunPhase
	var runErr error
	switch {
	case fatalErr != nil:
		phase = PhaseFailed
		runErr = fatalErr

	case aborting:
		phase = PhaseAborted
		run.mu.Lock()
		if run.finalCategory == "" {
			run.finalCategory = abortCategory
			run.explanation = abortReason
		}
		run.mu.Unlock()
		if opts.EnableRollback {
			if err := s.rollback(context.WithoutCancel(ctx), run, ckptMgr); err != nil {
				phase = PhaseFailed
				runErr = err
			}
		}

	case len(run.Completed()) == graph.Len():
		phase = PhaseSucceeded

	default:
		// Abandoned steps left dependents permanently blocked.
		phase = PhaseFailed
	}

	run.finish(phase, runErr)
	s.metrics.RecordRun(string(phase), run.Duration())
	s.emit(Event{Type: EventRunCompleted, RunID: run.ID, Status: string(phase), Category: run.finalCategory})

	s.logger.Info("workflow run finished",
		zap.String("run_id", run.ID),
		zap.String("phase", string(phase)),
		zap.Int("completed", len(run.Completed())),
		zap.Int("total", graph.Len()),
		zap.Error(runErr))
	return run, runErr
}

// rollback restores the most recent checkpoint, or unwinds the whole journal
// when no checkpoint was taken, and records which completed steps were undone.
func (s *Scheduler) rollback(ctx context.Context, run *WorkflowRun, ckptMgr *CheckpointManager) error {
	var report RollbackReport
	var err error

	if cp, ok := ckptMgr.Latest(); ok {
		report, err = ckptMgr.Restore(ctx, cp)
		if err == nil {
			s.metrics.RecordRestore()
			s.emit(Event{Type: EventCheckpointRestored, RunID: run.ID, StepID: cp.StepID, Message: cp.Label})
		}
	} else {
		report, err = ckptMgr.RollbackLastN(ctx, ckptMgr.JournalLen())
	}
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	run.setUndone(report.UndoneSteps)
	s.metrics.RecordRollbackOps(len(report.UndoneOps))
	for _, warning := range report.Warnings {
		s.logger.Warn("rollback warning", zap.String("run_id", run.ID), zap.Error(warning))
	}
	return nil
}

// runStep executes one step through its full attempt and recovery loop and
// reports a single verdict. execCtx bounds execution (global and per-step
// timeouts); waitCtx carries user cancellation and is only consulted while
// waiting out a retry delay, so the delay stays a cancellable suspension
// rather than a blocking sleep.
func (s *Scheduler) runStep(execCtx, waitCtx context.Context, step Step, run *WorkflowRun,
	breakers *BreakerRegistry, opts Options,
	sem *semaphore.Weighted, outcomes chan<- stepVerdict) {

	start := time.Now()
	verdict := s.attemptLoop(execCtx, waitCtx, step, run, breakers, opts)
	verdict.stepID = step.ID
	verdict.duration = time.Since(start)

	sem.Release(1)
	outcomes <- verdict
}

func (s *Scheduler) attemptLoop(execCtx, waitCtx context.Context, step Step, run *WorkflowRun,
	breakers *BreakerRegistry, opts Options) stepVerdict {

	action := step.Action
	var history []AttemptRecord
	var lastCategory types.FailureCategory

	for attempt := 1; ; attempt++ {
		attemptCtx := execCtx
		var cancel context.CancelFunc
		if opts.StepTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(execCtx, opts.StepTimeout)
		}
		outcome, execErr := s.executor.Execute(attemptCtx, action)
		if cancel != nil {
			cancel()
		}

		if execErr != nil {
			if execCtx.Err() != nil {
				return stepVerdict{kind: verdictFatal, err: types.NewError(
					types.ErrGlobalTimeoutExceeded, types.CategoryPermanent,
					"global timeout exceeded").WithCause(execErr)}
			}
			if errors.Is(execErr, context.DeadlineExceeded) {
				// Per-step timeout: a normal transient failure, not a run killer.
				outcome = Outcome{Failure: &FailureSignal{
					Code:    "timeout",
					Message: fmt.Sprintf("step exceeded timeout of %s", opts.StepTimeout),
				}}
			} else {
				return stepVerdict{kind: verdictFatal, err: types.NewError(
					types.ErrExecutorUnavailable, types.CategoryPermanent,
					fmt.Sprintf("executor failed dispatching step %s", step.ID)).WithCause(execErr)}
			}
		}

		if outcome.Success {
			if attempt > 1 && lastCategory != "" {
				breakers.ForCategory(lastCategory).RecordSuccess()
			}
			return stepVerdict{kind: verdictCompleted, output: outcome.Output}
		}

		signal := FailureSignal{Message: "step reported failure without signal"}
		if outcome.Failure != nil {
			signal = *outcome.Failure
		}
		category, code := s.classifier.Categorize(signal)
		lastCategory = category

		record := AttemptRecord{Attempt: attempt, Failure: signal, Category: category, At: time.Now()}
		run.setStepState(step.ID, StepRecovering)
		s.emit(Event{Type: EventStepFailed, RunID: run.ID, StepID: step.ID, Category: category,
			Attempt: attempt, Message: signal.String()})
		s.logger.Warn("step failed",
			zap.String("run_id", run.ID),
			zap.String("step_id", step.ID),
			zap.Int("attempt", attempt),
			zap.String("category", string(category)),
			zap.String("code", string(code)),
			zap.String("signal", signal.String()))

		if category == types.CategoryUserCancelled {
			history = append(history, record)
			run.recordAttempt(step.ID, record)
			return stepVerdict{kind: verdictCancelled, category: category, explanation: signal.String()}
		}

		breaker := breakers.ForCategory(category)
		breaker.RecordFailure()

		if !breaker.AllowRecovery() {
			history = append(history, record)
			run.recordAttempt(step.ID, record)
			return stepVerdict{
				kind:        verdictAbandoned,
				category:    category,
				explanation: fmt.Sprintf("recovery denied: circuit open for category %s", category),
				forceAbort:  true,
			}
		}

		if s.retry.ShouldRetry(attempt, opts.MaxAttemptsPerStep, category) {
			delay := s.retry.DelayFor(attempt)
			record.Delay = delay
			history = append(history, record)
			run.recordAttempt(step.ID, record)
			s.metrics.RecordRetry(string(category))

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-waitCtx.Done():
				timer.Stop()
				return stepVerdict{kind: verdictCancelled, category: types.CategoryUserCancelled,
					explanation: "cancelled while waiting to retry"}
			case <-execCtx.Done():
				timer.Stop()
				return stepVerdict{kind: verdictFatal, err: types.NewError(
					types.ErrGlobalTimeoutExceeded, types.CategoryPermanent,
					"global timeout exceeded while waiting to retry").WithCause(execCtx.Err())}
			}
			continue
		}

		// Non-retryable (or attempts exhausted): diagnosis-or-abort. Each
		// diagnosis call sees every prior attempt so a failed correction is
		// not repeated; calls are bounded by MaxAttemptsPerStep. The terminal
		// attempt still gets a diagnosis call so the run result carries a
		// real explanation, but any corrected action is moot at that point.
		if s.diagnoser != nil {
			rc := RecoveryContext{
				StepID:         step.ID,
				Attempt:        attempt,
				MaxAttempts:    opts.MaxAttemptsPerStep,
				Failure:        signal,
				Category:       category,
				Action:         action,
				History:        append([]AttemptRecord(nil), history...),
				CompletedSteps: run.Completed(),
				Outputs:        s.collectOutputs(run),
			}
			diagnosis, err := s.diagnoser.Diagnose(execCtx, rc)
			if err != nil {
				history = append(history, record)
				run.recordAttempt(step.ID, record)
				return stepVerdict{kind: verdictAbandoned, category: category,
					explanation: fmt.Sprintf("diagnosis failed: %v", err)}
			}
			if diagnosis.CorrectedAction != nil && attempt < opts.MaxAttemptsPerStep {
				action = diagnosis.CorrectedAction
				record.Corrected = true
				history = append(history, record)
				run.recordAttempt(step.ID, record)
				s.logger.Info("applying corrected action",
					zap.String("run_id", run.ID),
					zap.String("step_id", step.ID),
					zap.String("explanation", diagnosis.Explanation))
				continue
			}
			history = append(history, record)
			run.recordAttempt(step.ID, record)
			explanation := diagnosis.Explanation
			if explanation == "" {
				explanation = signal.String()
			}
			return stepVerdict{kind: verdictAbandoned, category: category, explanation: explanation}
		}

		history = append(history, record)
		run.recordAttempt(step.ID, record)
		return stepVerdict{kind: verdictAbandoned, category: category,
			explanation: fmt.Sprintf("attempts exhausted (%d/%d): %s", attempt, opts.MaxAttemptsPerStep, signal.String())}
	}
}

// collectOutputs snapshots completed step outputs for diagnosis context.
func (s *Scheduler) collectOutputs(run *WorkflowRun) map[string]any {
	outputs := make(map[string]any)
	for _, id := range run.Completed() {
		if res, ok := run.StepResult(id); ok {
			outputs[id] = res.Output
		}
	}
	return outputs
}

func (s *Scheduler) breakerEventHandler(runID string) func(types.FailureCategory, CircuitState, CircuitState) {
	return func(category types.FailureCategory, oldState, newState CircuitState) {
		s.metrics.RecordBreakerTransition(string(category), newState.String())
		switch newState {
		case CircuitOpen:
			s.emit(Event{Type: EventCircuitOpened, RunID: runID, Category: category})
		case CircuitHalfOpen:
			s.emit(Event{Type: EventCircuitHalfOpen, RunID: runID, Category: category})
		case CircuitClosed:
			s.emit(Event{Type: EventCircuitClosed, RunID: runID, Category: category})
		}
	}
}

func (s *Scheduler) emit(event Event) {
	emitAll(s.sinks, event)
}
