package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TrackedOp is one reversible (or knowingly irreversible) operation recorded
// in the rollback journal. Executors register these for every side effect a
// risky step performs.
type TrackedOp struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	StepID string `json:"step_id,omitempty"`
	// Reversible marks whether Undo can actually revert the side effect.
	// Irreversible operations (an external network call, a sent message) are
	// still recorded so rollback can report them.
	Reversible bool      `json:"reversible"`
	RecordedAt time.Time `json:"recorded_at"`

	// Undo reverts the operation. Required when Reversible.
	Undo func(ctx context.Context) error `json:"-"`
	// Verify, when set, checks that the tracked state has not been mutated
	// outside the engine in a way that makes restoration ambiguous. A non-nil
	// error fails the restore with RestoreConflictError.
	Verify func(ctx context.Context) error `json:"-"`
}

// Checkpoint is a named, timestamped reference to a journal position. It is
// immutable once created; restoring it rewinds the journal to that position.
type Checkpoint struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	// StepID is the step after which the checkpoint was taken (empty when
	// taken before any step completed).
	StepID     string    `json:"step_id,omitempty"`
	JournalPos int       `json:"journal_pos"`
	CreatedAt  time.Time `json:"created_at"`
}

// RestoreConflictError reports that tracked state was mutated outside the
// engine, making restoration ambiguous.
type RestoreConflictError struct {
	OpID  string
	Label string
	Cause error
}

func (e *RestoreConflictError) Error() string {
	return fmt.Sprintf("restore conflict on operation %s (%s): %v", e.OpID, e.Label, e.Cause)
}

func (e *RestoreConflictError) Unwrap() error {
	return e.Cause
}

// IrreversibleOperationWarning is a warning-level signal that a rollback
// crossed an operation that cannot be reversed. It does not fail the rollback.
type IrreversibleOperationWarning struct {
	OpID  string
	Label string
}

func (w *IrreversibleOperationWarning) Error() string {
	return fmt.Sprintf("operation %s (%s) is irreversible and was skipped during rollback", w.OpID, w.Label)
}

// RollbackReport summarizes one restore or partial rollback.
type RollbackReport struct {
	// UndoneOps lists the ids of operations that were reversed, in undo order.
	UndoneOps []string
	// UndoneSteps lists the distinct step ids whose operations were undone,
	// in undo order.
	UndoneSteps []string
	// Warnings collects irreversible operations encountered.
	Warnings []*IrreversibleOperationWarning
}

// OpRecorder registers side effects in the rollback journal. Executors obtain
// one from the execution context via OpRecorderFrom and record an op for every
// side effect a step performs, so rollback knows what to undo.
type OpRecorder interface {
	Record(op TrackedOp) TrackedOp
}

type opRecorderKey struct{}

func withOpRecorder(ctx context.Context, r OpRecorder) context.Context {
	return context.WithValue(ctx, opRecorderKey{}, r)
}

// OpRecorderFrom extracts the run's operation recorder from an execution
// context. It reports false outside of a scheduler-managed execution.
func OpRecorderFrom(ctx context.Context) (OpRecorder, bool) {
	r, ok := ctx.Value(opRecorderKey{}).(OpRecorder)
	return r, ok
}

// CheckpointStore persists checkpoint references across process restarts.
type CheckpointStore interface {
	Save(ctx context.Context, runID string, checkpoint Checkpoint) error
	List(ctx context.Context, runID string) ([]Checkpoint, error)
	Delete(ctx context.Context, runID string, checkpointID string) error
}

// CheckpointManager owns the rollback journal and checkpoint references for
// one run. Checkpoint gives whole-session granularity; RollbackLastN gives
// single-operation granularity.
type CheckpointManager struct {
	runID  string
	store  CheckpointStore
	logger *zap.Logger

	mu          sync.Mutex
	journal     []TrackedOp
	checkpoints []Checkpoint
}

// NewCheckpointManager creates a manager for the given run. store may be nil,
// in which case checkpoint references live only in memory.
func NewCheckpointManager(runID string, store CheckpointStore, logger *zap.Logger) *CheckpointManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointManager{
		runID:  runID,
		store:  store,
		logger: logger.With(zap.String("component", "checkpoint_manager"), zap.String("run_id", runID)),
	}
}

// Record appends an operation to the journal and returns it with its
// assigned id.
func (m *CheckpointManager) Record(op TrackedOp) TrackedOp {
	m.mu.Lock()
	defer m.mu.Unlock()

	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.RecordedAt.IsZero() {
		op.RecordedAt = time.Now()
	}
	m.journal = append(m.journal, op)

	m.logger.Debug("operation recorded",
		zap.String("op_id", op.ID),
		zap.String("label", op.Label),
		zap.Bool("reversible", op.Reversible))
	return op
}

// JournalLen returns the number of recorded operations.
func (m *CheckpointManager) JournalLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.journal)
}

// Checkpoint captures the current journal position under a label. afterStep
// names the most recently completed step, if any.
func (m *CheckpointManager) Checkpoint(ctx context.Context, label, afterStep string) (Checkpoint, error) {
	m.mu.Lock()
	cp := Checkpoint{
		ID:         uuid.NewString(),
		Label:      label,
		StepID:     afterStep,
		JournalPos: len(m.journal),
		CreatedAt:  time.Now(),
	}
	m.checkpoints = append(m.checkpoints, cp)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Save(ctx, m.runID, cp); err != nil {
			return Checkpoint{}, fmt.Errorf("save checkpoint %s: %w", cp.ID, err)
		}
	}

	m.logger.Info("checkpoint created",
		zap.String("checkpoint_id", cp.ID),
		zap.String("label", label),
		zap.Int("journal_pos", cp.JournalPos))
	return cp, nil
}

// Checkpoints returns the checkpoints created so far, oldest first.
func (m *CheckpointManager) Checkpoints() []Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Checkpoint, len(m.checkpoints))
	copy(out, m.checkpoints)
	return out
}

// Latest returns the most recent checkpoint.
func (m *CheckpointManager) Latest() (Checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.checkpoints) == 0 {
		return Checkpoint{}, false
	}
	return m.checkpoints[len(m.checkpoints)-1], true
}

// Restore rewinds the journal to the checkpoint's position, reversing
// operations in LIFO order. Restoring the same checkpoint twice is a no-op
// the second time. A Verify failure aborts with RestoreConflictError and
// leaves the remaining journal intact.
func (m *CheckpointManager) Restore(ctx context.Context, cp Checkpoint) (RollbackReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cp.JournalPos > len(m.journal) {
		return RollbackReport{}, fmt.Errorf("checkpoint %s references journal position %d beyond journal length %d",
			cp.ID, cp.JournalPos, len(m.journal))
	}
	report, err := m.rewindLocked(ctx, len(m.journal)-cp.JournalPos)
	if err != nil {
		return report, err
	}

	m.logger.Info("checkpoint restored",
		zap.String("checkpoint_id", cp.ID),
		zap.Int("ops_undone", len(report.UndoneOps)),
		zap.Int("warnings", len(report.Warnings)))
	return report, nil
}

// RollbackLastN pops and reverses the last n recorded operations in LIFO
// order without touching checkpoints. Irreversible operations produce
// warnings instead of failing the rollback.
func (m *CheckpointManager) RollbackLastN(ctx context.Context, n int) (RollbackReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > len(m.journal) {
		n = len(m.journal)
	}
	return m.rewindLocked(ctx, n)
}

// rewindLocked undoes the last n journal entries. Must be called with m.mu
// held.
func (m *CheckpointManager) rewindLocked(ctx context.Context, n int) (RollbackReport, error) {
	var report RollbackReport
	seenSteps := make(map[string]bool)

	for i := 0; i < n; i++ {
		op := m.journal[len(m.journal)-1]

		if op.Verify != nil {
			if err := op.Verify(ctx); err != nil {
				return report, &RestoreConflictError{OpID: op.ID, Label: op.Label, Cause: err}
			}
		}

		if !op.Reversible {
			warning := &IrreversibleOperationWarning{OpID: op.ID, Label: op.Label}
			report.Warnings = append(report.Warnings, warning)
			m.logger.Warn("irreversible operation skipped during rollback",
				zap.String("op_id", op.ID),
				zap.String("label", op.Label))
		} else if op.Undo != nil {
			if err := op.Undo(ctx); err != nil {
				return report, fmt.Errorf("undo operation %s (%s): %w", op.ID, op.Label, err)
			}
			report.UndoneOps = append(report.UndoneOps, op.ID)
			if op.StepID != "" && !seenSteps[op.StepID] {
				seenSteps[op.StepID] = true
				report.UndoneSteps = append(report.UndoneSteps, op.StepID)
			}
		}

		m.journal = m.journal[:len(m.journal)-1]
	}
	return report, nil
}

// InMemoryCheckpointStore keeps checkpoint references in process memory.
type InMemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string][]Checkpoint // run id -> checkpoints
}

// NewInMemoryCheckpointStore creates an empty in-memory store.
func NewInMemoryCheckpointStore() *InMemoryCheckpointStore {
	return &InMemoryCheckpointStore{checkpoints: make(map[string][]Checkpoint)}
}

func (s *InMemoryCheckpointStore) Save(ctx context.Context, runID string, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[runID] = append(s.checkpoints[runID], cp)
	return nil
}

func (s *InMemoryCheckpointStore) List(ctx context.Context, runID string) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Checkpoint, len(s.checkpoints[runID]))
	copy(out, s.checkpoints[runID])
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryCheckpointStore) Delete(ctx context.Context, runID string, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.checkpoints[runID]
	for i, cp := range list {
		if cp.ID == checkpointID {
			s.checkpoints[runID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("checkpoint not found: %s", checkpointID)
}
