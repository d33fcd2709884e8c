// Package store persists workflow run records across process restarts.
// One record per run, keyed by run id: graph definition, completed step ids
// in order, checkpoint handles and circuit-breaker snapshots.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/JuanCS-Dev/stepflow/workflow"
)

// ErrRunNotFound is returned when no record exists for a run id.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is the durable view of one workflow run.
type RunRecord struct {
	RunID         string                     `json:"run_id"`
	Phase         string                     `json:"phase"`
	Steps         []workflow.Step            `json:"steps"`
	Completed     []string                   `json:"completed"`
	Checkpoints   []workflow.Checkpoint      `json:"checkpoints,omitempty"`
	Breakers      []workflow.CircuitSnapshot `json:"breakers,omitempty"`
	FinalCategory string                     `json:"final_category,omitempty"`
	Explanation   string                     `json:"explanation,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// RunStore persists run records.
type RunStore interface {
	Save(ctx context.Context, record *RunRecord) error
	Load(ctx context.Context, runID string) (*RunRecord, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, runID string) error
}

// SnapshotRun builds a record from a finished (or checkpointed) run.
func SnapshotRun(run *workflow.WorkflowRun, graph *workflow.DependencyGraph) *RunRecord {
	category, explanation := run.FinalFailure()
	now := time.Now()
	return &RunRecord{
		RunID:         run.ID,
		Phase:         string(run.Phase()),
		Steps:         graph.Steps(),
		Completed:     run.Completed(),
		Checkpoints:   run.Checkpoints(),
		Breakers:      run.BreakerSnapshots(),
		FinalCategory: string(category),
		Explanation:   explanation,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
