package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JuanCS-Dev/stepflow/workflow"
)

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPlan(t *testing.T) {
	t.Parallel()

	path := writePlan(t, `
name: release
steps:
  - id: build
    command: make build
  - id: migrate
    command: ./migrate.sh
    depends_on: [build]
    risk: high
    requires_approval: true
  - id: deploy
    command: make deploy
    depends_on: [build, migrate]
`)

	steps, err := loadPlan(path)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Equal(t, "build", steps[0].ID)
	assert.Equal(t, shellAction{Command: "make build"}, steps[0].Action)

	assert.Equal(t, workflow.RiskHigh, steps[1].Risk)
	assert.True(t, steps[1].RequiresApproval)
	assert.Equal(t, []string{"build"}, steps[1].DependsOn)

	// The plan must build into a valid graph.
	g, err := workflow.BuildGraph(steps)
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "migrate", "deploy"}, g.TopologicalOrder())
}

func TestLoadPlanErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "no steps", content: "name: empty\n", wantErr: "no steps"},
		{name: "missing id", content: "steps:\n  - command: ls\n", wantErr: "without id"},
		{name: "missing command", content: "steps:\n  - id: a\n", wantErr: "no command"},
		{name: "unknown risk", content: "steps:\n  - id: a\n    command: ls\n    risk: extreme\n", wantErr: "unknown risk"},
		{name: "bad yaml", content: "steps: [", wantErr: "parse plan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := loadPlan(writePlan(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadPlanMissingFile(t *testing.T) {
	t.Parallel()

	_, err := loadPlan("/nonexistent/plan.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read plan")
}
