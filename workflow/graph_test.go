package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildGraph(t *testing.T) {
	t.Parallel()

	t.Run("linear chain", func(t *testing.T) {
		t.Parallel()
		g, err := BuildGraph([]Step{
			{ID: "a"},
			{ID: "b", DependsOn: []string{"a"}},
			{ID: "c", DependsOn: []string{"b"}},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, g.Len())
		assert.Equal(t, []string{"a", "b", "c"}, g.TopologicalOrder())
	})

	t.Run("duplicate id", func(t *testing.T) {
		t.Parallel()
		_, err := BuildGraph([]Step{{ID: "a"}, {ID: "a"}})
		var dup *DuplicateStepIDError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "a", dup.ID)
	})

	t.Run("dangling dependency", func(t *testing.T) {
		t.Parallel()
		_, err := BuildGraph([]Step{{ID: "a", DependsOn: []string{"ghost"}}})
		var dangling *DanglingDependencyError
		require.ErrorAs(t, err, &dangling)
		assert.Equal(t, "a", dangling.StepID)
		assert.Equal(t, "ghost", dangling.DependencyID)
	})

	t.Run("two step cycle", func(t *testing.T) {
		t.Parallel()
		_, err := BuildGraph([]Step{
			{ID: "a", DependsOn: []string{"b"}},
			{ID: "b", DependsOn: []string{"a"}},
		})
		var cyclic *CyclicDependencyError
		require.ErrorAs(t, err, &cyclic)
		assert.Equal(t, []string{"a", "b"}, cyclic.Members)
	})

	t.Run("self dependency is a cycle", func(t *testing.T) {
		t.Parallel()
		_, err := BuildGraph([]Step{{ID: "a", DependsOn: []string{"a"}}})
		var cyclic *CyclicDependencyError
		require.ErrorAs(t, err, &cyclic)
		assert.Contains(t, cyclic.Members, "a")
	})

	t.Run("empty graph", func(t *testing.T) {
		t.Parallel()
		g, err := BuildGraph(nil)
		require.NoError(t, err)
		assert.Equal(t, 0, g.Len())
		assert.Empty(t, g.TopologicalOrder())
	})

	t.Run("missing risk defaults to low", func(t *testing.T) {
		t.Parallel()
		g, err := BuildGraph([]Step{{ID: "a"}})
		require.NoError(t, err)
		s, ok := g.Step("a")
		require.True(t, ok)
		assert.Equal(t, RiskLow, s.Risk)
	})
}

func TestTopologicalOrderRespectsDependencies(t *testing.T) {
	t.Parallel()

	g, err := BuildGraph([]Step{
		{ID: "deploy", DependsOn: []string{"build", "migrate"}},
		{ID: "build", DependsOn: []string{"fetch"}},
		{ID: "migrate", DependsOn: []string{"fetch"}},
		{ID: "fetch"},
		{ID: "verify", DependsOn: []string{"deploy"}},
	})
	require.NoError(t, err)

	order := g.TopologicalOrder()
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, s := range g.Steps() {
		for _, dep := range s.DependsOn {
			assert.Less(t, pos[dep], pos[s.ID], "%s must come after %s", s.ID, dep)
		}
	}

	// Independent siblings drain in ascending id order.
	assert.Equal(t, []string{"fetch", "build", "migrate", "deploy", "verify"}, order)
}

func TestReadySteps(t *testing.T) {
	t.Parallel()

	g, err := BuildGraph([]Step{
		{ID: "a"},
		{ID: "b"},
		{ID: "c", DependsOn: []string{"a"}},
		{ID: "d", DependsOn: []string{"a", "b"}},
	})
	require.NoError(t, err)

	tests := []struct {
		name      string
		completed map[string]bool
		want      []string
	}{
		{name: "nothing completed", completed: nil, want: []string{"a", "b"}},
		{name: "a completed", completed: map[string]bool{"a": true}, want: []string{"b", "c"}},
		{name: "a and b completed", completed: map[string]bool{"a": true, "b": true}, want: []string{"c", "d"}},
		{name: "everything completed", completed: map[string]bool{"a": true, "b": true, "c": true, "d": true}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, g.ReadySteps(tt.completed))
		})
	}
}

func TestDependents(t *testing.T) {
	t.Parallel()

	g, err := BuildGraph([]Step{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c"}, g.Dependents("a"))
	assert.Empty(t, g.Dependents("b"))
}

func TestBuildGraphErrorMessages(t *testing.T) {
	t.Parallel()

	_, err := BuildGraph([]Step{
		{ID: "x", DependsOn: []string{"y"}},
		{ID: "y", DependsOn: []string{"x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic dependency")

	var cyclic *CyclicDependencyError
	require.True(t, errors.As(err, &cyclic))
}
