package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestShellExecutorSuccess(t *testing.T) {
	t.Parallel()

	e := newShellExecutor(zap.NewNop())
	outcome, err := e.Execute(context.Background(), shellAction{Command: "echo hello"})
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, "hello", outcome.Output)
}

func TestShellExecutorFailure(t *testing.T) {
	t.Parallel()

	e := newShellExecutor(zap.NewNop())
	outcome, err := e.Execute(context.Background(), shellAction{Command: "echo 'boom: permission denied' >&2; exit 1"})
	require.NoError(t, err, "exit failure is a failure signal, not an executor error")
	assert.False(t, outcome.Success)
	require.NotNil(t, outcome.Failure)
	assert.Contains(t, outcome.Failure.Message, "permission denied")
}

func TestShellExecutorTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	e := newShellExecutor(zap.NewNop())
	_, err := e.Execute(ctx, shellAction{Command: "sleep 10"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShellExecutorRejectsUnknownAction(t *testing.T) {
	t.Parallel()

	e := newShellExecutor(zap.NewNop())
	outcome, err := e.Execute(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, outcome.Failure)
	assert.Equal(t, "malformed_input", outcome.Failure.Code)
}
