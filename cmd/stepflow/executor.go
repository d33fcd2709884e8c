package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/JuanCS-Dev/stepflow/workflow"
)

// shellExecutor runs shell-command actions through "sh -c". Exit failures are
// reported as failure signals so the engine can classify and retry them;
// only a missing shell counts as executor unavailability.
type shellExecutor struct {
	logger *zap.Logger
}

func newShellExecutor(logger *zap.Logger) *shellExecutor {
	return &shellExecutor{logger: logger.With(zap.String("component", "shell_executor"))}
}

func (e *shellExecutor) Execute(ctx context.Context, action any) (workflow.Outcome, error) {
	sa, ok := action.(shellAction)
	if !ok {
		return workflow.Outcome{Failure: &workflow.FailureSignal{
			Code:    "malformed_input",
			Message: fmt.Sprintf("unsupported action type %T", action),
		}}, nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", sa.Command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("running command", zap.String("command", sa.Command))
	err := cmd.Run()
	if err == nil {
		return workflow.Outcome{Success: true, Output: strings.TrimSpace(stdout.String())}, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return workflow.Outcome{}, ctx.Err()
	}
	if _, ok := err.(*exec.ExitError); !ok {
		// sh itself could not be started.
		return workflow.Outcome{}, fmt.Errorf("start command: %w", err)
	}

	message := strings.TrimSpace(stderr.String())
	if message == "" {
		message = err.Error()
	}
	return workflow.Outcome{Failure: &workflow.FailureSignal{Message: message}}, nil
}

// promptGate asks for approval on stdin before dispatching a gated step.
type promptGate struct{}

func (g *promptGate) RequestApproval(ctx context.Context, step workflow.Step) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, nil
	}
	cmd := ""
	if sa, ok := step.Action.(shellAction); ok {
		cmd = sa.Command
	}
	fmt.Printf("step %s (risk=%s) wants to run: %s\napprove? [y/N] ", step.ID, step.Risk, cmd)

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read approval: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
