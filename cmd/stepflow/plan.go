package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JuanCS-Dev/stepflow/workflow"
)

// planFile is the on-disk plan format.
type planFile struct {
	Name  string     `yaml:"name"`
	Steps []planStep `yaml:"steps"`
}

type planStep struct {
	ID               string   `yaml:"id"`
	Command          string   `yaml:"command"`
	DependsOn        []string `yaml:"depends_on"`
	Risk             string   `yaml:"risk"`
	RequiresApproval bool     `yaml:"requires_approval"`
}

// shellAction is the opaque action payload the shell executor understands.
type shellAction struct {
	Command string
}

func loadPlan(path string) ([]workflow.Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}

	var plan planFile
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan %s has no steps", path)
	}

	steps := make([]workflow.Step, 0, len(plan.Steps))
	for _, ps := range plan.Steps {
		if ps.ID == "" {
			return nil, fmt.Errorf("plan %s: step without id", path)
		}
		if ps.Command == "" {
			return nil, fmt.Errorf("plan %s: step %s has no command", path, ps.ID)
		}
		risk := workflow.RiskLevel(ps.Risk)
		switch risk {
		case "", workflow.RiskLow, workflow.RiskMedium, workflow.RiskHigh:
		default:
			return nil, fmt.Errorf("plan %s: step %s has unknown risk %q", path, ps.ID, ps.Risk)
		}
		steps = append(steps, workflow.Step{
			ID:               ps.ID,
			Action:           shellAction{Command: ps.Command},
			DependsOn:        ps.DependsOn,
			Risk:             risk,
			RequiresApproval: ps.RequiresApproval,
		})
	}
	return steps, nil
}
