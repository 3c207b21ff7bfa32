// Package planner defines the boundary to the task-decomposition
// collaborator. Turning a natural-language feature description into a
// task plan happens outside the orchestration core; this package only
// carries the contract and a plan-file implementation for tooling and
// tests.
package planner

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/atelier-dev/atelier/pkg/models"
)

// TaskSpec describes one task in a decomposition plan. Keys are
// plan-local; they become task IDs only when the feature is created.
type TaskSpec struct {
	Key         string           `yaml:"key"`
	Title       string           `yaml:"title"`
	Description string           `yaml:"description,omitempty"`
	Phase       models.TaskPhase `yaml:"phase"`
	Priority    int              `yaml:"priority,omitempty"`
	Estimate    int              `yaml:"estimate,omitempty"`
	// Needs lists the keys of tasks that must be done first.
	Needs []string `yaml:"needs,omitempty"`
}

// Plan is a validated task decomposition for one feature.
type Plan struct {
	Name  string     `yaml:"name"`
	Tasks []TaskSpec `yaml:"tasks"`
}

// Planner decomposes a feature description into a task plan.
type Planner interface {
	Decompose(projectID, name, description string) (*Plan, error)
}

// Validate checks the structural rules every plan must satisfy: exactly
// one design task, resolvable dependency keys, and every implement/test
// task reaching the design task through its dependencies (that is what
// lets implement workspaces assume the feature branch exists).
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan %q has no tasks", p.Name)
	}

	byKey := make(map[string]*TaskSpec, len(p.Tasks))
	designKey := ""
	for i := range p.Tasks {
		t := &p.Tasks[i]
		if t.Key == "" {
			return fmt.Errorf("plan %q: task %d has no key", p.Name, i)
		}
		if _, dup := byKey[t.Key]; dup {
			return fmt.Errorf("plan %q: duplicate task key %q", p.Name, t.Key)
		}
		if !t.Phase.Valid() {
			return fmt.Errorf("plan %q: task %q has invalid phase %q", p.Name, t.Key, t.Phase)
		}
		if t.Phase == models.PhaseDesign {
			if designKey != "" {
				return fmt.Errorf("plan %q: more than one design task (%q and %q)", p.Name, designKey, t.Key)
			}
			designKey = t.Key
		}
		byKey[t.Key] = t
	}
	if designKey == "" {
		return fmt.Errorf("plan %q: no design task", p.Name)
	}

	for _, t := range p.Tasks {
		for _, need := range t.Needs {
			if need == t.Key {
				return fmt.Errorf("plan %q: task %q needs itself", p.Name, t.Key)
			}
			if _, ok := byKey[need]; !ok {
				return fmt.Errorf("plan %q: task %q needs unknown key %q", p.Name, t.Key, need)
			}
		}
	}

	// Every non-design task must reach the design task through needs.
	for _, t := range p.Tasks {
		if t.Phase == models.PhaseDesign {
			continue
		}
		if !reaches(byKey, t.Key, designKey, make(map[string]bool)) {
			return fmt.Errorf("plan %q: task %q does not depend on the design task", p.Name, t.Key)
		}
	}
	return nil
}

func reaches(byKey map[string]*TaskSpec, from, to string, visited map[string]bool) bool {
	if visited[from] {
		return false
	}
	visited[from] = true
	for _, need := range byKey[from].Needs {
		if need == to || reaches(byKey, need, to, visited) {
			return true
		}
	}
	return false
}

// FilePlanner reads pre-authored YAML plan files. It stands in for the
// decomposition collaborator in the CLI and in tests.
type FilePlanner struct {
	path string
}

// NewFilePlanner creates a planner reading the plan at path.
func NewFilePlanner(path string) *FilePlanner {
	return &FilePlanner{path: path}
}

// Decompose loads and validates the plan file. The description is
// ignored: the plan was authored ahead of time.
func (p *FilePlanner) Decompose(projectID, name, description string) (*Plan, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan file %s: %w", p.path, err)
	}
	if plan.Name == "" {
		plan.Name = name
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Verify FilePlanner implements Planner at compile time.
var _ Planner = (*FilePlanner)(nil)
