package models

import (
	"fmt"
	"time"
)

// TaskPhase represents the development phase a task belongs to.
// Phases are ordered: design before implement before test.
type TaskPhase string

const (
	// PhaseDesign is the design phase that anchors a feature.
	PhaseDesign TaskPhase = "design"
	// PhaseImplement is the implementation phase.
	PhaseImplement TaskPhase = "implement"
	// PhaseTest is the testing phase.
	PhaseTest TaskPhase = "test"
)

// Valid returns true if the phase is a known value.
func (p TaskPhase) Valid() bool {
	switch p {
	case PhaseDesign, PhaseImplement, PhaseTest:
		return true
	default:
		return false
	}
}

// Order returns the scheduling order of the phase. Lower runs first.
// Unknown phases sort last.
func (p TaskPhase) Order() int {
	switch p {
	case PhaseDesign:
		return 0
	case PhaseImplement:
		return 1
	case PhaseTest:
		return 2
	default:
		return 3
	}
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting to be assigned.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusLeased indicates the task has been claimed by a worker.
	TaskStatusLeased TaskStatus = "leased"
	// TaskStatusInProgress indicates the worker has started the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusBlocked indicates the task cannot proceed.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusDone indicates the task completed successfully.
	TaskStatusDone TaskStatus = "done"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusLeased, TaskStatusInProgress, TaskStatusBlocked, TaskStatusDone:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is retained for audit and never leaves.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone
}

// taskTransitions lists the legal status transitions.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusLeased},
	TaskStatusLeased:     {TaskStatusInProgress, TaskStatusPending, TaskStatusBlocked},
	TaskStatusInProgress: {TaskStatusDone, TaskStatusBlocked, TaskStatusPending},
	TaskStatusBlocked:    {TaskStatusPending},
	TaskStatusDone:       {},
}

// CanTransition returns true if a task may move from s to next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, t := range taskTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Task is the atomic unit of assignable work.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// FeatureID is the ID of the owning feature.
	FeatureID string `json:"feature_id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Phase is the development phase (design, implement, test).
	Phase TaskPhase `json:"phase"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Priority orders selection; higher is selected first.
	Priority int `json:"priority"`
	// Estimate is the estimated effort in abstract points.
	Estimate int `json:"estimate,omitempty"`
	// DependsOn lists task IDs that must be done before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// BlockedReason explains why the task is blocked, if it is.
	BlockedReason string `json:"blocked_reason,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task was completed, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Validate checks that the task is well formed.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task: missing id")
	}
	if t.FeatureID == "" {
		return fmt.Errorf("task %s: missing feature id", t.ID)
	}
	if !t.Phase.Valid() {
		return fmt.Errorf("task %s: invalid phase %q", t.ID, t.Phase)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("task %s: invalid status %q", t.ID, t.Status)
	}
	for _, dep := range t.DependsOn {
		if dep == t.ID {
			return fmt.Errorf("task %s: depends on itself", t.ID)
		}
	}
	return nil
}

// Ready returns true if every dependency is done according to the
// given lookup. The lookup reports the status of a task by ID.
func (t *Task) Ready(status func(id string) (TaskStatus, bool)) bool {
	for _, dep := range t.DependsOn {
		s, ok := status(dep)
		if !ok || s != TaskStatusDone {
			return false
		}
	}
	return true
}
