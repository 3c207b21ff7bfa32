package models

import "time"

// Workspace is an isolated, version-controlled working directory bound
// 1:1 to a task and to a dedicated branch derived from the feature and
// task IDs. The metadata here is persisted so repeated provisioning
// calls return identical results across process restarts.
type Workspace struct {
	// TaskID is the task this workspace belongs to.
	TaskID string `json:"task_id"`
	// FeatureID is the owning feature.
	FeatureID string `json:"feature_id"`
	// Branch is the dedicated task branch checked out in this workspace.
	Branch string `json:"branch"`
	// Path is the absolute filesystem path of the checkout.
	Path string `json:"path"`
	// BaseRef is the ref the branch was created from.
	BaseRef string `json:"base_ref"`
	// CreatedAt is when the workspace was first provisioned.
	CreatedAt time.Time `json:"created_at"`
	// Flagged marks a workspace whose lease was reclaimed; it may hold
	// uncommitted work and is exempt from cleanup until the retention
	// window elapses.
	Flagged bool `json:"flagged,omitempty"`
	// Leaked marks a workspace whose teardown failed after retries and
	// needs manual reclamation.
	Leaked bool `json:"leaked,omitempty"`
	// RemovedAt is when the checkout was torn down. The branch and its
	// history are always retained.
	RemovedAt *time.Time `json:"removed_at,omitempty"`
}

// Live returns true if the checkout still exists on disk as far as the
// metadata knows.
func (w *Workspace) Live() bool {
	return w.RemovedAt == nil
}
