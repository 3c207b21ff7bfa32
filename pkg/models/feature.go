package models

import "time"

// FeatureStatus represents the lifecycle state of a feature.
type FeatureStatus string

const (
	// FeatureStatusPlanning indicates no task has been assigned yet.
	FeatureStatusPlanning FeatureStatus = "planning"
	// FeatureStatusInProgress indicates at least one task has been assigned.
	FeatureStatusInProgress FeatureStatus = "in_progress"
	// FeatureStatusDone indicates every task in the feature is done.
	FeatureStatusDone FeatureStatus = "done"
)

// Valid returns true if the status is a known value.
func (s FeatureStatus) Valid() bool {
	switch s {
	case FeatureStatusPlanning, FeatureStatusInProgress, FeatureStatusDone:
		return true
	default:
		return false
	}
}

// Project is a single repository root that features belong to.
type Project struct {
	// ID is the unique identifier for this project.
	ID string `json:"id"`
	// RepoPath is the filesystem path to the repository root.
	RepoPath string `json:"repo_path"`
	// DefaultBranch is the branch new feature branches start from.
	DefaultBranch string `json:"default_branch"`
	// CreatedAt is when the project was registered.
	CreatedAt time.Time `json:"created_at"`
}

// Feature is a cohesive unit of work anchored by exactly one design task.
// Features are never deleted, only archived.
type Feature struct {
	// ID is the unique identifier for this feature.
	ID string `json:"id"`
	// ProjectID is the ID of the owning project.
	ProjectID string `json:"project_id"`
	// Name is the human-readable feature name.
	Name string `json:"name"`
	// Branch is the feature branch name (feature/{id}-{slug}).
	Branch string `json:"branch"`
	// Status is the lifecycle state of the feature.
	Status FeatureStatus `json:"status"`
	// Archived marks a finished feature hidden from listings.
	Archived bool `json:"archived,omitempty"`
	// CreatedAt is when the feature was created.
	CreatedAt time.Time `json:"created_at"`
}
