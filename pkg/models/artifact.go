package models

import "time"

// Artifact is an immutable record of something a worker produced while
// executing a task. Artifacts are append-only: never mutated or deleted.
type Artifact struct {
	// ID is the unique identifier for this artifact.
	ID string `json:"id"`
	// TaskID is the task that produced the artifact.
	TaskID string `json:"task_id"`
	// FeatureID is the owning feature.
	FeatureID string `json:"feature_id"`
	// Phase is the phase of the producing task.
	Phase TaskPhase `json:"phase"`
	// Filename is the artifact's name as reported by the worker.
	Filename string `json:"filename"`
	// ContentRef locates the artifact content (path, URL, object key).
	ContentRef string `json:"content_ref"`
	// Type describes the artifact kind (doc, code, schema, report, ...).
	Type string `json:"type"`
	// Description is an optional free-text summary.
	Description string `json:"description,omitempty"`
	// CreatedBy is the worker identity that logged the artifact.
	CreatedBy string `json:"created_by"`
	// CreatedAt is when the artifact was logged.
	CreatedAt time.Time `json:"created_at"`
}

// Decision is an immutable record of a choice made while executing a
// task, with its rationale. Like artifacts, decisions are append-only.
type Decision struct {
	// ID is the unique identifier for this decision.
	ID string `json:"id"`
	// TaskID is the task the decision was made under.
	TaskID string `json:"task_id"`
	// FeatureID is the owning feature.
	FeatureID string `json:"feature_id"`
	// Phase is the phase of the deciding task.
	Phase TaskPhase `json:"phase"`
	// Decision is the choice that was made.
	Decision string `json:"decision"`
	// Rationale explains why.
	Rationale string `json:"rationale,omitempty"`
	// CreatedBy is the worker identity that logged the decision.
	CreatedBy string `json:"created_by"`
	// CreatedAt is when the decision was logged.
	CreatedAt time.Time `json:"created_at"`
}

// Blocker records a worker-reported obstruction on a task.
type Blocker struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	Description string     `json:"description"`
	Severity    string     `json:"severity"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// AnomalyKind classifies an anomaly record.
type AnomalyKind string

const (
	// AnomalyLeaseReclaimed is emitted when an expired lease is reclaimed.
	AnomalyLeaseReclaimed AnomalyKind = "lease_reclaimed"
	// AnomalyWorkspaceLeaked is emitted when workspace teardown exhausts
	// its retries.
	AnomalyWorkspaceLeaked AnomalyKind = "workspace_leaked"
)

// Anomaly is an operational incident recorded for later inspection.
type Anomaly struct {
	ID        string      `json:"id"`
	Kind      AnomalyKind `json:"kind"`
	SubjectID string      `json:"subject_id"`
	Detail    string      `json:"detail,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
