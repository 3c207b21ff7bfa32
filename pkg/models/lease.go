package models

import "time"

// Lease is an exclusive, time-bounded claim binding one worker to one task.
// At most one active lease may exist per task at any instant.
type Lease struct {
	// ID is the unique identifier for this lease.
	ID string `json:"id"`
	// TaskID is the task this lease claims.
	TaskID string `json:"task_id"`
	// HolderID is the worker identity holding the lease.
	HolderID string `json:"holder_id"`
	// IssuedAt is when the lease was granted.
	IssuedAt time.Time `json:"issued_at"`
	// ExpiresAt is when the lease lapses unless renewed.
	ExpiresAt time.Time `json:"expires_at"`
	// ReleasedAt is when the lease was released early, if it was.
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// Active returns true if the lease has neither expired nor been released.
func (l *Lease) Active(now time.Time) bool {
	return l.ReleasedAt == nil && now.Before(l.ExpiresAt)
}

// Expired returns true if the lease lapsed without being released.
func (l *Lease) Expired(now time.Time) bool {
	return l.ReleasedAt == nil && !now.Before(l.ExpiresAt)
}

// Worker is a registered worker identity with its capability filter.
type Worker struct {
	// ID is the worker identity.
	ID string `json:"id"`
	// Capabilities lists the phases this worker can execute.
	// Empty means all phases.
	Capabilities []TaskPhase `json:"capabilities,omitempty"`
	// RegisteredAt is when the worker registered.
	RegisteredAt time.Time `json:"registered_at"`
}

// CanExecute returns true if the worker may take a task in the given phase.
func (w *Worker) CanExecute(p TaskPhase) bool {
	if len(w.Capabilities) == 0 {
		return true
	}
	for _, c := range w.Capabilities {
		if c == p {
			return true
		}
	}
	return false
}
