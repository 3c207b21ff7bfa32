// Package lease grants and reclaims exclusive assignment leases over tasks.
// A lease is the orchestrator's primary mutual-exclusion mechanism; the
// git worktree layer is the secondary safety net behind it.
package lease

import (
	"time"

	"github.com/atelier-dev/atelier/internal/state"
	"github.com/atelier-dev/atelier/pkg/models"
)

// Manager grants, renews, and releases leases backed by durable state.
type Manager struct {
	db  *state.DB
	ttl time.Duration
}

// NewManager creates a lease manager with the given default TTL.
func NewManager(db *state.DB, ttl time.Duration) *Manager {
	return &Manager{db: db, ttl: ttl}
}

// TTL returns the default lease duration.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Acquire grants an exclusive lease on a task with the default TTL.
// Idempotent for the same holder before expiry; denied with
// state.ErrLeaseDenied while another holder's lease is active.
func (m *Manager) Acquire(taskID, holderID string) (*models.Lease, error) {
	return m.db.AcquireLease(taskID, holderID, m.ttl)
}

// Renew extends an active lease by the default TTL from now. Workers
// call this as their heartbeat while actively working.
func (m *Manager) Renew(leaseID string) (*models.Lease, error) {
	return m.db.RenewLease(leaseID, m.ttl)
}

// Release ends a lease early, before its expiry.
func (m *Manager) Release(leaseID string) error {
	return m.db.ReleaseLease(leaseID)
}

// ByTask returns the current lease row for a task, active or not.
func (m *Manager) ByTask(taskID string) (*models.Lease, error) {
	return m.db.GetLeaseByTask(taskID)
}
