package lease

import (
	"context"
	"time"

	"github.com/atelier-dev/atelier/internal/state"
)

// Reconciler periodically reclaims leases past expiry with no completion
// report: the task reverts to pending, its workspace is flagged (not
// deleted), and an anomaly record is emitted. The sweep only acts on
// leases already expired, so it is idempotent and safe to run
// concurrently with live assignment traffic.
type Reconciler struct {
	db       *state.DB
	interval time.Duration
	logf     func(format string, args ...interface{})
}

// NewReconciler creates a reconciler sweeping at the given interval.
// logf may be nil.
func NewReconciler(db *state.DB, interval time.Duration, logf func(format string, args ...interface{})) *Reconciler {
	if logf == nil {
		logf = func(format string, args ...interface{}) {}
	}
	return &Reconciler{db: db, interval: interval, logf: logf}
}

// Run sweeps on a fixed interval until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Sweep(); err != nil {
				r.logf("[reconciler] sweep failed: %v", err)
			} else if n > 0 {
				r.logf("[reconciler] reclaimed %d expired lease(s)", n)
			}
		}
	}
}

// Sweep reclaims every currently-expired lease and returns how many were
// reclaimed. A lease that another sweep (or a renewal) got to first is
// skipped, not an error.
func (r *Reconciler) Sweep() (int, error) {
	expired, err := r.db.ListExpiredLeases(time.Now())
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, l := range expired {
		ok, err := r.db.ReclaimLease(l.ID)
		if err != nil {
			return reclaimed, err
		}
		if ok {
			r.logf("[reconciler] reclaimed lease %s (task %s, holder %s)", l.ID, l.TaskID, l.HolderID)
			reclaimed++
		}
	}
	return reclaimed, nil
}
