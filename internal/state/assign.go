package state

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-dev/atelier/internal/graph"
	"github.com/atelier-dev/atelier/pkg/models"
)

// ErrDependencyInvariant indicates the selection logic chose a task whose
// dependencies are not all done. This is an internal bug, not recoverable
// locally.
var ErrDependencyInvariant = errors.New("dependency invariant violated")

// SelectAndLease atomically selects the best ready, unleased task matching
// the worker's capability filter and grants a lease on it. Selection order:
// priority descending, then phase (design, implement, test), then earliest
// creation time. Returns (nil, nil, nil) when no task qualifies; that is
// backpressure, not an error.
//
// This is the single critical section of the assignment path: two
// concurrent calls can never lease the same task because the whole
// select-and-lease runs in one serialized transaction.
func (db *DB) SelectAndLease(worker *models.Worker, ttl time.Duration) (*models.Task, *models.Lease, error) {
	now := time.Now()
	var picked *models.Task
	var lease *models.Lease

	err := db.Transaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at`)
		if err != nil {
			return fmt.Errorf("load tasks: %w", err)
		}
		tasks, err := scanTasks(rows)
		rows.Close()
		if err != nil {
			return err
		}

		g := graph.New()
		if err := g.Build(tasks); err != nil {
			return fmt.Errorf("rebuild dependency graph: %w", err)
		}

		// Ready yields pending tasks with every dependency done, ordered
		// by phase then age; priority is the leading sort key on top.
		var candidates []*models.Task
		for _, t := range g.Ready() {
			if worker.CanExecute(t.Phase) {
				candidates = append(candidates, t)
			}
		}
		if len(candidates) == 0 {
			return nil
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Priority > candidates[j].Priority
		})
		task := candidates[0]

		// Re-verify the readiness invariant on the chosen task. Tripping
		// this means the selection above is buggy; surface it as fatal.
		if !g.IsReady(task.ID) {
			return fmt.Errorf("%w: task %s selected with unmet dependencies", ErrDependencyInvariant, task.ID)
		}

		// A pending task must not carry an active lease; skip the grant if
		// one somehow exists rather than double-leasing.
		if existing, err := leaseByTaskTx(tx, task.ID); err != nil {
			return err
		} else if existing != nil && existing.Active(now) {
			return fmt.Errorf("%w (task %s held by %s)", ErrLeaseDenied, task.ID, existing.HolderID)
		}

		l := &models.Lease{
			ID:        uuid.New().String(),
			TaskID:    task.ID,
			HolderID:  worker.ID,
			IssuedAt:  now,
			ExpiresAt: now.Add(ttl),
		}
		if err := replaceLeaseTx(tx, l); err != nil {
			return err
		}
		if err := updateTaskStatusTx(tx, task.ID, models.TaskStatusLeased, "", now); err != nil {
			return err
		}

		task.Status = models.TaskStatusLeased
		picked = task
		lease = l
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return picked, lease, nil
}
