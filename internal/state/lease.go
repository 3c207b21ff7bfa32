package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-dev/atelier/pkg/models"
)

// ErrLeaseDenied indicates an active lease already exists for the task
// under a different holder.
var ErrLeaseDenied = errors.New("lease denied: task already leased")

// ErrLeaseNotActive indicates a renew or release on a lease that has
// already expired or been released.
var ErrLeaseNotActive = errors.New("lease not active")

const leaseColumns = `id, task_id, holder_id, issued_at, expires_at, released_at`

// AcquireLease grants an exclusive lease on a task. Acquire is idempotent
// for the same holder: re-requesting before expiry returns the existing
// lease. A different holder is denied while a lease is active.
func (db *DB) AcquireLease(taskID, holderID string, ttl time.Duration) (*models.Lease, error) {
	now := time.Now()
	var lease *models.Lease

	err := db.Transaction(func(tx *sql.Tx) error {
		existing, err := leaseByTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Active(now) {
			if existing.HolderID == holderID {
				lease = existing
				return nil
			}
			return fmt.Errorf("%w (task %s held by %s)", ErrLeaseDenied, taskID, existing.HolderID)
		}

		var status models.TaskStatus
		row := tx.QueryRow("SELECT status FROM tasks WHERE id = ?", taskID)
		if err := row.Scan(&status); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("task %s not found", taskID)
			}
			return fmt.Errorf("get task status: %w", err)
		}
		if status != models.TaskStatusPending {
			return fmt.Errorf("%w (task %s is %s)", ErrLeaseDenied, taskID, status)
		}

		lease = &models.Lease{
			ID:        uuid.New().String(),
			TaskID:    taskID,
			HolderID:  holderID,
			IssuedAt:  now,
			ExpiresAt: now.Add(ttl),
		}
		if err := replaceLeaseTx(tx, lease); err != nil {
			return err
		}
		return updateTaskStatusTx(tx, taskID, models.TaskStatusLeased, "", now)
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// RenewLease extends an active lease's expiry by ttl from now.
func (db *DB) RenewLease(leaseID string, ttl time.Duration) (*models.Lease, error) {
	now := time.Now()
	var lease *models.Lease

	err := db.Transaction(func(tx *sql.Tx) error {
		l, err := leaseByIDTx(tx, leaseID)
		if err != nil {
			return err
		}
		if l == nil {
			return fmt.Errorf("lease %s not found", leaseID)
		}
		if !l.Active(now) {
			return fmt.Errorf("%w (lease %s)", ErrLeaseNotActive, leaseID)
		}

		l.ExpiresAt = now.Add(ttl)
		if _, err := tx.Exec("UPDATE leases SET expires_at = ? WHERE id = ?", formatTime(l.ExpiresAt), l.ID); err != nil {
			return fmt.Errorf("renew lease: %w", err)
		}
		lease = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// ReleaseLease ends a lease early. Releasing an already-inactive lease
// returns ErrLeaseNotActive.
func (db *DB) ReleaseLease(leaseID string) error {
	now := time.Now()
	return db.Transaction(func(tx *sql.Tx) error {
		return releaseLeaseTx(tx, leaseID, now)
	})
}

func releaseLeaseTx(tx *sql.Tx, leaseID string, now time.Time) error {
	res, err := tx.Exec(`
		UPDATE leases SET released_at = ? WHERE id = ? AND released_at IS NULL
	`, formatTime(now), leaseID)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w (lease %s)", ErrLeaseNotActive, leaseID)
	}
	return nil
}

// GetLeaseByTask returns the current lease row for a task, active or not.
// Returns nil if the task has never been leased.
func (db *DB) GetLeaseByTask(taskID string) (*models.Lease, error) {
	var lease *models.Lease
	err := db.Transaction(func(tx *sql.Tx) error {
		l, err := leaseByTaskTx(tx, taskID)
		lease = l
		return err
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// ListExpiredLeases returns leases past expiry that were never released.
func (db *DB) ListExpiredLeases(now time.Time) ([]models.Lease, error) {
	rows, err := db.Query(`
		SELECT `+leaseColumns+` FROM leases
		WHERE released_at IS NULL AND expires_at <= ?
	`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("list expired leases: %w", err)
	}
	defer rows.Close()

	var leases []models.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		leases = append(leases, *l)
	}
	return leases, nil
}

// ReclaimLease reclaims a single expired lease: the lease is closed, the
// task reverts to pending, the workspace (if any) is flagged rather than
// deleted, and an anomaly is recorded. Returns false if the lease was no
// longer expired by the time the transaction ran, which makes concurrent
// sweeps safe.
func (db *DB) ReclaimLease(leaseID string) (bool, error) {
	now := time.Now()
	reclaimed := false

	err := db.Transaction(func(tx *sql.Tx) error {
		l, err := leaseByIDTx(tx, leaseID)
		if err != nil {
			return err
		}
		if l == nil || !l.Expired(now) {
			return nil
		}

		if err := releaseLeaseTx(tx, l.ID, now); err != nil {
			return err
		}
		if err := updateTaskStatusTx(tx, l.TaskID, models.TaskStatusPending, "", now); err != nil {
			return err
		}

		// The workspace may hold uncommitted work: flag it, never delete it.
		if _, err := tx.Exec("UPDATE workspaces SET flagged = 1 WHERE task_id = ? AND removed_at IS NULL", l.TaskID); err != nil {
			return fmt.Errorf("flag workspace: %w", err)
		}

		detail := fmt.Sprintf("lease %s held by %s expired at %s", l.ID, l.HolderID, l.ExpiresAt.UTC().Format(time.RFC3339))
		if err := insertAnomalyTx(tx, models.AnomalyLeaseReclaimed, l.TaskID, detail, now); err != nil {
			return err
		}

		reclaimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return reclaimed, nil
}

// replaceLeaseTx installs a new lease row for a task, superseding any
// prior (inactive) row. leases.task_id is UNIQUE: one row per task.
func replaceLeaseTx(tx *sql.Tx, l *models.Lease) error {
	if _, err := tx.Exec("DELETE FROM leases WHERE task_id = ?", l.TaskID); err != nil {
		return fmt.Errorf("clear prior lease: %w", err)
	}
	_, err := tx.Exec(`
		INSERT INTO leases (`+leaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.ID, l.TaskID, l.HolderID, formatTime(l.IssuedAt), formatTime(l.ExpiresAt), formatNullableTime(l.ReleasedAt))
	if err != nil {
		return fmt.Errorf("insert lease: %w", err)
	}
	return nil
}

func leaseByTaskTx(tx *sql.Tx, taskID string) (*models.Lease, error) {
	row := tx.QueryRow(`SELECT `+leaseColumns+` FROM leases WHERE task_id = ?`, taskID)
	return scanLeaseRow(row)
}

func leaseByIDTx(tx *sql.Tx, id string) (*models.Lease, error) {
	row := tx.QueryRow(`SELECT `+leaseColumns+` FROM leases WHERE id = ?`, id)
	return scanLeaseRow(row)
}

func scanLease(s rowScanner) (*models.Lease, error) {
	var l models.Lease
	var issuedAt, expiresAt string
	var releasedAt sql.NullString
	if err := s.Scan(&l.ID, &l.TaskID, &l.HolderID, &issuedAt, &expiresAt, &releasedAt); err != nil {
		return nil, fmt.Errorf("scan lease: %w", err)
	}
	l.IssuedAt, _ = parseTime(issuedAt)
	l.ExpiresAt, _ = parseTime(expiresAt)
	l.ReleasedAt = parseNullableTime(releasedAt)
	return &l, nil
}

func scanLeaseRow(row *sql.Row) (*models.Lease, error) {
	l, err := scanLease(row)
	if err != nil {
		if sqlNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return l, nil
}

func insertAnomalyTx(tx *sql.Tx, kind models.AnomalyKind, subjectID, detail string, now time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO anomalies (id, kind, subject_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), string(kind), subjectID, detail, formatTime(now))
	if err != nil {
		return fmt.Errorf("record anomaly: %w", err)
	}
	return nil
}
