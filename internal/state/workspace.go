package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/atelier-dev/atelier/pkg/models"
)

const workspaceColumns = `task_id, feature_id, branch, path, base_ref, created_at, flagged, leaked, removed_at`

// PutWorkspace persists a workspace sidecar record. The record is the
// durable side of ensure-workspace idempotency: repeated provisioning
// calls, including after a restart, consult it before touching git.
func (db *DB) PutWorkspace(w *models.Workspace) error {
	_, err := db.Exec(`
		INSERT INTO workspaces (`+workspaceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.TaskID, w.FeatureID, w.Branch, w.Path, w.BaseRef, formatTime(w.CreatedAt),
		boolToInt(w.Flagged), boolToInt(w.Leaked), formatNullableTime(w.RemovedAt))
	if err != nil {
		return fmt.Errorf("put workspace: %w", err)
	}
	return nil
}

// GetWorkspace retrieves the workspace record for a task. Returns nil if
// the task has never had a workspace.
func (db *DB) GetWorkspace(taskID string) (*models.Workspace, error) {
	row := db.QueryRow(`SELECT `+workspaceColumns+` FROM workspaces WHERE task_id = ?`, taskID)

	w, err := scanWorkspace(row)
	if err != nil {
		if sqlNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}

// ListWorkspaces returns all workspace records, live and removed.
func (db *DB) ListWorkspaces() ([]models.Workspace, error) {
	rows, err := db.Query(`SELECT ` + workspaceColumns + ` FROM workspaces ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []models.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, *w)
	}
	return workspaces, nil
}

// MarkWorkspaceRemoved records that a workspace's checkout was torn down.
// The branch and its history remain.
func (db *DB) MarkWorkspaceRemoved(taskID string) error {
	_, err := db.Exec(`
		UPDATE workspaces SET removed_at = ? WHERE task_id = ? AND removed_at IS NULL
	`, formatTime(time.Now()), taskID)
	if err != nil {
		return fmt.Errorf("mark workspace removed: %w", err)
	}
	return nil
}

// ReviveWorkspace clears the removed marker after a checkout is
// recreated for an existing branch.
func (db *DB) ReviveWorkspace(taskID string) error {
	_, err := db.Exec("UPDATE workspaces SET removed_at = NULL, leaked = 0 WHERE task_id = ?", taskID)
	if err != nil {
		return fmt.Errorf("revive workspace: %w", err)
	}
	return nil
}

// FlagWorkspace marks a workspace as possibly holding uncommitted work.
func (db *DB) FlagWorkspace(taskID string) error {
	_, err := db.Exec("UPDATE workspaces SET flagged = 1 WHERE task_id = ?", taskID)
	if err != nil {
		return fmt.Errorf("flag workspace: %w", err)
	}
	return nil
}

// MarkWorkspaceLeaked marks a workspace whose teardown exhausted its
// retries and records the anomaly. Leaked workspaces need manual
// reclamation; they are never silently dropped.
func (db *DB) MarkWorkspaceLeaked(taskID, detail string) error {
	now := time.Now()
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("UPDATE workspaces SET leaked = 1 WHERE task_id = ?", taskID); err != nil {
			return fmt.Errorf("mark workspace leaked: %w", err)
		}
		return insertAnomalyTx(tx, models.AnomalyWorkspaceLeaked, taskID, detail, now)
	})
}

// ListReclaimableWorkspaces returns live workspaces whose task completed
// before the cutoff. A flagged workspace whose task went back to pending
// is not matched: it is retained until the task eventually completes and
// ages past the window.
func (db *DB) ListReclaimableWorkspaces(cutoff time.Time) ([]models.Workspace, error) {
	rows, err := db.Query(`
		SELECT w.task_id, w.feature_id, w.branch, w.path, w.base_ref, w.created_at, w.flagged, w.leaked, w.removed_at
		FROM workspaces w
		JOIN tasks t ON t.id = w.task_id
		WHERE w.removed_at IS NULL AND w.leaked = 0
		  AND t.status = 'done' AND t.completed_at <= ?
	`, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list reclaimable workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []models.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, *w)
	}
	return workspaces, nil
}

func scanWorkspace(s rowScanner) (*models.Workspace, error) {
	var w models.Workspace
	var createdAt string
	var removedAt sql.NullString
	var flagged, leaked int
	err := s.Scan(&w.TaskID, &w.FeatureID, &w.Branch, &w.Path, &w.BaseRef, &createdAt, &flagged, &leaked, &removedAt)
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	w.Flagged = flagged != 0
	w.Leaked = leaked != 0
	w.CreatedAt, _ = parseTime(createdAt)
	w.RemovedAt = parseNullableTime(removedAt)
	return &w, nil
}
