package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atelier-dev/atelier/pkg/models"
)

const taskColumns = `id, feature_id, title, description, phase, status, priority, estimate, depends_on, blocked_reason, created_at, completed_at`

// insertTaskTx inserts a task within an existing transaction.
func insertTaskTx(tx *sql.Tx, t *models.Task) error {
	dependsOn, _ := json.Marshal(t.DependsOn)

	_, err := tx.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.FeatureID, t.Title, t.Description, string(t.Phase), string(t.Status),
		t.Priority, t.Estimate, string(dependsOn), t.BlockedReason,
		formatTime(t.CreatedAt), formatNullableTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns nil if not found.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if err != nil {
		if sqlNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// ListTasksByFeature lists all tasks belonging to a feature, oldest first.
func (db *DB) ListTasksByFeature(featureID string) ([]*models.Task, error) {
	rows, err := db.Query(`
		SELECT `+taskColumns+` FROM tasks WHERE feature_id = ? ORDER BY created_at
	`, featureID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by feature: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// ListTasks lists all tasks, optionally filtered by status, oldest first.
func (db *DB) ListTasks(status *models.TaskStatus) ([]*models.Task, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.Query(`
			SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at
		`, string(*status))
	} else {
		rows, err = db.Query(`
			SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at`)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// UpdateTaskStatus transitions a task to a new status, enforcing the
// state machine. Completion timestamps are set when the task reaches done.
func (db *DB) UpdateTaskStatus(id string, next models.TaskStatus, reason string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		return updateTaskStatusTx(tx, id, next, reason, time.Now())
	})
}

// updateTaskStatusTx performs the status transition within a transaction.
func updateTaskStatusTx(tx *sql.Tx, id string, next models.TaskStatus, reason string, now time.Time) error {
	var current models.TaskStatus
	row := tx.QueryRow("SELECT status FROM tasks WHERE id = ?", id)
	if err := row.Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("task %s not found", id)
		}
		return fmt.Errorf("get task status: %w", err)
	}

	if !current.CanTransition(next) {
		return fmt.Errorf("task %s: illegal transition %s -> %s", id, current, next)
	}

	var completedAt *string
	if next == models.TaskStatusDone {
		s := formatTime(now)
		completedAt = &s
	}

	_, err := tx.Exec(`
		UPDATE tasks SET status = ?, blocked_reason = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`, string(next), reason, completedAt, id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// taskStatusesTx loads the id -> status map for every task in a feature.
func taskStatusesTx(tx *sql.Tx, featureID string) (map[string]models.TaskStatus, error) {
	rows, err := tx.Query("SELECT id, status FROM tasks WHERE feature_id = ?", featureID)
	if err != nil {
		return nil, fmt.Errorf("load task statuses: %w", err)
	}
	defer rows.Close()

	statuses := make(map[string]models.TaskStatus)
	for rows.Next() {
		var id string
		var status models.TaskStatus
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan task status: %w", err)
		}
		statuses[id] = status
	}
	return statuses, nil
}

// scanTask scans a single task row.
func scanTask(s rowScanner) (*models.Task, error) {
	var t models.Task
	var createdAt string
	var completedAt sql.NullString
	var description, dependsOn, blockedReason sql.NullString
	err := s.Scan(&t.ID, &t.FeatureID, &t.Title, &description, &t.Phase, &t.Status,
		&t.Priority, &t.Estimate, &dependsOn, &blockedReason, &createdAt, &completedAt)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if description.Valid {
		t.Description = description.String
	}
	if dependsOn.Valid {
		json.Unmarshal([]byte(dependsOn.String), &t.DependsOn)
	}
	if blockedReason.Valid {
		t.BlockedReason = blockedReason.String
	}
	t.CreatedAt, _ = parseTime(createdAt)
	t.CompletedAt = parseNullableTime(completedAt)
	return &t, nil
}

// scanTasks scans task rows into a slice.
func scanTasks(rows *sql.Rows) ([]*models.Task, error) {
	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
