package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/atelier-dev/atelier/pkg/models"
)

const artifactColumns = `id, task_id, feature_id, phase, filename, content_ref, type, description, created_by, created_at`
const decisionColumns = `id, task_id, feature_id, phase, decision, rationale, created_by, created_at`

// AppendArtifact appends an artifact to the log. Artifacts are immutable;
// there is no update or delete.
func (db *DB) AppendArtifact(a *models.Artifact) error {
	_, err := db.Exec(`
		INSERT INTO artifacts (`+artifactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.TaskID, a.FeatureID, string(a.Phase), a.Filename, a.ContentRef, a.Type,
		a.Description, a.CreatedBy, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("append artifact: %w", err)
	}
	return nil
}

// AppendDecision appends a decision to the log.
func (db *DB) AppendDecision(d *models.Decision) error {
	_, err := db.Exec(`
		INSERT INTO decisions (`+decisionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.TaskID, d.FeatureID, string(d.Phase), d.Decision, d.Rationale,
		d.CreatedBy, formatTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

// ArtifactFilter narrows artifact listings. Zero values match everything.
type ArtifactFilter struct {
	Phase models.TaskPhase
	Type  string
}

// ListArtifactsByFeature lists a feature's artifacts in creation order,
// optionally filtered by phase and type.
func (db *DB) ListArtifactsByFeature(featureID string, filter ArtifactFilter) ([]models.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE feature_id = ?`
	args := []any{featureID}
	if filter.Phase != "" {
		query += " AND phase = ?"
		args = append(args, string(filter.Phase))
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	query += " ORDER BY created_at, id"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	return scanArtifacts(rows)
}

// ListArtifactsByTask lists one task's artifacts in creation order.
func (db *DB) ListArtifactsByTask(taskID string) ([]models.Artifact, error) {
	rows, err := db.Query(`
		SELECT `+artifactColumns+` FROM artifacts WHERE task_id = ? ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts by task: %w", err)
	}
	defer rows.Close()

	return scanArtifacts(rows)
}

// ListDecisionsByFeature lists a feature's decisions chronologically.
func (db *DB) ListDecisionsByFeature(featureID string) ([]models.Decision, error) {
	rows, err := db.Query(`
		SELECT `+decisionColumns+` FROM decisions WHERE feature_id = ? ORDER BY created_at, id
	`, featureID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

// ListDecisionsByTask lists one task's decisions chronologically.
func (db *DB) ListDecisionsByTask(taskID string) ([]models.Decision, error) {
	rows, err := db.Query(`
		SELECT `+decisionColumns+` FROM decisions WHERE task_id = ? ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list decisions by task: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

// CreateBlocker records a worker-reported obstruction.
func (db *DB) CreateBlocker(b *models.Blocker) error {
	_, err := db.Exec(`
		INSERT INTO blockers (id, task_id, description, severity, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.TaskID, b.Description, b.Severity, formatTime(b.CreatedAt), formatNullableTime(b.ResolvedAt))
	if err != nil {
		return fmt.Errorf("create blocker: %w", err)
	}
	return nil
}

// ResolveBlockers marks all open blockers for a task resolved.
func (db *DB) ResolveBlockers(taskID string) error {
	_, err := db.Exec(`
		UPDATE blockers SET resolved_at = ? WHERE task_id = ? AND resolved_at IS NULL
	`, formatTime(time.Now()), taskID)
	if err != nil {
		return fmt.Errorf("resolve blockers: %w", err)
	}
	return nil
}

// ListOpenBlockers lists unresolved blockers for a task.
func (db *DB) ListOpenBlockers(taskID string) ([]models.Blocker, error) {
	rows, err := db.Query(`
		SELECT id, task_id, description, severity, created_at, resolved_at
		FROM blockers WHERE task_id = ? AND resolved_at IS NULL ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list blockers: %w", err)
	}
	defer rows.Close()

	var blockers []models.Blocker
	for rows.Next() {
		var b models.Blocker
		var createdAt string
		var resolvedAt sql.NullString
		if err := rows.Scan(&b.ID, &b.TaskID, &b.Description, &b.Severity, &createdAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan blocker: %w", err)
		}
		b.CreatedAt, _ = parseTime(createdAt)
		b.ResolvedAt = parseNullableTime(resolvedAt)
		blockers = append(blockers, b)
	}
	return blockers, nil
}

// ListAnomalies lists anomaly records, newest first.
func (db *DB) ListAnomalies() ([]models.Anomaly, error) {
	rows, err := db.Query(`
		SELECT id, kind, subject_id, detail, created_at
		FROM anomalies ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []models.Anomaly
	for rows.Next() {
		var a models.Anomaly
		var createdAt string
		var detail sql.NullString
		if err := rows.Scan(&a.ID, &a.Kind, &a.SubjectID, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		if detail.Valid {
			a.Detail = detail.String
		}
		a.CreatedAt, _ = parseTime(createdAt)
		anomalies = append(anomalies, a)
	}
	return anomalies, nil
}

func scanArtifacts(rows *sql.Rows) ([]models.Artifact, error) {
	var artifacts []models.Artifact
	for rows.Next() {
		var a models.Artifact
		var createdAt string
		var description, createdBy sql.NullString
		err := rows.Scan(&a.ID, &a.TaskID, &a.FeatureID, &a.Phase, &a.Filename,
			&a.ContentRef, &a.Type, &description, &createdBy, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		if description.Valid {
			a.Description = description.String
		}
		if createdBy.Valid {
			a.CreatedBy = createdBy.String
		}
		a.CreatedAt, _ = parseTime(createdAt)
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

func scanDecisions(rows *sql.Rows) ([]models.Decision, error) {
	var decisions []models.Decision
	for rows.Next() {
		var d models.Decision
		var createdAt string
		var rationale, createdBy sql.NullString
		err := rows.Scan(&d.ID, &d.TaskID, &d.FeatureID, &d.Phase, &d.Decision,
			&rationale, &createdBy, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if rationale.Valid {
			d.Rationale = rationale.String
		}
		if createdBy.Valid {
			d.CreatedBy = createdBy.String
		}
		d.CreatedAt, _ = parseTime(createdAt)
		decisions = append(decisions, d)
	}
	return decisions, nil
}
