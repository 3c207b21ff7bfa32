package state

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/atelier-dev/atelier/pkg/models"
)

// Project CRUD operations

// CreateProject registers a project.
func (db *DB) CreateProject(p *models.Project) error {
	_, err := db.Exec(`
		INSERT INTO projects (id, repo_path, default_branch, created_at)
		VALUES (?, ?, ?, ?)
	`, p.ID, p.RepoPath, p.DefaultBranch, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID. Returns nil if not found.
func (db *DB) GetProject(id string) (*models.Project, error) {
	row := db.QueryRow(`
		SELECT id, repo_path, default_branch, created_at
		FROM projects WHERE id = ?
	`, id)

	var p models.Project
	var createdAt string
	err := row.Scan(&p.ID, &p.RepoPath, &p.DefaultBranch, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	p.CreatedAt, _ = parseTime(createdAt)
	return &p, nil
}

// GetProjectByPath retrieves the project registered for a repository
// path. Returns nil if the repository was never initialized.
func (db *DB) GetProjectByPath(repoPath string) (*models.Project, error) {
	row := db.QueryRow(`
		SELECT id, repo_path, default_branch, created_at
		FROM projects WHERE repo_path = ?
	`, repoPath)

	var p models.Project
	var createdAt string
	err := row.Scan(&p.ID, &p.RepoPath, &p.DefaultBranch, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project by path: %w", err)
	}

	p.CreatedAt, _ = parseTime(createdAt)
	return &p, nil
}

// Feature operations

// CreateFeature creates a feature together with its initial task set in a
// single transaction. Tasks are created in bulk at feature-creation time;
// their dependency edges are immutable afterward.
func (db *DB) CreateFeature(f *models.Feature, tasks []*models.Task) error {
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return err
		}
	}

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO features (id, project_id, name, branch, status, archived, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, f.ID, f.ProjectID, f.Name, f.Branch, string(f.Status), boolToInt(f.Archived), formatTime(f.CreatedAt))
		if err != nil {
			return fmt.Errorf("create feature: %w", err)
		}

		for _, t := range tasks {
			if err := insertTaskTx(tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetFeature retrieves a feature by ID. Returns nil if not found.
func (db *DB) GetFeature(id string) (*models.Feature, error) {
	row := db.QueryRow(`
		SELECT id, project_id, name, branch, status, archived, created_at
		FROM features WHERE id = ?
	`, id)
	return scanFeatureRow(row)
}

// ListFeatures lists non-archived features for a project, oldest first.
func (db *DB) ListFeatures(projectID string) ([]models.Feature, error) {
	rows, err := db.Query(`
		SELECT id, project_id, name, branch, status, archived, created_at
		FROM features WHERE project_id = ? AND archived = 0 ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	defer rows.Close()

	var features []models.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		features = append(features, *f)
	}
	return features, nil
}

// UpdateFeatureStatus transitions a feature's lifecycle state.
func (db *DB) UpdateFeatureStatus(id string, status models.FeatureStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid feature status %q", status)
	}
	_, err := db.Exec("UPDATE features SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("update feature status: %w", err)
	}
	return nil
}

// ArchiveFeature hides a feature from listings. Features are never deleted.
func (db *DB) ArchiveFeature(id string) error {
	_, err := db.Exec("UPDATE features SET archived = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("archive feature: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeature(s rowScanner) (*models.Feature, error) {
	var f models.Feature
	var createdAt string
	var archived int
	if err := s.Scan(&f.ID, &f.ProjectID, &f.Name, &f.Branch, &f.Status, &archived, &createdAt); err != nil {
		return nil, fmt.Errorf("scan feature: %w", err)
	}
	f.Archived = archived != 0
	f.CreatedAt, _ = parseTime(createdAt)
	return &f, nil
}

func scanFeatureRow(row *sql.Row) (*models.Feature, error) {
	f, err := scanFeature(row)
	if err != nil {
		if sqlNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

func sqlNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
