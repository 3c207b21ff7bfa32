package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/atelier-dev/atelier/pkg/models"
)

// RegisterWorker registers a worker identity, replacing any prior
// registration with the same ID (workers may re-register on restart
// with updated capabilities).
func (db *DB) RegisterWorker(w *models.Worker) error {
	capabilities, _ := json.Marshal(w.Capabilities)

	_, err := db.Exec(`
		INSERT INTO workers (id, capabilities, registered_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET capabilities = excluded.capabilities
	`, w.ID, string(capabilities), formatTime(w.RegisteredAt))
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	return nil
}

// GetWorker retrieves a registered worker. Returns nil if unknown.
func (db *DB) GetWorker(id string) (*models.Worker, error) {
	row := db.QueryRow("SELECT id, capabilities, registered_at FROM workers WHERE id = ?", id)

	var w models.Worker
	var capabilities sql.NullString
	var registeredAt string
	err := row.Scan(&w.ID, &capabilities, &registeredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}

	if capabilities.Valid {
		json.Unmarshal([]byte(capabilities.String), &w.Capabilities)
	}
	w.RegisteredAt, _ = parseTime(registeredAt)
	return &w, nil
}
