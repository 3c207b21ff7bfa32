// Package workspace provisions and tears down per-task isolated
// checkouts, each bound to a dedicated branch derived from the feature
// and task IDs.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/atelier-dev/atelier/internal/git"
	"github.com/atelier-dev/atelier/internal/state"
	"github.com/atelier-dev/atelier/pkg/models"
)

// ErrBranchConflict indicates the task branch already exists but points
// to a different base than requested. This is fatal and requires
// operator intervention; the manager never guesses.
var ErrBranchConflict = errors.New("workspace branch conflict")

// ErrCleanupFailure indicates teardown exhausted its retries. The
// workspace has been marked leaked for manual reclamation.
var ErrCleanupFailure = errors.New("workspace cleanup failed")

// Provider defines the interface for workspace management.
// This interface allows mocking workspace operations in tests.
type Provider interface {
	// Ensure provisions (or returns) the workspace for a task.
	Ensure(feature *models.Feature, task *models.Task, baseRef string) (*models.Workspace, error)
	// Teardown removes a task's checkout. The branch is retained.
	Teardown(taskID string) error
	// BaseDir returns the directory workspaces are created under.
	BaseDir() string
}

// Verify Manager implements Provider at compile time.
var _ Provider = (*Manager)(nil)

// Manager handles git worktree operations for task isolation. Workspace
// metadata is persisted as a sidecar record so that Ensure stays
// idempotent across process restarts. Operations on the same task are
// serialized; operations on different tasks run in parallel.
type Manager struct {
	baseDir  string
	repoPath string
	db       *state.DB
	git      git.Runner

	// teardown retry policy
	retries int
	backoff time.Duration

	mu    sync.Mutex // guards locks and the retry policy
	locks map[string]*sync.Mutex
}

// NewManager creates a workspace manager. baseDir defaults to
// <repo>/.atelier/worktrees when empty.
func NewManager(baseDir, repoPath string, db *state.DB) (*Manager, error) {
	return NewManagerWithRunner(baseDir, repoPath, db, git.NewRunner(repoPath))
}

// NewManagerWithRunner creates a workspace manager with a custom git
// runner (for testing).
func NewManagerWithRunner(baseDir, repoPath string, db *state.DB, runner git.Runner) (*Manager, error) {
	if baseDir == "" {
		baseDir = filepath.Join(repoPath, ".atelier", "worktrees")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace base directory: %w", err)
	}

	return &Manager{
		baseDir:  baseDir,
		repoPath: repoPath,
		db:       db,
		git:      runner,
		retries:  3,
		backoff:  500 * time.Millisecond,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// taskLock returns the mutex serializing operations on one task.
func (m *Manager) taskLock(taskID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[taskID] = l
	}
	return l
}

// SetTeardownPolicy overrides the teardown retry count and backoff.
func (m *Manager) SetTeardownPolicy(retries int, backoff time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries = retries
	m.backoff = backoff
}

// BaseDir returns the base directory where workspaces are created.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// RepoPath returns the path to the main git repository.
func (m *Manager) RepoPath() string {
	return m.repoPath
}

// Ensure provisions the workspace for a task, creating its dedicated
// branch from baseRef and an isolated checkout of that branch. Ensure is
// idempotent: repeated calls (including after a restart) return the same
// branch and path. A second branch or directory is never created for the
// same task. If the branch already exists on a different base than
// requested, Ensure fails with ErrBranchConflict.
func (m *Manager) Ensure(feature *models.Feature, task *models.Task, baseRef string) (*models.Workspace, error) {
	l := m.taskLock(task.ID)
	l.Lock()
	defer l.Unlock()

	rec, err := m.db.GetWorkspace(task.ID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		if rec.BaseRef != baseRef {
			return nil, fmt.Errorf("%w: task %s workspace recorded on base %q, requested %q",
				ErrBranchConflict, task.ID, rec.BaseRef, baseRef)
		}
		if rec.Live() {
			// AlreadyExists: idempotent no-op.
			return rec, nil
		}
		// Checkout was torn down earlier; recreate it on the same branch.
		if err := m.git.WorktreeAdd(rec.Path, rec.Branch); err != nil {
			return nil, fmt.Errorf("recreate workspace checkout: %w", err)
		}
		if err := m.db.ReviveWorkspace(task.ID); err != nil {
			return nil, err
		}
		rec.RemovedAt = nil
		rec.Leaked = false
		return rec, nil
	}

	branch := models.TaskBranchName(feature.ID, task.ID, task.Title)
	path := filepath.Join(m.baseDir, feature.ID, task.ID)

	exists, err := m.git.BranchExists(branch)
	if err != nil {
		return nil, err
	}
	if exists {
		// A branch with no sidecar record is only adoptable if it still
		// descends from the requested base; anything else is a conflict.
		ancestor, err := m.git.IsAncestor(baseRef, branch)
		if err != nil {
			return nil, err
		}
		if !ancestor {
			return nil, fmt.Errorf("%w: branch %s does not descend from %s", ErrBranchConflict, branch, baseRef)
		}
	} else {
		if err := m.git.CreateBranchFrom(branch, baseRef); err != nil {
			return nil, fmt.Errorf("create task branch: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create workspace parent directory: %w", err)
	}
	// Git refuses to check out one branch into two worktrees, which backs
	// up the lease manager if it ever double-assigns.
	if err := m.git.WorktreeAdd(path, branch); err != nil {
		return nil, fmt.Errorf("create workspace checkout: %w", err)
	}

	w := &models.Workspace{
		TaskID:    task.ID,
		FeatureID: feature.ID,
		Branch:    branch,
		Path:      path,
		BaseRef:   baseRef,
		CreatedAt: time.Now(),
	}
	if err := m.db.PutWorkspace(w); err != nil {
		return nil, err
	}
	return w, nil
}

// Teardown removes a task's checkout but never deletes the underlying
// branch or its history. Removal is retried with backoff; on exhaustion
// the workspace is marked leaked and reported, never silently dropped.
func (m *Manager) Teardown(taskID string) error {
	l := m.taskLock(taskID)
	l.Lock()
	defer l.Unlock()

	rec, err := m.db.GetWorkspace(taskID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no workspace recorded for task %s", taskID)
	}
	if !rec.Live() {
		// Already torn down.
		return nil
	}

	m.mu.Lock()
	retries, backoff := m.retries, m.backoff
	m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff * time.Duration(attempt))
		}

		_ = m.git.WorktreeUnlock(rec.Path) // may not be locked
		if err := m.git.WorktreeRemove(rec.Path, true); err != nil {
			// Git lost track of it; try removing the directory directly.
			if rmErr := os.RemoveAll(rec.Path); rmErr != nil {
				lastErr = fmt.Errorf("remove worktree: %v; remove directory: %w", err, rmErr)
				continue
			}
			_ = m.git.WorktreePruneExpireNow()
		}
		return m.db.MarkWorkspaceRemoved(taskID)
	}

	detail := fmt.Sprintf("teardown of %s failed after %d attempts: %v", rec.Path, retries+1, lastErr)
	if err := m.db.MarkWorkspaceLeaked(taskID, detail); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrCleanupFailure, detail)
}
