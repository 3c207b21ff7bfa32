package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/coordinator"
	"github.com/atelier-dev/atelier/internal/git"
	"github.com/atelier-dev/atelier/internal/lease"
	"github.com/atelier-dev/atelier/internal/state"
	"github.com/atelier-dev/atelier/internal/workspace"
	"github.com/atelier-dev/atelier/pkg/models"
)

// findGitRoot finds the root of the git repository starting from the given directory.
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitDir := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository")
		}
		dir = parent
	}
}

// project bundles everything a command needs once the repository is located.
type project struct {
	root    string
	cfg     *config.Config
	db      *state.DB
	record  *models.Project
	git     git.Runner
	ws      *workspace.Manager
	leases  *lease.Manager
	coord   *coordinator.Coordinator
	cleanup func()
}

// openProject opens the state database for the enclosing repository and
// wires up the coordinator stack.
func openProject() (*project, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	root, err := findGitRoot(cwd)
	if err != nil {
		return nil, err
	}

	dbPath := state.ProjectDBPath(root)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no atelier state at %s; run 'atelier init' first", dbPath)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	record, err := db.GetProjectByPath(root)
	if err != nil {
		db.Close()
		return nil, err
	}
	if record == nil {
		db.Close()
		return nil, fmt.Errorf("repository %s is not registered; run 'atelier init'", root)
	}

	runner := git.NewRunner(root)
	ws, err := workspace.NewManagerWithRunner(cfg.Workspace.BaseDir, root, db, runner)
	if err != nil {
		db.Close()
		return nil, err
	}
	ws.SetTeardownPolicy(cfg.Workspace.TeardownRetries, cfg.Workspace.TeardownBackoff)

	leases := lease.NewManager(db, cfg.Lease.TTL)
	coord := coordinator.New(db, record, leases, ws, runner)
	coord.SetRetryAfter(cfg.Assign.RetryAfter)
	coord.SetLogger(coordinator.NewDebugLoggerForRepo(root))

	return &project{
		root:    root,
		cfg:     cfg,
		db:      db,
		record:  record,
		git:     runner,
		ws:      ws,
		leases:  leases,
		coord:   coord,
		cleanup: func() { db.Close() },
	}, nil
}

// printStatus prints a colored status line.
func printStatus(symbol, message string, attr color.Attribute) {
	c := color.New(attr)
	c.Printf("%s %s\n", symbol, message)
}
