package workspace

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// worktreeEntry is one entry parsed from 'git worktree list --porcelain'.
type worktreeEntry struct {
	Path   string
	Branch string
}

// parseWorktreeList parses the porcelain output of git worktree list.
func parseWorktreeList(output string) []worktreeEntry {
	var entries []worktreeEntry
	var current *worktreeEntry

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current != nil {
				entries = append(entries, *current)
				current = nil
			}
			continue
		}

		if strings.HasPrefix(line, "worktree ") {
			current = &worktreeEntry{Path: strings.TrimPrefix(line, "worktree ")}
		} else if strings.HasPrefix(line, "branch ") && current != nil {
			ref := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(ref, "refs/heads/")
		}
	}

	if current != nil {
		entries = append(entries, *current)
	}
	return entries
}

// CleanupOrphans removes checkouts under the base directory that have no
// live workspace record, and prunes stale git worktree entries. Returns
// the number removed. Run at startup, before workers are admitted: it
// does not coordinate with in-flight Ensure calls.
func (m *Manager) CleanupOrphans(verbose func(path string)) (int, error) {
	live := make(map[string]bool)
	records, err := m.db.ListWorkspaces()
	if err != nil {
		return 0, err
	}
	for _, w := range records {
		if w.Live() {
			live[w.Path] = true
		}
	}

	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range parseWorktreeList(output) {
		if entry.Path == m.repoPath {
			continue
		}
		// Only touch checkouts inside our base directory.
		rel, err := filepath.Rel(m.baseDir, entry.Path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if live[entry.Path] {
			continue
		}

		_ = m.git.WorktreeUnlock(entry.Path) // may not be locked
		if err := m.git.WorktreeRemove(entry.Path, true); err != nil {
			if err := os.RemoveAll(entry.Path); err != nil {
				continue
			}
		}
		if verbose != nil {
			verbose(entry.Path)
		}
		removed++
	}

	_ = m.git.WorktreePruneExpireNow()
	return removed, nil
}

// SweepRetired tears down workspaces of tasks completed longer ago than
// the retention window. Leaked workspaces are skipped (they need manual
// reclamation); teardown failures mark the workspace leaked and the
// sweep moves on.
func (m *Manager) SweepRetired(retention time.Duration, logf func(format string, args ...interface{})) (int, error) {
	if logf == nil {
		logf = func(format string, args ...interface{}) {}
	}

	cutoff := time.Now().Add(-retention)
	candidates, err := m.db.ListReclaimableWorkspaces(cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, w := range candidates {
		if err := m.Teardown(w.TaskID); err != nil {
			logf("[workspace] retention teardown of task %s failed: %v", w.TaskID, err)
			continue
		}
		logf("[workspace] retired workspace for task %s (%s)", w.TaskID, w.Path)
		removed++
	}
	return removed, nil
}

// RunRetentionLoop runs SweepRetired on a fixed interval until the
// context is canceled.
func (m *Manager) RunRetentionLoop(ctx context.Context, interval, retention time.Duration, logf func(format string, args ...interface{})) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepRetired(retention, logf)
		}
	}
}
