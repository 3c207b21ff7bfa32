// Package git provides an interface for git operations.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// CreateBranchFrom creates a new branch pointing at the given base ref
	// without checking it out.
	CreateBranchFrom(name, base string) error
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// RevParse resolves a ref to a commit hash.
	RevParse(ref string) (string, error)
	// IsAncestor returns true if ref is an ancestor of branch.
	IsAncestor(ref, branch string) (bool, error)
	// Checkout switches the main working tree to the specified branch.
	Checkout(name string) error
}

// WorktreeOperations defines the interface for git worktree operations.
// The worktree layer is what gives workspaces their isolation: git itself
// refuses to check out one branch into two working trees at once.
type WorktreeOperations interface {
	// WorktreeAdd creates a worktree at the given path checked out to an
	// existing branch.
	WorktreeAdd(path, branch string) error
	// WorktreeRemove removes the worktree at the given path. Force removes
	// it even with uncommitted changes.
	WorktreeRemove(path string, force bool) error
	// WorktreeUnlock unlocks a locked worktree.
	WorktreeUnlock(path string) error
	// WorktreeListPorcelain returns the raw porcelain listing output.
	WorktreeListPorcelain() (string, error)
	// WorktreePruneExpireNow prunes stale worktree entries immediately.
	WorktreePruneExpireNow() error
}

// MergeOperations defines the interface for git merge operations used
// during task-branch integration.
type MergeOperations interface {
	// MergeNoFFMessage merges the branch into the current branch with
	// --no-ff and a custom commit message.
	MergeNoFFMessage(branch, message string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// ConflictedFiles returns files with unmerged changes.
	ConflictedFiles() ([]string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
}

// Runner is the complete interface for git operations. Consumers should
// prefer the focused interfaces when possible.
type Runner interface {
	BranchOperations
	WorktreeOperations
	MergeOperations
	// Run executes an arbitrary git command and returns its output.
	Run(args ...string) (string, error)
}
