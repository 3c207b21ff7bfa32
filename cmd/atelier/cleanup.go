package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atelier-dev/atelier/internal/lease"
)

var (
	cleanupVerbose bool
	cleanupRetired bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Reclaim expired leases and orphaned workspaces",
	Long: `Clean up after crashes and interrupted runs.

This command:
  - Reclaims expired leases (their tasks go back to pending)
  - Removes checkouts with no live workspace record
  - Runs git worktree prune

With --retired it also tears down workspaces of tasks done longer ago
than the retention window. Branches are never deleted.

Examples:
  atelier cleanup            # Reclaim leases and orphaned checkouts
  atelier cleanup -v         # Verbose output showing each removal
  atelier cleanup --retired  # Also sweep retired workspaces`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupVerbose, "verbose", "v", false, "Show each workspace as it's removed")
	cleanupCmd.Flags().BoolVar(&cleanupRetired, "retired", false, "Also sweep workspaces past the retention window")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.cleanup()

	var logf func(string, ...interface{})
	if cleanupVerbose {
		logf = func(format string, args ...interface{}) {
			fmt.Printf(format+"\n", args...)
		}
	}

	reclaimed, err := lease.NewReconciler(p.db, p.cfg.Lease.ReconcileInterval, logf).Sweep()
	if err != nil {
		return err
	}
	fmt.Printf("Reclaimed %d expired lease(s)\n", reclaimed)

	var verbose func(string)
	if cleanupVerbose {
		verbose = func(path string) { fmt.Printf("removed orphaned checkout %s\n", path) }
	}
	orphans, err := p.ws.CleanupOrphans(verbose)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d orphaned checkout(s)\n", orphans)

	if cleanupRetired {
		retired, err := p.ws.SweepRetired(p.cfg.Workspace.Retention, logf)
		if err != nil {
			return err
		}
		fmt.Printf("Retired %d workspace(s)\n", retired)
	}

	return nil
}
