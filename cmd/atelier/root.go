package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "atelier",
	Short: "Multi-agent development orchestration core",
	Long: `Atelier coordinates a fleet of autonomous coding workers on a shared
repository. Features decompose into phased tasks (design, implement,
test) connected by a dependency graph; workers pull ready tasks under
exclusive leases and execute them in isolated git worktrees.

Core capabilities:
- Persists features, tasks, and their dependency edges durably
- Hands each worker the single best ready task, exactly once
- Isolates every task on its own branch and checkout
- Aggregates design artifacts and decisions into worker context
- Reclaims expired leases and retired workspaces automatically`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(featureCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(integrateCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	Execute()
}
