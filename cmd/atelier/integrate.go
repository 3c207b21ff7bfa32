package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var integrateCmd = &cobra.Command{
	Use:   "integrate <task-id>",
	Short: "Merge a done task's branch into its feature branch",
	Long: `Merge a completed task's branch into the feature branch with a
no-fast-forward merge, keeping one merge commit per task.

On conflict the merge is aborted and a blocker is recorded; nothing is
resolved automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: runIntegrate,
}

func runIntegrate(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.cleanup()

	if err := p.coord.IntegrateTask(args[0]); err != nil {
		return err
	}
	fmt.Printf("Integrated task %s\n", args[0])
	return nil
}

var releaseCmd = &cobra.Command{
	Use:   "release <task-id>",
	Short: "Release a task's lease early and return it to the pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		defer p.cleanup()

		if err := p.coord.ReleaseTask(args[0]); err != nil {
			return err
		}
		fmt.Printf("Task %s is pending again\n", args[0])
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <task-id>",
	Short: "Resolve a task's blockers and return it to the pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		defer p.cleanup()

		if err := p.coord.ResolveBlocker(args[0]); err != nil {
			return err
		}
		fmt.Printf("Task %s is pending again\n", args[0])
		return nil
	},
}
