package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project-wide orchestration state",
	Long: `Display the orchestration state of the current repository.

Shows:
  - Features and their progress
  - Leased and blocked tasks
  - Recent anomalies (reclaimed leases, leaked workspaces)`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.cleanup()

	features, err := p.db.ListFeatures(p.record.ID)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	bold.Printf("Project %s (%s)\n\n", p.record.ID, p.root)

	if len(features) == 0 {
		fmt.Println("No features yet.")
		return nil
	}

	for _, f := range features {
		ctx, err := p.coord.GetFeatureContext(f.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%-12s %s  %s (%s)\n", f.Status, f.ID, f.Name, ctx.Progress)

		if ctx.Design != nil {
			printTaskLine(*ctx.Design)
		}
		for _, s := range ctx.Tasks {
			printTaskLine(s)
		}
		fmt.Println()
	}

	anomalies, err := p.db.ListAnomalies()
	if err != nil {
		return err
	}
	if len(anomalies) > 0 {
		bold.Println("Recent anomalies:")
		limit := len(anomalies)
		if limit > 10 {
			limit = 10
		}
		for _, a := range anomalies[:limit] {
			fmt.Printf("  %s  %-18s %s\n", a.CreatedAt.Format(time.RFC3339), a.Kind, a.Detail)
		}
	}

	return nil
}
