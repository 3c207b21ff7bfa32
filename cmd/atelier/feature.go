package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/atelier-dev/atelier/internal/featurectx"
	"github.com/atelier-dev/atelier/internal/planner"
	"github.com/atelier-dev/atelier/pkg/models"
)

var featurePlanPath string

var featureCmd = &cobra.Command{
	Use:   "feature",
	Short: "Create and inspect features",
}

var featureCreateCmd = &cobra.Command{
	Use:   "create <name> [description]",
	Short: "Create a feature from a task plan",
	Long: `Create a feature together with its full task set.

The plan file lists the feature's tasks, their phases, and their
dependency edges. Tasks are created in bulk; the dependency graph is
validated for cycles before anything is written.

Example plan:

  name: User authentication
  tasks:
    - key: design
      title: Design auth schema
      phase: design
    - key: api
      title: Implement auth API
      phase: implement
      needs: [design]
    - key: verify
      title: Test auth flows
      phase: test
      needs: [api]

Examples:
  atelier feature create --plan auth.yaml "User authentication"`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runFeatureCreate,
}

var featureStatusCmd = &cobra.Command{
	Use:   "status <feature-id>",
	Short: "Show a feature's tasks and progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeatureStatus,
}

var featureListCmd = &cobra.Command{
	Use:   "list",
	Short: "List features for this project",
	Args:  cobra.NoArgs,
	RunE:  runFeatureList,
}

func init() {
	featureCreateCmd.Flags().StringVar(&featurePlanPath, "plan", "", "Path to the YAML task plan (required)")
	featureCreateCmd.MarkFlagRequired("plan")

	featureCmd.AddCommand(featureCreateCmd)
	featureCmd.AddCommand(featureStatusCmd)
	featureCmd.AddCommand(featureListCmd)
}

func runFeatureCreate(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.cleanup()

	name := args[0]
	description := ""
	if len(args) > 1 {
		description = args[1]
	}

	feature, tasks, err := p.coord.CreateFeature(name, description, planner.NewFilePlanner(featurePlanPath))
	if err != nil {
		return err
	}

	fmt.Printf("Created feature %s (%s)\n", feature.ID, feature.Name)
	fmt.Printf("Branch: %s\n\n", feature.Branch)
	for _, t := range tasks {
		fmt.Printf("  [%s] %s  %s\n", t.Phase, t.ID, t.Title)
	}
	return nil
}

func runFeatureStatus(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.cleanup()

	ctx, err := p.coord.GetFeatureContext(args[0])
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	bold.Printf("%s (%s)\n", ctx.Feature.Name, ctx.Feature.ID)
	fmt.Printf("Branch:   %s\n", ctx.Feature.Branch)
	fmt.Printf("Status:   %s\n", ctx.Feature.Status)
	fmt.Printf("Progress: %s\n\n", ctx.Progress)

	if ctx.Design != nil {
		printTaskLine(*ctx.Design)
	}
	for _, s := range ctx.Tasks {
		printTaskLine(s)
	}

	if len(ctx.Decisions) > 0 {
		fmt.Println("\nDecisions:")
		for _, d := range ctx.Decisions {
			fmt.Printf("  - %s", d.Decision)
			if d.Rationale != "" {
				fmt.Printf(" (%s)", d.Rationale)
			}
			fmt.Println()
		}
	}
	return nil
}

func runFeatureList(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.cleanup()

	features, err := p.db.ListFeatures(p.record.ID)
	if err != nil {
		return err
	}
	if len(features) == 0 {
		fmt.Println("No features. Create one with 'atelier feature create'.")
		return nil
	}

	for _, f := range features {
		fmt.Printf("%s  %-12s %s\n", f.ID, f.Status, f.Name)
	}
	return nil
}

func printTaskLine(s featurectx.TaskSummary) {
	t := s.Task
	c := statusColor(t.Status)
	c.Printf("  %-11s", t.Status)
	fmt.Printf(" [%s] %s  %s", t.Phase, t.ID, t.Title)
	if t.Status == models.TaskStatusBlocked {
		if t.BlockedReason != "" {
			fmt.Printf("  (%s)", firstLine(t.BlockedReason))
		}
		if n := len(s.Dependents); n > 0 {
			fmt.Printf("  gating %d task(s)", n)
		}
	}
	fmt.Println()
}

func statusColor(s models.TaskStatus) *color.Color {
	switch s {
	case models.TaskStatusDone:
		return color.New(color.FgGreen)
	case models.TaskStatusBlocked:
		return color.New(color.FgRed)
	case models.TaskStatusLeased, models.TaskStatusInProgress:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgWhite)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
