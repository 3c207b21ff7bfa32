package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/atelier-dev/atelier/internal/git"
	"github.com/atelier-dev/atelier/internal/state"
	"github.com/atelier-dev/atelier/pkg/models"
)

var (
	initForce         bool
	initDefaultBranch string
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Register a repository with Atelier",
	Long: `Register a git repository for use with Atelier.

This command sets up everything needed to coordinate workers:
  - Creates the .atelier directory structure
  - Opens and migrates the state database
  - Registers the project with its default branch

The directory argument is optional and defaults to the current directory.

Examples:
  atelier init                        # Register current repository
  atelier init ./myproject            # Register specific directory
  atelier init --default-branch main  # Override detected default branch`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().StringVar(&initDefaultBranch, "default-branch", "", "Override auto-detected default branch")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}

	root, err := findGitRoot(absPath)
	if err != nil {
		return err
	}

	fmt.Printf("Initializing Atelier in %s...\n\n", root)

	dbPath := state.ProjectDBPath(root)
	if _, err := os.Stat(dbPath); err == nil && !initForce {
		fmt.Println("Repository already initialized. Use --force to reinitialize.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		printStatus("✗", "State database", color.FgRed)
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		printStatus("✗", "Schema migration", color.FgRed)
		return err
	}
	printStatus("✓", "State database ready", color.FgGreen)

	defaultBranch := initDefaultBranch
	if defaultBranch == "" {
		runner := git.NewRunner(root)
		defaultBranch, err = runner.CurrentBranch()
		if err != nil {
			return fmt.Errorf("detect default branch: %w", err)
		}
	}

	existing, err := db.GetProjectByPath(root)
	if err != nil {
		return err
	}
	if existing != nil {
		printStatus("✓", fmt.Sprintf("Project already registered (%s)", existing.ID), color.FgGreen)
		return nil
	}

	p := &models.Project{
		ID:            uuid.New().String(),
		RepoPath:      root,
		DefaultBranch: defaultBranch,
		CreatedAt:     time.Now(),
	}
	if err := db.CreateProject(p); err != nil {
		printStatus("✗", "Project registration", color.FgRed)
		return err
	}
	printStatus("✓", fmt.Sprintf("Project registered on branch %s", defaultBranch), color.FgGreen)

	fmt.Println("\nNext: create a feature with 'atelier feature create --plan <plan.yaml> <name>'")
	return nil
}
