package coordinator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-dev/atelier/pkg/models"
)

// ErrMergeConflict indicates task-branch integration hit conflicting
// changes. The merge is aborted and a blocker recorded; conflicts are
// resolved by a person, never automatically.
var ErrMergeConflict = errors.New("merge conflict during integration")

// IntegrateTask merges a completed task's branch into its feature branch
// with a no-fast-forward merge, keeping one merge commit per task in the
// feature history. On conflict the merge is aborted, a blocker is
// recorded with the conflicted files, and ErrMergeConflict is returned.
func (c *Coordinator) IntegrateTask(taskID string) error {
	task, err := c.db.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	if task.Status != models.TaskStatusDone {
		return fmt.Errorf("task %s is %s; only done tasks integrate", taskID, task.Status)
	}

	feature, err := c.db.GetFeature(task.FeatureID)
	if err != nil {
		return err
	}
	if feature == nil {
		return fmt.Errorf("feature %s not found", task.FeatureID)
	}

	branch := models.TaskBranchName(feature.ID, task.ID, task.Title)
	if ws, err := c.db.GetWorkspace(taskID); err != nil {
		return err
	} else if ws != nil {
		branch = ws.Branch
	}

	if err := c.ensureFeatureBranch(feature); err != nil {
		return err
	}
	if err := c.git.Checkout(feature.Branch); err != nil {
		return fmt.Errorf("checkout feature branch %s: %w", feature.Branch, err)
	}

	message := fmt.Sprintf("Integrate %s: %s", branch, task.Title)
	if err := c.git.MergeNoFFMessage(branch, message); err != nil {
		conflicted, listErr := c.git.ConflictedFiles()
		if abortErr := c.git.MergeAbort(); abortErr != nil {
			c.logger.Log("merge abort after conflict on %s: %v", branch, abortErr)
		}
		if listErr != nil || len(conflicted) == 0 {
			return fmt.Errorf("merge %s into %s: %w", branch, feature.Branch, err)
		}

		detail := fmt.Sprintf("merge of %s into %s conflicts in: %s",
			branch, feature.Branch, strings.Join(conflicted, ", "))
		b := &models.Blocker{
			ID:          uuid.New().String(),
			TaskID:      taskID,
			Description: detail,
			Severity:    "merge",
			CreatedAt:   time.Now(),
		}
		if err := c.db.CreateBlocker(b); err != nil {
			return err
		}
		c.logger.Log("integration of task %s conflicted: %s", taskID, detail)
		return fmt.Errorf("%w: %s", ErrMergeConflict, detail)
	}

	c.logger.Log("integrated task %s (%s) into %s", taskID, branch, feature.Branch)
	return nil
}
