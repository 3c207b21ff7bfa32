// Package featurectx computes cross-task context views. Workers use the
// feature-wide view to match conventions established by sibling tasks
// they have no formal dependency edge to.
package featurectx

import (
	"fmt"
	"sort"

	"github.com/atelier-dev/atelier/internal/graph"
	"github.com/atelier-dev/atelier/internal/state"
	"github.com/atelier-dev/atelier/pkg/models"
)

// TaskSummary bundles a task with everything it has produced.
type TaskSummary struct {
	Task      models.Task       `json:"task"`
	Artifacts []models.Artifact `json:"artifacts,omitempty"`
	Decisions []models.Decision `json:"decisions,omitempty"`
	// Dependents lists the sibling tasks gated behind this one. A blocked
	// task with dependents is holding up more than itself.
	Dependents []string `json:"dependents,omitempty"`
}

// FeatureContext is the aggregated view over every task in a feature.
// It is a strict superset of the direct-dependency view: it includes
// sibling tasks that share no dependency edge with the reader.
type FeatureContext struct {
	Feature models.Feature `json:"feature"`
	// Design summarizes the feature's anchoring design task.
	Design *TaskSummary `json:"design,omitempty"`
	// Tasks summarizes the implement/test tasks, ordered by phase then
	// creation time.
	Tasks []TaskSummary `json:"tasks,omitempty"`
	// ArtifactsByPhase groups every artifact in the feature by phase.
	// Each artifact appears exactly once.
	ArtifactsByPhase map[models.TaskPhase][]models.Artifact `json:"artifacts_by_phase,omitempty"`
	// Decisions lists every decision in the feature chronologically.
	Decisions []models.Decision `json:"decisions,omitempty"`
	// Progress is a human-readable status, e.g. "2 of 5 tasks done".
	Progress string `json:"progress"`
}

// TaskContext is the direct-dependency-only view for a single task.
type TaskContext struct {
	Task         models.Task   `json:"task"`
	Dependencies []TaskSummary `json:"dependencies,omitempty"`
}

// Aggregator computes context views from durable state.
type Aggregator struct {
	db *state.DB
}

// NewAggregator creates an aggregator over the given store.
func NewAggregator(db *state.DB) *Aggregator {
	return &Aggregator{db: db}
}

// FeatureContext returns the aggregated view for a feature. Every
// artifact and decision recorded for the feature appears exactly once:
// the per-task summaries and the phase grouping are projections of the
// same single query, so nothing is omitted or double-counted.
func (a *Aggregator) FeatureContext(featureID string) (*FeatureContext, error) {
	feature, err := a.db.GetFeature(featureID)
	if err != nil {
		return nil, err
	}
	if feature == nil {
		return nil, fmt.Errorf("feature %s not found", featureID)
	}

	tasks, err := a.db.ListTasksByFeature(featureID)
	if err != nil {
		return nil, err
	}
	artifacts, err := a.db.ListArtifactsByFeature(featureID, state.ArtifactFilter{})
	if err != nil {
		return nil, err
	}
	decisions, err := a.db.ListDecisionsByFeature(featureID)
	if err != nil {
		return nil, err
	}

	artifactsByTask := make(map[string][]models.Artifact)
	byPhase := make(map[models.TaskPhase][]models.Artifact)
	seen := make(map[string]bool)
	for _, art := range artifacts {
		if seen[art.ID] {
			continue
		}
		seen[art.ID] = true
		artifactsByTask[art.TaskID] = append(artifactsByTask[art.TaskID], art)
		byPhase[art.Phase] = append(byPhase[art.Phase], art)
	}

	decisionsByTask := make(map[string][]models.Decision)
	for _, d := range decisions {
		decisionsByTask[d.TaskID] = append(decisionsByTask[d.TaskID], d)
	}

	g := graph.New()
	if err := g.Build(tasks); err != nil {
		return nil, fmt.Errorf("feature %s: %w", featureID, err)
	}

	ctx := &FeatureContext{
		Feature:          *feature,
		ArtifactsByPhase: byPhase,
		Decisions:        decisions,
	}

	done := 0
	var rest []TaskSummary
	for _, t := range tasks {
		if t.Status == models.TaskStatusDone {
			done++
		}
		summary := TaskSummary{
			Task:       *t,
			Artifacts:  artifactsByTask[t.ID],
			Decisions:  decisionsByTask[t.ID],
			Dependents: g.Dependents(t.ID),
		}
		if t.Phase == models.PhaseDesign {
			ctx.Design = &summary
			continue
		}
		rest = append(rest, summary)
	}

	sort.SliceStable(rest, func(i, j int) bool {
		a, b := rest[i].Task, rest[j].Task
		if a.Phase.Order() != b.Phase.Order() {
			return a.Phase.Order() < b.Phase.Order()
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	ctx.Tasks = rest
	ctx.Progress = fmt.Sprintf("%d of %d tasks done", done, g.Size())

	return ctx, nil
}

// TaskContext returns the direct-dependency view for a task: the
// artifacts and decisions of the tasks it depends on, and nothing else.
func (a *Aggregator) TaskContext(taskID string) (*TaskContext, error) {
	task, err := a.db.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %s not found", taskID)
	}

	ctx := &TaskContext{Task: *task}
	for _, depID := range task.DependsOn {
		dep, err := a.db.GetTask(depID)
		if err != nil {
			return nil, err
		}
		if dep == nil {
			return nil, fmt.Errorf("task %s dependency %s not found", taskID, depID)
		}

		arts, err := a.db.ListArtifactsByTask(depID)
		if err != nil {
			return nil, err
		}
		decs, err := a.db.ListDecisionsByTask(depID)
		if err != nil {
			return nil, err
		}
		ctx.Dependencies = append(ctx.Dependencies, TaskSummary{
			Task:      *dep,
			Artifacts: arts,
			Decisions: decs,
		})
	}
	return ctx, nil
}

// FeatureArtifacts is a filtered projection of the feature's artifact log.
func (a *Aggregator) FeatureArtifacts(featureID string, phase models.TaskPhase, artifactType string) ([]models.Artifact, error) {
	return a.db.ListArtifactsByFeature(featureID, state.ArtifactFilter{Phase: phase, Type: artifactType})
}

// FeatureDecisions is the chronological decision log for a feature.
func (a *Aggregator) FeatureDecisions(featureID string) ([]models.Decision, error) {
	return a.db.ListDecisionsByFeature(featureID)
}
