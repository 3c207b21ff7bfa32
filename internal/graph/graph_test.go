package graph

import (
	"testing"
	"time"

	"github.com/atelier-dev/atelier/pkg/models"
)

func task(id string, phase models.TaskPhase, status models.TaskStatus, deps ...string) *models.Task {
	return &models.Task{
		ID:        id,
		FeatureID: "f-1",
		Title:     id,
		Phase:     phase,
		Status:    status,
		DependsOn: deps,
		CreatedAt: time.Now(),
	}
}

func TestBuildRejectsUnknownDependency(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{
		task("a", models.PhaseDesign, models.TaskStatusPending, "ghost"),
	})
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestBuildRejectsCycle(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{
		task("a", models.PhaseImplement, models.TaskStatusPending, "b"),
		task("b", models.PhaseImplement, models.TaskStatusPending, "c"),
		task("c", models.PhaseImplement, models.TaskStatusPending, "a"),
	})
	if err != ErrCycleDetected {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestIsReady(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{
		task("design", models.PhaseDesign, models.TaskStatusDone),
		task("impl", models.PhaseImplement, models.TaskStatusPending, "design"),
		task("test", models.PhaseTest, models.TaskStatusPending, "impl"),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	if !g.IsReady("impl") {
		t.Error("impl should be ready: its only dependency is done")
	}
	if g.IsReady("test") {
		t.Error("test should not be ready: impl is pending")
	}
	if g.IsReady("nope") {
		t.Error("unknown task should not be ready")
	}
}

func TestReadyOrdering(t *testing.T) {
	g := New()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	older := task("impl-old", models.PhaseImplement, models.TaskStatusPending)
	older.CreatedAt = base
	newer := task("impl-new", models.PhaseImplement, models.TaskStatusPending)
	newer.CreatedAt = base.Add(time.Hour)
	design := task("design", models.PhaseDesign, models.TaskStatusPending)
	design.CreatedAt = base.Add(2 * time.Hour)

	if err := g.Build([]*models.Task{newer, design, older}); err != nil {
		t.Fatalf("build: %v", err)
	}

	ready := g.Ready()
	if len(ready) != 3 {
		t.Fatalf("expected 3 ready tasks, got %d", len(ready))
	}
	// Design phase first despite being newest, then by creation time.
	if ready[0].ID != "design" || ready[1].ID != "impl-old" || ready[2].ID != "impl-new" {
		t.Errorf("unexpected order: %s, %s, %s", ready[0].ID, ready[1].ID, ready[2].ID)
	}
}

func TestReadySkipsNonPending(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{
		task("a", models.PhaseImplement, models.TaskStatusLeased),
		task("b", models.PhaseImplement, models.TaskStatusDone),
		task("c", models.PhaseImplement, models.TaskStatusPending),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	ready := g.Ready()
	if len(ready) != 1 || ready[0].ID != "c" {
		t.Errorf("expected only task c ready, got %d tasks", len(ready))
	}
}

func TestTopologicalSort(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{
		task("test", models.PhaseTest, models.TaskStatusPending, "impl"),
		task("impl", models.PhaseImplement, models.TaskStatusPending, "design"),
		task("design", models.PhaseDesign, models.TaskStatusPending),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("sort: %v", err)
	}

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	if pos["design"] > pos["impl"] || pos["impl"] > pos["test"] {
		t.Errorf("dependencies must sort before dependents: %v", order)
	}
}

func TestDependents(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{
		task("design", models.PhaseDesign, models.TaskStatusDone),
		task("i1", models.PhaseImplement, models.TaskStatusPending, "design"),
		task("i2", models.PhaseImplement, models.TaskStatusPending, "design"),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	deps := g.Dependents("design")
	if len(deps) != 2 || deps[0] != "i1" || deps[1] != "i2" {
		t.Errorf("expected [i1 i2], got %v", deps)
	}
}
