package planner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atelier-dev/atelier/pkg/models"
)

func validPlan() *Plan {
	return &Plan{
		Name: "auth",
		Tasks: []TaskSpec{
			{Key: "design", Title: "Design schema", Phase: models.PhaseDesign},
			{Key: "api", Title: "Implement API", Phase: models.PhaseImplement, Needs: []string{"design"}},
			{Key: "verify", Title: "Test flows", Phase: models.PhaseTest, Needs: []string{"api"}},
		},
	}
}

func TestValidateAcceptsWellFormedPlan(t *testing.T) {
	if err := validPlan().Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRequiresExactlyOneDesignTask(t *testing.T) {
	p := validPlan()
	p.Tasks = p.Tasks[1:]
	if err := p.Validate(); err == nil || !strings.Contains(err.Error(), "no design task") {
		t.Errorf("missing design: %v", err)
	}

	p = validPlan()
	p.Tasks = append(p.Tasks, TaskSpec{Key: "design2", Title: "More design", Phase: models.PhaseDesign})
	if err := p.Validate(); err == nil || !strings.Contains(err.Error(), "more than one design") {
		t.Errorf("double design: %v", err)
	}
}

func TestValidateRejectsUnknownNeeds(t *testing.T) {
	p := validPlan()
	p.Tasks[1].Needs = []string{"ghost"}
	if err := p.Validate(); err == nil {
		t.Error("expected error for unknown need")
	}
}

func TestValidateRequiresPathToDesign(t *testing.T) {
	p := validPlan()
	p.Tasks[2].Needs = nil // verify no longer reaches design
	err := p.Validate()
	if err == nil || !strings.Contains(err.Error(), "does not depend on the design task") {
		t.Errorf("detached task: %v", err)
	}

	// Transitive reachability is enough: verify -> api -> design.
	if err := validPlan().Validate(); err != nil {
		t.Errorf("transitive path rejected: %v", err)
	}
}

func TestFilePlannerDecompose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	plan := `name: User authentication
tasks:
  - key: design
    title: Design auth schema
    phase: design
    priority: 2
  - key: api
    title: Implement auth API
    phase: implement
    needs: [design]
  - key: verify
    title: Test auth flows
    phase: test
    needs: [api]
`
	if err := os.WriteFile(path, []byte(plan), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := NewFilePlanner(path).Decompose("p1", "ignored", "")
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if got.Name != "User authentication" {
		t.Errorf("name = %q", got.Name)
	}
	if len(got.Tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(got.Tasks))
	}
	if got.Tasks[0].Priority != 2 {
		t.Errorf("priority = %d, want 2", got.Tasks[0].Priority)
	}
	if got.Tasks[1].Needs[0] != "design" {
		t.Errorf("needs = %v", got.Tasks[1].Needs)
	}
}

func TestFilePlannerRejectsInvalidPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	plan := `name: broken
tasks:
  - key: api
    title: Implement
    phase: implement
`
	if err := os.WriteFile(path, []byte(plan), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewFilePlanner(path).Decompose("p1", "broken", ""); err == nil {
		t.Error("expected validation error")
	}
}
