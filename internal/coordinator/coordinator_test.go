package coordinator

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atelier-dev/atelier/internal/git"
	"github.com/atelier-dev/atelier/internal/lease"
	"github.com/atelier-dev/atelier/internal/planner"
	"github.com/atelier-dev/atelier/internal/state"
	"github.com/atelier-dev/atelier/internal/workspace"
	"github.com/atelier-dev/atelier/pkg/models"
)

// fakeRunner is an in-memory git.Runner.
type fakeRunner struct {
	branches  map[string]string // branch -> base
	worktrees map[string]string // path -> branch

	mergeConflict []string // files; non-empty makes merges conflict
	merged        []string // branches merged successfully
	checkedOut    string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		branches:  map[string]string{"main": ""},
		worktrees: make(map[string]string),
	}
}

func (f *fakeRunner) CurrentBranch() (string, error) { return f.checkedOut, nil }

func (f *fakeRunner) CreateBranchFrom(name, base string) error {
	if _, ok := f.branches[name]; ok {
		return fmt.Errorf("branch %s already exists", name)
	}
	f.branches[name] = base
	return nil
}

func (f *fakeRunner) BranchExists(name string) (bool, error) {
	_, ok := f.branches[name]
	return ok, nil
}

func (f *fakeRunner) RevParse(ref string) (string, error) { return "deadbeef", nil }

func (f *fakeRunner) IsAncestor(ref, branch string) (bool, error) {
	return f.branches[branch] == ref, nil
}

func (f *fakeRunner) Checkout(name string) error {
	f.checkedOut = name
	return nil
}

func (f *fakeRunner) WorktreeAdd(path, branch string) error {
	f.worktrees[path] = branch
	return nil
}

func (f *fakeRunner) WorktreeRemove(path string, force bool) error {
	delete(f.worktrees, path)
	return nil
}

func (f *fakeRunner) WorktreeUnlock(path string) error       { return nil }
func (f *fakeRunner) WorktreeListPorcelain() (string, error) { return "", nil }
func (f *fakeRunner) WorktreePruneExpireNow() error          { return nil }

func (f *fakeRunner) MergeNoFFMessage(branch, message string) error {
	if len(f.mergeConflict) > 0 {
		return errors.New("merge failed: conflicts")
	}
	f.merged = append(f.merged, branch)
	return nil
}

func (f *fakeRunner) MergeAbort() error                  { return nil }
func (f *fakeRunner) ConflictedFiles() ([]string, error) { return f.mergeConflict, nil }
func (f *fakeRunner) HasChanges() (bool, error)          { return false, nil }
func (f *fakeRunner) Run(args ...string) (string, error) { return "", nil }

var _ git.Runner = (*fakeRunner)(nil)

// stubPlanner hands back a fixed plan.
type stubPlanner struct {
	plan *planner.Plan
}

func (s stubPlanner) Decompose(projectID, name, description string) (*planner.Plan, error) {
	if err := s.plan.Validate(); err != nil {
		return nil, err
	}
	return s.plan, nil
}

func authPlan() *planner.Plan {
	return &planner.Plan{
		Name: "User authentication",
		Tasks: []planner.TaskSpec{
			{Key: "design", Title: "Design auth schema", Phase: models.PhaseDesign},
			{Key: "api", Title: "Implement auth API", Phase: models.PhaseImplement, Needs: []string{"design"}},
			{Key: "verify", Title: "Test auth flows", Phase: models.PhaseTest, Needs: []string{"api"}},
		},
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *state.DB, *fakeRunner) {
	t.Helper()

	dir := t.TempDir()
	db, err := state.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	project := &models.Project{
		ID: "p1", RepoPath: dir, DefaultBranch: "main", CreatedAt: time.Now(),
	}
	if err := db.CreateProject(project); err != nil {
		t.Fatalf("create project: %v", err)
	}

	runner := newFakeRunner()
	ws, err := workspace.NewManagerWithRunner(filepath.Join(dir, "worktrees"), dir, db, runner)
	if err != nil {
		t.Fatalf("new workspace manager: %v", err)
	}
	ws.SetTeardownPolicy(0, 0)

	leases := lease.NewManager(db, 30*time.Minute)
	return New(db, project, leases, ws, runner), db, runner
}

func register(t *testing.T, c *Coordinator, id string, caps ...models.TaskPhase) {
	t.Helper()
	if _, err := c.RegisterWorker(id, caps); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func TestCreateFeatureBuildsTaskGraph(t *testing.T) {
	c, db, _ := newTestCoordinator(t)

	feature, tasks, err := c.CreateFeature("User authentication", "", stubPlanner{authPlan()})
	if err != nil {
		t.Fatalf("create feature: %v", err)
	}
	if !strings.HasPrefix(feature.Branch, "feature/"+feature.ID+"-") {
		t.Errorf("feature branch = %s", feature.Branch)
	}
	if len(tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(tasks))
	}

	stored, err := db.ListTasksByFeature(feature.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(stored) != 3 {
		t.Errorf("stored tasks = %d, want 3", len(stored))
	}
	// The implement task's dependency key was rewritten to the design
	// task's generated ID.
	if len(tasks[1].DependsOn) != 1 || tasks[1].DependsOn[0] != tasks[0].ID {
		t.Errorf("dependency mapping: %v", tasks[1].DependsOn)
	}
}

func TestCreateFeatureRejectsCyclicPlan(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	cyclic := authPlan()
	cyclic.Tasks[0].Needs = []string{"verify"}
	cyclic.Tasks[0].Phase = models.PhaseDesign

	// Bypass plan validation to hit the graph check.
	p := stubPlannerNoValidate{cyclic}
	if _, _, err := c.CreateFeature("broken", "", p); err == nil {
		t.Error("expected cycle rejection")
	}
}

type stubPlannerNoValidate struct{ plan *planner.Plan }

func (s stubPlannerNoValidate) Decompose(projectID, name, description string) (*planner.Plan, error) {
	return s.plan, nil
}

func TestCreateFeatureStampsTopologicalOrder(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	// Plan listed leaf-first: creation times must still follow the
	// dependency order, since creation time is the selection tiebreak.
	reversed := &planner.Plan{
		Name: "User authentication",
		Tasks: []planner.TaskSpec{
			{Key: "verify", Title: "Test auth flows", Phase: models.PhaseTest, Needs: []string{"api"}},
			{Key: "api", Title: "Implement auth API", Phase: models.PhaseImplement, Needs: []string{"design"}},
			{Key: "design", Title: "Design auth schema", Phase: models.PhaseDesign},
		},
	}
	_, tasks, err := c.CreateFeature("User authentication", "", stubPlanner{reversed})
	if err != nil {
		t.Fatalf("create feature: %v", err)
	}

	// Returned tasks keep plan order: verify, api, design.
	verify, api, design := tasks[0], tasks[1], tasks[2]
	if !design.CreatedAt.Before(api.CreatedAt) {
		t.Errorf("design (%v) not older than api (%v)", design.CreatedAt, api.CreatedAt)
	}
	if !api.CreatedAt.Before(verify.CreatedAt) {
		t.Errorf("api (%v) not older than verify (%v)", api.CreatedAt, verify.CreatedAt)
	}
}

func TestRequestNextTaskAssignsDesignFirst(t *testing.T) {
	c, _, runner := newTestCoordinator(t)
	register(t, c, "w1")

	feature, tasks, err := c.CreateFeature("User authentication", "", stubPlanner{authPlan()})
	if err != nil {
		t.Fatalf("create feature: %v", err)
	}

	a, err := c.RequestNextTask("w1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if a == nil {
		t.Fatal("expected an assignment")
	}
	if a.Task.ID != tasks[0].ID || a.Task.Phase != models.PhaseDesign {
		t.Errorf("assigned %s (%s), want the design task", a.Task.ID, a.Task.Phase)
	}
	if a.Lease.HolderID != "w1" {
		t.Errorf("lease holder = %s", a.Lease.HolderID)
	}
	// The design task bases on the default branch; the feature branch
	// does not exist yet.
	if a.Workspace.BaseRef != "main" {
		t.Errorf("base ref = %s, want main", a.Workspace.BaseRef)
	}
	if _, ok := runner.branches[feature.Branch]; ok {
		t.Error("feature branch created too early")
	}
	if a.FeatureContext == nil || a.TaskContext == nil {
		t.Error("context views missing")
	}

	// The remaining tasks are gated, so a second worker waits.
	register(t, c, "w2")
	b, err := c.RequestNextTask("w2")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if b != nil {
		t.Errorf("second worker got %s while deps are unmet", b.Task.ID)
	}
}

func TestRequestNextTaskRejectsUnknownWorker(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	if _, err := c.RequestNextTask("ghost"); !errors.Is(err, ErrUnknownWorker) {
		t.Fatalf("expected ErrUnknownWorker, got %v", err)
	}
}

func TestProgressFlowThroughImplement(t *testing.T) {
	c, db, runner := newTestCoordinator(t)
	register(t, c, "w1")

	feature, _, err := c.CreateFeature("User authentication", "", stubPlanner{authPlan()})
	if err != nil {
		t.Fatalf("create feature: %v", err)
	}

	design, err := c.RequestNextTask("w1")
	if err != nil || design == nil {
		t.Fatalf("design request: %v %v", design, err)
	}

	err = c.ReportTaskProgress(ProgressReport{
		WorkerID: "w1", TaskID: design.Task.ID, Status: models.TaskStatusInProgress,
		Artifacts: []models.Artifact{{Filename: "schema.md", ContentRef: "docs/schema.md", Type: "doc"}},
		Decisions: []models.Decision{{Decision: "sessions over JWT"}},
	})
	if err != nil {
		t.Fatalf("in-progress report: %v", err)
	}

	err = c.ReportTaskProgress(ProgressReport{
		WorkerID: "w1", TaskID: design.Task.ID, Status: models.TaskStatusDone,
	})
	if err != nil {
		t.Fatalf("done report: %v", err)
	}

	f, _ := db.GetFeature(feature.ID)
	if f.Status != models.FeatureStatusInProgress {
		t.Errorf("feature status = %s, want in_progress", f.Status)
	}

	// The implement task now bases on the feature branch, created on
	// demand from main.
	impl, err := c.RequestNextTask("w1")
	if err != nil || impl == nil {
		t.Fatalf("implement request: %v %v", impl, err)
	}
	if impl.Task.Phase != models.PhaseImplement {
		t.Errorf("phase = %s, want implement", impl.Task.Phase)
	}
	if impl.Workspace.BaseRef != feature.Branch {
		t.Errorf("base ref = %s, want %s", impl.Workspace.BaseRef, feature.Branch)
	}
	if runner.branches[feature.Branch] != "main" {
		t.Errorf("feature branch cut from %s, want main", runner.branches[feature.Branch])
	}

	// The design artifacts ride along in the dependency context.
	if len(impl.TaskContext.Dependencies) != 1 {
		t.Fatalf("dependencies = %d, want 1", len(impl.TaskContext.Dependencies))
	}
	dep := impl.TaskContext.Dependencies[0]
	if len(dep.Artifacts) != 1 || dep.Artifacts[0].Filename != "schema.md" {
		t.Errorf("dependency artifacts: %+v", dep.Artifacts)
	}
	if len(dep.Decisions) != 1 {
		t.Errorf("dependency decisions: %+v", dep.Decisions)
	}
}

func TestDoneReportKeepsCheckout(t *testing.T) {
	c, db, runner := newTestCoordinator(t)
	register(t, c, "w1")

	if _, _, err := c.CreateFeature("User authentication", "", stubPlanner{authPlan()}); err != nil {
		t.Fatalf("create feature: %v", err)
	}
	a, err := c.RequestNextTask("w1")
	if err != nil || a == nil {
		t.Fatalf("request: %v %v", a, err)
	}

	if err := c.ReportTaskProgress(ProgressReport{
		WorkerID: "w1", TaskID: a.Task.ID, Status: models.TaskStatusDone,
	}); err != nil {
		t.Fatalf("done report: %v", err)
	}

	// The branch may still need integration or inspection; only the
	// retention sweep reclaims the checkout.
	rec, err := db.GetWorkspace(a.Task.ID)
	if err != nil {
		t.Fatalf("get workspace: %v", err)
	}
	if rec == nil || !rec.Live() {
		t.Error("workspace record not live after done report")
	}
	if _, ok := runner.worktrees[a.Workspace.Path]; !ok {
		t.Error("checkout removed by done report")
	}
}

func TestReportFromNonHolderIsRejected(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	register(t, c, "w1")
	register(t, c, "w2")

	if _, _, err := c.CreateFeature("User authentication", "", stubPlanner{authPlan()}); err != nil {
		t.Fatalf("create feature: %v", err)
	}
	a, err := c.RequestNextTask("w1")
	if err != nil || a == nil {
		t.Fatalf("request: %v %v", a, err)
	}

	err = c.ReportTaskProgress(ProgressReport{
		WorkerID: "w2", TaskID: a.Task.ID, Status: models.TaskStatusDone,
	})
	if !errors.Is(err, ErrNotLeaseHolder) {
		t.Fatalf("expected ErrNotLeaseHolder, got %v", err)
	}

	if _, err := c.LogDecision("w2", a.Task.ID, models.Decision{Decision: "x"}); !errors.Is(err, ErrNotLeaseHolder) {
		t.Errorf("LogDecision by non-holder: %v", err)
	}
}

func TestBlockerRoundTrip(t *testing.T) {
	c, db, _ := newTestCoordinator(t)
	register(t, c, "w1")

	if _, _, err := c.CreateFeature("User authentication", "", stubPlanner{authPlan()}); err != nil {
		t.Fatalf("create feature: %v", err)
	}
	a, err := c.RequestNextTask("w1")
	if err != nil || a == nil {
		t.Fatalf("request: %v %v", a, err)
	}

	if err := c.ReportBlocker("w1", a.Task.ID, "spec ambiguity", ""); err != nil {
		t.Fatalf("report blocker: %v", err)
	}

	task, _ := db.GetTask(a.Task.ID)
	if task.Status != models.TaskStatusBlocked {
		t.Fatalf("task status = %s, want blocked", task.Status)
	}
	open, _ := db.ListOpenBlockers(a.Task.ID)
	if len(open) != 1 {
		t.Fatalf("open blockers = %d, want 1", len(open))
	}

	// The lease is gone, so the worker can pick up other work, and the
	// blocked task is not re-assigned.
	b, err := c.RequestNextTask("w1")
	if err != nil {
		t.Fatalf("request after blocker: %v", err)
	}
	if b != nil {
		t.Errorf("blocked task re-assigned: %s", b.Task.ID)
	}

	if err := c.ResolveBlocker(a.Task.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	task, _ = db.GetTask(a.Task.ID)
	if task.Status != models.TaskStatusPending {
		t.Errorf("task status = %s, want pending", task.Status)
	}
	open, _ = db.ListOpenBlockers(a.Task.ID)
	if len(open) != 0 {
		t.Errorf("blockers still open: %d", len(open))
	}
}

func TestReleaseTaskReturnsItToThePool(t *testing.T) {
	c, db, _ := newTestCoordinator(t)
	register(t, c, "w1")

	if _, _, err := c.CreateFeature("User authentication", "", stubPlanner{authPlan()}); err != nil {
		t.Fatalf("create feature: %v", err)
	}
	a, err := c.RequestNextTask("w1")
	if err != nil || a == nil {
		t.Fatalf("request: %v %v", a, err)
	}

	if err := c.ReleaseTask(a.Task.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	task, _ := db.GetTask(a.Task.ID)
	if task.Status != models.TaskStatusPending {
		t.Fatalf("task status = %s, want pending", task.Status)
	}

	// The same task is assignable again, to anyone.
	register(t, c, "w2")
	b, err := c.RequestNextTask("w2")
	if err != nil || b == nil {
		t.Fatalf("re-request: %v %v", b, err)
	}
	if b.Task.ID != a.Task.ID {
		t.Errorf("got %s, want released task %s", b.Task.ID, a.Task.ID)
	}
}

func TestIntegrateTaskMergesNoFF(t *testing.T) {
	c, db, runner := newTestCoordinator(t)
	register(t, c, "w1")

	feature, _, err := c.CreateFeature("User authentication", "", stubPlanner{authPlan()})
	if err != nil {
		t.Fatalf("create feature: %v", err)
	}
	a, err := c.RequestNextTask("w1")
	if err != nil || a == nil {
		t.Fatalf("request: %v %v", a, err)
	}
	if err := c.ReportTaskProgress(ProgressReport{
		WorkerID: "w1", TaskID: a.Task.ID, Status: models.TaskStatusDone,
	}); err != nil {
		t.Fatalf("done report: %v", err)
	}

	if err := c.IntegrateTask(a.Task.ID); err != nil {
		t.Fatalf("integrate: %v", err)
	}
	if runner.checkedOut != feature.Branch {
		t.Errorf("integration ran on %s, want %s", runner.checkedOut, feature.Branch)
	}
	if len(runner.merged) != 1 || runner.merged[0] != a.Workspace.Branch {
		t.Errorf("merged: %v", runner.merged)
	}

	// Conflicting merge aborts and records a blocker.
	b, err := c.RequestNextTask("w1")
	if err != nil || b == nil {
		t.Fatalf("implement request: %v %v", b, err)
	}
	if err := c.ReportTaskProgress(ProgressReport{
		WorkerID: "w1", TaskID: b.Task.ID, Status: models.TaskStatusDone,
	}); err != nil {
		t.Fatalf("done report: %v", err)
	}

	runner.mergeConflict = []string{"internal/auth/api.go"}
	err = c.IntegrateTask(b.Task.ID)
	if !errors.Is(err, ErrMergeConflict) {
		t.Fatalf("expected ErrMergeConflict, got %v", err)
	}
	open, _ := db.ListOpenBlockers(b.Task.ID)
	if len(open) != 1 || !strings.Contains(open[0].Description, "internal/auth/api.go") {
		t.Errorf("conflict blocker: %+v", open)
	}
}

func TestIntegrateRejectsUnfinishedTask(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	register(t, c, "w1")

	if _, _, err := c.CreateFeature("User authentication", "", stubPlanner{authPlan()}); err != nil {
		t.Fatalf("create feature: %v", err)
	}
	a, err := c.RequestNextTask("w1")
	if err != nil || a == nil {
		t.Fatalf("request: %v %v", a, err)
	}

	if err := c.IntegrateTask(a.Task.ID); err == nil {
		t.Error("expected rejection of non-done task")
	}
}

func TestFeatureCompletesWhenAllTasksDone(t *testing.T) {
	c, db, _ := newTestCoordinator(t)
	register(t, c, "w1")

	feature, _, err := c.CreateFeature("User authentication", "", stubPlanner{authPlan()})
	if err != nil {
		t.Fatalf("create feature: %v", err)
	}

	for i := 0; i < 3; i++ {
		a, err := c.RequestNextTask("w1")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if a == nil {
			t.Fatalf("request %d: no task", i)
		}
		if err := c.ReportTaskProgress(ProgressReport{
			WorkerID: "w1", TaskID: a.Task.ID, Status: models.TaskStatusDone,
		}); err != nil {
			t.Fatalf("done report %d: %v", i, err)
		}
	}

	f, _ := db.GetFeature(feature.ID)
	if f.Status != models.FeatureStatusDone {
		t.Errorf("feature status = %s, want done", f.Status)
	}
}
