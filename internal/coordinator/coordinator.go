package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-dev/atelier/internal/featurectx"
	"github.com/atelier-dev/atelier/internal/git"
	"github.com/atelier-dev/atelier/internal/graph"
	"github.com/atelier-dev/atelier/internal/lease"
	"github.com/atelier-dev/atelier/internal/planner"
	"github.com/atelier-dev/atelier/internal/state"
	"github.com/atelier-dev/atelier/internal/workspace"
	"github.com/atelier-dev/atelier/pkg/models"
)

// ErrUnknownWorker indicates an operation from a worker that never
// registered.
var ErrUnknownWorker = errors.New("unknown worker")

// ErrNotLeaseHolder indicates a report from a worker that does not hold
// an active lease on the task it reports about. Such reports are
// rejected; the worker must re-request work.
var ErrNotLeaseHolder = errors.New("worker does not hold an active lease on task")

// Assignment is everything a worker needs to start on a task: the task
// itself, the lease proving exclusive ownership, the isolated workspace,
// and the context views assembled for it.
type Assignment struct {
	Task           models.Task
	Lease          models.Lease
	Workspace      models.Workspace
	TaskContext    *featurectx.TaskContext
	FeatureContext *featurectx.FeatureContext
}

// ProgressReport is a worker's account of where a task stands. Status
// must be in_progress (heartbeat with payload) or done.
type ProgressReport struct {
	WorkerID  string
	TaskID    string
	Status    models.TaskStatus
	Artifacts []models.Artifact
	Decisions []models.Decision
}

// Coordinator mediates between workers and the durable task graph. All
// worker-facing operations go through it; nothing mutates assignment
// state behind its back.
type Coordinator struct {
	db         *state.DB
	project    *models.Project
	leases     *lease.Manager
	workspaces workspace.Provider
	ctx        *featurectx.Aggregator
	git        git.Runner
	retryAfter time.Duration
	logger     *DebugLogger
}

// New creates a coordinator for the given project.
func New(db *state.DB, project *models.Project, leases *lease.Manager, workspaces workspace.Provider, runner git.Runner) *Coordinator {
	return &Coordinator{
		db:         db,
		project:    project,
		leases:     leases,
		workspaces: workspaces,
		ctx:        featurectx.NewAggregator(db),
		git:        runner,
		retryAfter: 15 * time.Second,
		logger:     NopLogger(),
	}
}

// SetLogger installs a debug logger.
func (c *Coordinator) SetLogger(l *DebugLogger) {
	if l != nil {
		c.logger = l
	}
}

// SetRetryAfter overrides the backpressure hint returned when no task is
// available.
func (c *Coordinator) SetRetryAfter(d time.Duration) {
	c.retryAfter = d
}

// RetryAfter is the delay workers should wait before re-requesting when
// no task was available.
func (c *Coordinator) RetryAfter() time.Duration {
	return c.retryAfter
}

// RegisterWorker registers (or re-registers) a worker identity with its
// capability set. An empty capability set means the worker takes any
// phase.
func (c *Coordinator) RegisterWorker(id string, capabilities []models.TaskPhase) (*models.Worker, error) {
	if id == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	for _, p := range capabilities {
		if !p.Valid() {
			return nil, fmt.Errorf("invalid capability %q", p)
		}
	}

	w := &models.Worker{
		ID:           id,
		Capabilities: capabilities,
		RegisteredAt: time.Now(),
	}
	if err := c.db.RegisterWorker(w); err != nil {
		return nil, err
	}
	c.logger.Log("worker %s registered with capabilities %v", id, capabilities)
	return w, nil
}

// RequestNextTask selects the best ready task for the worker, leases it,
// provisions its workspace, and assembles its context. Returns (nil, nil)
// when no task qualifies; the worker should wait RetryAfter and ask
// again. Selection and leasing happen in one critical section, so two
// workers can never be handed the same task.
func (c *Coordinator) RequestNextTask(workerID string) (*Assignment, error) {
	worker, err := c.db.GetWorker(workerID)
	if err != nil {
		return nil, err
	}
	if worker == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
	}

	task, taskLease, err := c.db.SelectAndLease(worker, c.leases.TTL())
	if err != nil {
		return nil, err
	}
	if task == nil {
		c.logger.Log("worker %s: no ready task available", workerID)
		return nil, nil
	}
	c.logger.Log("worker %s leased task %s (%s/%s)", workerID, task.ID, task.Phase, task.Title)

	feature, err := c.db.GetFeature(task.FeatureID)
	if err != nil {
		return nil, c.undoAssignment(task.ID, taskLease.ID, err)
	}
	if feature == nil {
		return nil, c.undoAssignment(task.ID, taskLease.ID, fmt.Errorf("feature %s not found", task.FeatureID))
	}

	baseRef, err := c.baseRefFor(feature, task)
	if err != nil {
		return nil, c.undoAssignment(task.ID, taskLease.ID, err)
	}

	ws, err := c.workspaces.Ensure(feature, task, baseRef)
	if err != nil {
		if errors.Is(err, workspace.ErrBranchConflict) {
			// Fatal for this task: park it for operator attention instead
			// of retrying into the same wall.
			return nil, c.parkOnConflict(task.ID, taskLease.ID, err)
		}
		return nil, c.undoAssignment(task.ID, taskLease.ID, err)
	}

	taskCtx, err := c.ctx.TaskContext(task.ID)
	if err != nil {
		return nil, c.undoAssignment(task.ID, taskLease.ID, err)
	}
	featureCtx, err := c.ctx.FeatureContext(feature.ID)
	if err != nil {
		return nil, c.undoAssignment(task.ID, taskLease.ID, err)
	}

	return &Assignment{
		Task:           *task,
		Lease:          *taskLease,
		Workspace:      *ws,
		TaskContext:    taskCtx,
		FeatureContext: featureCtx,
	}, nil
}

// baseRefFor resolves the ref a task's branch should be cut from. Design
// tasks base on the feature branch when it already exists, otherwise the
// project default branch. Implement and test tasks base on the feature
// branch, which is created from the default branch on first need.
func (c *Coordinator) baseRefFor(feature *models.Feature, task *models.Task) (string, error) {
	if task.Phase == models.PhaseDesign {
		exists, err := c.git.BranchExists(feature.Branch)
		if err != nil {
			return "", err
		}
		if exists {
			return feature.Branch, nil
		}
		return c.project.DefaultBranch, nil
	}

	if err := c.ensureFeatureBranch(feature); err != nil {
		return "", err
	}
	return feature.Branch, nil
}

// ensureFeatureBranch creates the feature branch from the project default
// branch if it does not exist yet.
func (c *Coordinator) ensureFeatureBranch(feature *models.Feature) error {
	exists, err := c.git.BranchExists(feature.Branch)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := c.git.CreateBranchFrom(feature.Branch, c.project.DefaultBranch); err != nil {
		return fmt.Errorf("create feature branch %s: %w", feature.Branch, err)
	}
	c.logger.Log("created feature branch %s from %s", feature.Branch, c.project.DefaultBranch)
	return nil
}

// undoAssignment unwinds a lease grant whose follow-up work failed, so
// the task goes back into the pool instead of sitting leased with no
// worker on it.
func (c *Coordinator) undoAssignment(taskID, leaseID string, cause error) error {
	c.logger.Log("assignment of task %s failed, unwinding: %v", taskID, cause)
	if err := c.leases.Release(leaseID); err != nil && !errors.Is(err, state.ErrLeaseNotActive) {
		return fmt.Errorf("%v (lease release also failed: %w)", cause, err)
	}
	if err := c.db.UpdateTaskStatus(taskID, models.TaskStatusPending, ""); err != nil {
		return fmt.Errorf("%v (task revert also failed: %w)", cause, err)
	}
	return cause
}

// parkOnConflict blocks a task whose workspace hit a branch conflict and
// records a blocker so an operator sees it.
func (c *Coordinator) parkOnConflict(taskID, leaseID string, cause error) error {
	if err := c.db.UpdateTaskStatus(taskID, models.TaskStatusBlocked, cause.Error()); err != nil {
		return fmt.Errorf("%v (blocking task also failed: %w)", cause, err)
	}
	if err := c.leases.Release(leaseID); err != nil && !errors.Is(err, state.ErrLeaseNotActive) {
		return fmt.Errorf("%v (lease release also failed: %w)", cause, err)
	}
	b := &models.Blocker{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		Description: cause.Error(),
		Severity:    "fatal",
		CreatedAt:   time.Now(),
	}
	if err := c.db.CreateBlocker(b); err != nil {
		return fmt.Errorf("%v (recording blocker also failed: %w)", cause, err)
	}
	return cause
}

// RenewLease extends a worker's lease; the worker's heartbeat while it is
// actively working.
func (c *Coordinator) RenewLease(leaseID string) (*models.Lease, error) {
	return c.leases.Renew(leaseID)
}

// ReleaseTask ends a task's lease early and returns the task to the
// pending pool without waiting for expiry. Used by a worker giving a
// task back, or by an operator. The workspace is retained for the usual
// debugging window.
func (c *Coordinator) ReleaseTask(taskID string) error {
	task, err := c.db.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}

	taskLease, err := c.leases.ByTask(taskID)
	if err != nil {
		return err
	}
	if taskLease != nil && taskLease.Active(time.Now()) {
		if err := c.leases.Release(taskLease.ID); err != nil {
			return err
		}
	}
	if task.Status == models.TaskStatusLeased || task.Status == models.TaskStatusInProgress {
		if err := c.db.UpdateTaskStatus(taskID, models.TaskStatusPending, ""); err != nil {
			return err
		}
	}
	c.logger.Log("task %s released back to pending", taskID)
	return nil
}

// ReportTaskProgress records a worker's progress on its leased task.
// Artifacts and decisions in the report are appended to the feature log.
// A done report completes the task, releases the lease, and rolls the
// feature status up; the workspace checkout stays until the retention
// sweep reclaims it. An in_progress report also renews the lease.
func (c *Coordinator) ReportTaskProgress(r ProgressReport) error {
	if r.Status != models.TaskStatusInProgress && r.Status != models.TaskStatusDone {
		return fmt.Errorf("progress status must be %s or %s, got %q",
			models.TaskStatusInProgress, models.TaskStatusDone, r.Status)
	}

	task, taskLease, err := c.verifyHolder(r.WorkerID, r.TaskID)
	if err != nil {
		return err
	}

	// A done report may arrive before any in_progress heartbeat; walk the
	// task through in_progress so the state machine holds.
	if r.Status == models.TaskStatusDone && task.Status == models.TaskStatusLeased {
		if err := c.db.UpdateTaskStatus(r.TaskID, models.TaskStatusInProgress, ""); err != nil {
			return err
		}
		task.Status = models.TaskStatusInProgress
	}
	if task.Status != r.Status {
		if err := c.db.UpdateTaskStatus(r.TaskID, r.Status, ""); err != nil {
			return err
		}
	}

	for i := range r.Artifacts {
		if err := c.logArtifact(task, r.WorkerID, &r.Artifacts[i]); err != nil {
			return err
		}
	}
	for i := range r.Decisions {
		if err := c.logDecision(task, r.WorkerID, &r.Decisions[i]); err != nil {
			return err
		}
	}

	if r.Status == models.TaskStatusInProgress {
		if _, err := c.leases.Renew(taskLease.ID); err != nil {
			return err
		}
		c.logger.Log("worker %s progressing on task %s", r.WorkerID, r.TaskID)
		return nil
	}

	if err := c.leases.Release(taskLease.ID); err != nil && !errors.Is(err, state.ErrLeaseNotActive) {
		return err
	}
	// The checkout stays until the retention sweep reclaims it; the work
	// on the branch may still need integration or inspection.
	c.logger.Log("worker %s completed task %s", r.WorkerID, r.TaskID)
	return c.rollupFeature(task.FeatureID)
}

// ReportBlocker parks a worker's leased task as blocked, records the
// blocker, and releases the lease so the worker can move on.
func (c *Coordinator) ReportBlocker(workerID, taskID, description, severity string) error {
	_, taskLease, err := c.verifyHolder(workerID, taskID)
	if err != nil {
		return err
	}

	if err := c.db.UpdateTaskStatus(taskID, models.TaskStatusBlocked, description); err != nil {
		return err
	}
	if severity == "" {
		severity = "normal"
	}
	b := &models.Blocker{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		Description: description,
		Severity:    severity,
		CreatedAt:   time.Now(),
	}
	if err := c.db.CreateBlocker(b); err != nil {
		return err
	}
	if err := c.leases.Release(taskLease.ID); err != nil && !errors.Is(err, state.ErrLeaseNotActive) {
		return err
	}
	c.logger.Log("worker %s blocked on task %s: %s", workerID, taskID, description)
	return nil
}

// ResolveBlocker clears a task's open blockers and returns it to the
// pending pool.
func (c *Coordinator) ResolveBlocker(taskID string) error {
	task, err := c.db.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	if task.Status != models.TaskStatusBlocked {
		return fmt.Errorf("task %s is %s, not blocked", taskID, task.Status)
	}

	if err := c.db.ResolveBlockers(taskID); err != nil {
		return err
	}
	return c.db.UpdateTaskStatus(taskID, models.TaskStatusPending, "")
}

// LogArtifact appends an artifact produced by a worker outside a progress
// report.
func (c *Coordinator) LogArtifact(workerID, taskID string, a models.Artifact) (*models.Artifact, error) {
	task, _, err := c.verifyHolder(workerID, taskID)
	if err != nil {
		return nil, err
	}
	if err := c.logArtifact(task, workerID, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// LogDecision appends a decision made by a worker outside a progress
// report.
func (c *Coordinator) LogDecision(workerID, taskID string, d models.Decision) (*models.Decision, error) {
	task, _, err := c.verifyHolder(workerID, taskID)
	if err != nil {
		return nil, err
	}
	if err := c.logDecision(task, workerID, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetTaskContext returns the direct-dependency context view for a task.
func (c *Coordinator) GetTaskContext(taskID string) (*featurectx.TaskContext, error) {
	return c.ctx.TaskContext(taskID)
}

// GetFeatureContext returns the aggregated feature-wide context view.
func (c *Coordinator) GetFeatureContext(featureID string) (*featurectx.FeatureContext, error) {
	return c.ctx.FeatureContext(featureID)
}

// CreateFeature decomposes a feature via the planner and persists the
// feature together with its full task set atomically. The dependency
// graph is validated for cycles before anything is written.
func (c *Coordinator) CreateFeature(name, description string, pl planner.Planner) (*models.Feature, []*models.Task, error) {
	plan, err := pl.Decompose(c.project.ID, name, description)
	if err != nil {
		return nil, nil, err
	}

	featureID := uuid.New().String()
	now := time.Now()

	ids := make(map[string]string, len(plan.Tasks))
	for _, spec := range plan.Tasks {
		ids[spec.Key] = uuid.New().String()
	}

	tasks := make([]*models.Task, 0, len(plan.Tasks))
	for _, spec := range plan.Tasks {
		deps := make([]string, 0, len(spec.Needs))
		for _, need := range spec.Needs {
			deps = append(deps, ids[need])
		}
		tasks = append(tasks, &models.Task{
			ID:          ids[spec.Key],
			FeatureID:   featureID,
			Title:       spec.Title,
			Description: spec.Description,
			Phase:       spec.Phase,
			Status:      models.TaskStatusPending,
			Priority:    spec.Priority,
			Estimate:    spec.Estimate,
			DependsOn:   deps,
			CreatedAt:   now,
		})
	}

	g := graph.New()
	if err := g.Build(tasks); err != nil {
		return nil, nil, err
	}
	// Creation time is the final selection tiebreak; stamp it in
	// topological order so a task never reads as older than its
	// dependencies.
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, nil, err
	}
	for i, id := range order {
		g.GetTask(id).CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
	}

	feature := &models.Feature{
		ID:        featureID,
		ProjectID: c.project.ID,
		Name:      plan.Name,
		Branch:    models.FeatureBranchName(featureID, plan.Name),
		Status:    models.FeatureStatusPlanning,
		CreatedAt: now,
	}
	if err := c.db.CreateFeature(feature, tasks); err != nil {
		return nil, nil, err
	}
	c.logger.Log("created feature %s (%s) with %d tasks", feature.ID, feature.Name, len(tasks))
	return feature, tasks, nil
}

// verifyHolder checks that the worker holds an active lease on the task
// and returns both.
func (c *Coordinator) verifyHolder(workerID, taskID string) (*models.Task, *models.Lease, error) {
	task, err := c.db.GetTask(taskID)
	if err != nil {
		return nil, nil, err
	}
	if task == nil {
		return nil, nil, fmt.Errorf("task %s not found", taskID)
	}

	taskLease, err := c.leases.ByTask(taskID)
	if err != nil {
		return nil, nil, err
	}
	if taskLease == nil || !taskLease.Active(time.Now()) || taskLease.HolderID != workerID {
		return nil, nil, fmt.Errorf("%w (worker %s, task %s)", ErrNotLeaseHolder, workerID, taskID)
	}
	return task, taskLease, nil
}

func (c *Coordinator) logArtifact(task *models.Task, workerID string, a *models.Artifact) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.TaskID = task.ID
	a.FeatureID = task.FeatureID
	if a.Phase == "" {
		a.Phase = task.Phase
	}
	if a.CreatedBy == "" {
		a.CreatedBy = workerID
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return c.db.AppendArtifact(a)
}

func (c *Coordinator) logDecision(task *models.Task, workerID string, d *models.Decision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.TaskID = task.ID
	d.FeatureID = task.FeatureID
	if d.Phase == "" {
		d.Phase = task.Phase
	}
	if d.CreatedBy == "" {
		d.CreatedBy = workerID
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	return c.db.AppendDecision(d)
}

// rollupFeature recomputes a feature's lifecycle status from its tasks.
func (c *Coordinator) rollupFeature(featureID string) error {
	feature, err := c.db.GetFeature(featureID)
	if err != nil {
		return err
	}
	if feature == nil {
		return fmt.Errorf("feature %s not found", featureID)
	}

	tasks, err := c.db.ListTasksByFeature(featureID)
	if err != nil {
		return err
	}

	allDone := len(tasks) > 0
	anyStarted := false
	for _, t := range tasks {
		if t.Status != models.TaskStatusDone {
			allDone = false
		}
		if t.Status != models.TaskStatusPending {
			anyStarted = true
		}
	}

	var next models.FeatureStatus
	switch {
	case allDone:
		next = models.FeatureStatusDone
	case anyStarted:
		next = models.FeatureStatusInProgress
	default:
		next = models.FeatureStatusPlanning
	}
	if next == feature.Status {
		return nil
	}
	c.logger.Log("feature %s status %s -> %s", featureID, feature.Status, next)
	return c.db.UpdateFeatureStatus(featureID, next)
}
